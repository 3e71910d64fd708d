// Command redactor is the document redaction server.
//
// It accepts POST /anonymize requests naming a PDF or a scanned image on the
// local filesystem, detects sensitive entities (regex patterns, statistical
// NER, OCR token shapes), and writes a redacted copy into the output
// directory. POST /label runs detection over plain text.
//
// Usage:
//
//	# Defaults: 127.0.0.1:8090, English NER with the embedded tagger
//	./redactor
//
//	# French NER through a sidecar, persistent prediction cache
//	NER_MODELS=en=prose,fr=http://ner:8001 NER_CACHE_FILE=ner.db ./redactor
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"doc-redactor/internal/api"
	"doc-redactor/internal/app"
	"doc-redactor/internal/config"
	"doc-redactor/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("MAIN", cfg.LogLevel)

	printBanner(cfg)

	// The registry is built once and shared by every request.
	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("init", "%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg, a.Pipeline, a.Patterns, logger.New("API", cfg.LogLevel))
	serveErr := srv.ListenAndServe(ctx)

	if err := a.Close(); err != nil {
		log.Errorf("shutdown", "closing detectors: %v", err)
	}
	if serveErr != nil {
		log.Fatalf("serve", "%v", serveErr)
	}
	log.Info("shutdown", "stopped")
}

func printBanner(cfg *config.Config) {
	models := make([]string, 0, len(cfg.NERModels))
	for _, lang := range cfg.Languages() {
		models = append(models, lang+"="+cfg.NERModels[lang])
	}
	nerModels := strings.Join(models, ", ")
	if nerModels == "" {
		nerModels = "(none, regex only)"
	}
	cache := cfg.NERCacheFile
	if cache == "" {
		cache = "(memory)"
	}
	auth := "off"
	if cfg.ManagementToken != "" {
		auth = "bearer token"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Document Redactor  (Go)                     ║
╚══════════════════════════════════════════════════════╝
  Listen          : %s
  Output dir      : %s
  NER models      : %s
  NER cache       : %s
  OCR             : %v %v
  Image redaction : %s
  Page workers    : %d
  Auth            : %s

  Redact a document:
    curl -X POST http://%s/anonymize -d '{"file_path":"/path/to/file.pdf"}'

  Check status:
    curl http://%s/status
`, cfg.Addr(), cfg.OutputDir,
		nerModels, cache,
		cfg.OCREnabled, cfg.OCRLanguages,
		cfg.ImageRedaction, cfg.PageWorkers, auth,
		cfg.Addr(), cfg.Addr())
}
