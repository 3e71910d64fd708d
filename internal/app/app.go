// Package app wires the configured components into a running pipeline.
// Both binaries start from here so the server and the CLI redact the same way.
package app

import (
	"errors"
	"fmt"

	"doc-redactor/internal/config"
	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/langid"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/metrics"
	"doc-redactor/internal/ocr"
	"doc-redactor/internal/pipeline"
	"doc-redactor/internal/plan"
	"doc-redactor/internal/redact"
)

// App holds the process-wide components. Close it once at shutdown.
type App struct {
	Pipeline *pipeline.Pipeline
	Patterns *detect.PatternRegistry
	Registry *detect.Registry
	Metrics  *metrics.Metrics
}

// Build initializes the detectors, the loader and the pipeline from cfg.
func Build(cfg *config.Config) (*App, error) {
	level := cfg.LogLevel
	log := logger.New("PIPELINE", level)

	cache, err := openCache(cfg, logger.New("CACHE", level))
	if err != nil {
		return nil, err
	}
	models, err := detect.BuildModels(cfg.NERModels, cache, cfg.DetectorTimeout())
	if err != nil {
		return nil, errors.Join(err, cache.Close())
	}

	ident := langid.NewWhatlang(cfg.Languages()...)
	patterns := detect.NewPatternRegistry(cfg.PatternsFile, logger.New("PATTERNS", level))
	registry, err := detect.NewRegistry(detect.Options{
		Patterns:      patterns,
		Models:        models,
		Identifier:    ident,
		Allowed:       allowList(cfg.AllowedLabels),
		OCRClassifier: cfg.OCREnabled,
		Cache:         cache,
		Log:           logger.New("DETECT", level),
	})
	if err != nil {
		return nil, errors.Join(err, cache.Close())
	}

	stopwords, err := detect.LoadStopwords(cfg.StopwordsDir)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stopwords: %w", err), registry.Close())
	}
	if stopwords.Len() > 0 {
		log.Infof("init", "loaded %d stopwords %v from %s", stopwords.Len(), stopwords.Languages(), cfg.StopwordsDir)
	}

	var extractor document.Extractor
	if cfg.OCREnabled {
		extractor = ocr.NewTesseract(cfg.OCRLanguages...)
	}

	m := metrics.New()
	p := pipeline.New(pipeline.Options{
		Loader:          document.NewFileLoader(extractor, logger.New("LOADER", level)),
		Registry:        registry,
		Planner:         plan.NewPlanner(logger.New("PLAN", level)),
		Applier:         redact.NewApplier(redact.ParseMode(cfg.ImageRedaction), logger.New("APPLY", level)),
		Stopwords:       stopwords,
		Identifier:      ident,
		DetectLabels:    detect.NewLabelSet(cfg.DetectLabels...),
		Metrics:         m,
		OutputDir:       cfg.OutputDir,
		Workers:         cfg.PageWorkers,
		DetectorTimeout: cfg.DetectorTimeout(),
		Log:             log,
	})
	return &App{Pipeline: p, Patterns: patterns, Registry: registry, Metrics: m}, nil
}

// Close releases the models and the prediction cache.
func (a *App) Close() error {
	return a.Registry.Close()
}

// openCache returns the bbolt-backed cache when a file is configured, an
// in-memory one otherwise, bounded by the S3-FIFO layer either way.
func openCache(cfg *config.Config, log *logger.Logger) (detect.PredictionCache, error) {
	var backing detect.PredictionCache
	if cfg.NERCacheFile != "" {
		c, err := detect.OpenBoltCache(cfg.NERCacheFile, log)
		if err != nil {
			return nil, fmt.Errorf("open prediction cache: %w", err)
		}
		backing = c
	} else {
		backing = detect.NewMemoryCache()
	}
	if cfg.NERCacheCapacity <= 0 {
		return backing, nil
	}
	return detect.NewBoundedCache(backing, cfg.NERCacheCapacity), nil
}

func allowList(labels []string) detect.LabelSet {
	if len(labels) == 0 {
		return detect.DefaultAllowList()
	}
	return detect.NewLabelSet(labels...)
}
