// Package config loads and holds the redactor configuration.
// Settings come from built-in defaults, then a .env file (best effort), then
// redactor-config.json, then environment variables; later sources win.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"doc-redactor/internal/logger"
)

// FileName is the optional JSON config file read from the working directory.
const FileName = "redactor-config.json"

var log = logger.New("CONFIG", "info")

// Config holds the full redactor configuration.
type Config struct {
	BindAddress     string `json:"bindAddress"`
	Port            int    `json:"port"`
	ManagementToken string `json:"managementToken"`
	MaxConnections  int    `json:"maxConnections"`
	MaxRequestBytes int64  `json:"maxRequestBytes"`
	LogLevel        string `json:"logLevel"`

	OutputDir         string `json:"outputDir"`
	PageWorkers       int    `json:"pageWorkers"`
	DetectorTimeoutMs int    `json:"detectorTimeoutMs"`
	RequestTimeoutMs  int    `json:"requestTimeoutMs"`

	// NERModels maps an ISO-639-1 code to a model backend: "prose" for the
	// embedded English tagger, or the base URL of a /classify sidecar.
	NERModels        map[string]string `json:"nerModels"`
	NERCacheFile     string            `json:"nerCacheFile"`
	NERCacheCapacity int               `json:"nerCacheCapacity"`

	OCREnabled   bool     `json:"ocrEnabled"`
	OCRLanguages []string `json:"ocrLanguages"`

	// ImageRedaction is "fill" or "blur".
	ImageRedaction string   `json:"imageRedaction"`
	PatternsFile   string   `json:"patternsFile"`
	StopwordsDir   string   `json:"stopwordsDir"`
	AllowedLabels  []string `json:"allowedLabels"`
	// DetectLabels are redacted from detector output when a request names
	// no labels; empty means every detected label.
	DetectLabels []string `json:"detectLabels"`
}

// Load returns config with defaults overridden by .env, the JSON file and env vars.
func Load() *Config {
	cfg := defaults()
	if err := godotenv.Load(); err == nil {
		log.Info("dotenv", "loaded .env")
	}
	loadFile(cfg, FileName)
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		BindAddress:       "127.0.0.1",
		Port:              8090,
		MaxConnections:    64,
		MaxRequestBytes:   1 << 20,
		LogLevel:          "info",
		OutputDir:         "output",
		PageWorkers:       4,
		DetectorTimeoutMs: 10_000,
		RequestTimeoutMs:  120_000,
		NERModels:         map[string]string{"en": "prose"},
		NERCacheCapacity:  5000,
		OCREnabled:        true,
		OCRLanguages:      []string{"eng", "fra"},
		ImageRedaction:    "fill",
		PatternsFile:      "custom-patterns.json",
	}
}

// Addr is the host:port the API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// DetectorTimeout bounds a single detector call on a single page.
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.DetectorTimeoutMs) * time.Millisecond
}

// RequestTimeout bounds a whole /anonymize request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Languages returns the configured NER languages in sorted order.
func (c *Config) Languages() []string {
	out := make([]string, 0, len(c.NERModels))
	for lang := range c.NERModels {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from trusted config
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Warnf("load_file", "could not parse %s: %v", path, err)
		return
	}
	log.Infof("load_file", "loaded %s", path)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	envInt("REDACTOR_PORT", &cfg.Port)
	envInt("MAX_CONNECTIONS", &cfg.MaxConnections)
	envInt("PAGE_WORKERS", &cfg.PageWorkers)
	envInt("DETECTOR_TIMEOUT_MS", &cfg.DetectorTimeoutMs)
	envInt("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMs)
	envInt("NER_CACHE_CAPACITY", &cfg.NERCacheCapacity)
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("NER_MODELS"); v != "" {
		if models := parseModels(v); len(models) > 0 {
			cfg.NERModels = models
		} else {
			log.Warnf("load_env", "ignoring malformed NER_MODELS %q", v)
		}
	}
	if v := os.Getenv("NER_CACHE_FILE"); v != "" {
		cfg.NERCacheFile = v
	}
	if v := os.Getenv("OCR_ENABLED"); v == "false" {
		cfg.OCREnabled = false
	}
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		cfg.OCRLanguages = splitList(v)
	}
	if v := strings.ToLower(os.Getenv("IMAGE_REDACTION")); v == "fill" || v == "blur" {
		cfg.ImageRedaction = v
	}
	if v := os.Getenv("PATTERNS_FILE"); v != "" {
		cfg.PatternsFile = v
	}
	if v := os.Getenv("STOPWORDS_DIR"); v != "" {
		cfg.StopwordsDir = v
	}
	if v := os.Getenv("ALLOWED_LABELS"); v != "" {
		cfg.AllowedLabels = splitList(strings.ToUpper(v))
	}
	if v := os.Getenv("DETECT_LABELS"); v != "" {
		cfg.DetectLabels = splitList(strings.ToUpper(v))
	}
}

// envInt overwrites *dst with a positive integer from the environment.
// Unparseable or non-positive values are ignored.
func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warnf("load_env", "ignoring %s=%q", key, v)
		return
	}
	*dst = n
}

// parseModels reads "en=prose,fr=http://ner:8001".
func parseModels(s string) map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(s) {
		lang, backend, ok := strings.Cut(item, "=")
		lang, backend = strings.ToLower(strings.TrimSpace(lang)), strings.TrimSpace(backend)
		if !ok || lang == "" || backend == "" {
			continue
		}
		out[lang] = backend
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
