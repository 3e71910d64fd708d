package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"doc-redactor/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		LogLevel:          "error",
		OutputDir:         filepath.Join(dir, "out"),
		PageWorkers:       2,
		DetectorTimeoutMs: 1000,
		NERModels:         map[string]string{"en": "prose"},
		NERCacheFile:      filepath.Join(dir, "ner.db"),
		NERCacheCapacity:  16,
		ImageRedaction:    "blur",
		PatternsFile:      filepath.Join(dir, "patterns.json"),
	}
}

func TestBuild_Detectors(t *testing.T) {
	tests := []struct {
		name string
		ocr  bool
		want []string
	}{
		{"without OCR", false, []string{"regex", "ner"}},
		{"with OCR", true, []string{"regex", "ner", "ocr-classifier"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.OCREnabled = tt.ocr
			a, err := Build(cfg)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := a.Pipeline.Detectors(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("detectors = %v, want %v", got, tt.want)
			}
			if err := a.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if err := a.Close(); err != nil {
				t.Errorf("second Close: %v", err)
			}
			if !a.Registry.Closed() {
				t.Error("registry not closed")
			}
		})
	}
}

func TestBuild_OpensPersistentCache(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	if _, err := os.Stat(cfg.NERCacheFile); err != nil {
		t.Errorf("bolt cache not created: %v", err)
	}
	if a.Pipeline.OutputDir() != cfg.OutputDir {
		t.Errorf("output dir = %q", a.Pipeline.OutputDir())
	}
}

func TestBuild_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.NERModels = map[string]string{"fr": "spacy"}
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error for unknown model backend")
	}
}

func TestBuild_NoModels(t *testing.T) {
	cfg := testConfig(t)
	cfg.NERModels = nil
	cfg.NERCacheFile = ""
	a, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	if got := a.Pipeline.Detectors(); !reflect.DeepEqual(got, []string{"regex"}) {
		t.Errorf("detectors = %v", got)
	}
}

func TestAllowList(t *testing.T) {
	if got := allowList(nil); !got.Has("PERSON") || got.Has("TICKET") {
		t.Errorf("default allow list = %v", got.Sorted())
	}
	got := allowList([]string{"per", "ORG"})
	if !reflect.DeepEqual(got.Sorted(), []string{"ORG", "PERSON"}) {
		t.Errorf("allow list = %v", got.Sorted())
	}
}
