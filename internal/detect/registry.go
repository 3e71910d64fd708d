package detect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"doc-redactor/internal/langid"
	"doc-redactor/internal/logger"
)

// Registry owns the detectors of a running process. It is built once at
// start-up, shared read-only by every request, and closed explicitly at
// shutdown. Detector order is fixed and defines detection order.
type Registry struct {
	detectors []Detector
	cache     PredictionCache
	closed    atomic.Bool
}

// Options configures NewRegistry.
type Options struct {
	// Patterns feeds the regex detector; nil means the built-in library.
	Patterns LibrarySource
	// Models maps an ISO-639-1 code to a model. Unsafe models are
	// serialized automatically.
	Models map[string]Model
	// Identifier picks the model for a page; required when Models is set.
	Identifier langid.Identifier
	// Allowed restricts NER labels; nil means the canonical set.
	Allowed LabelSet
	// OCRClassifier enables the token-shape detector for image pages.
	OCRClassifier bool
	// Cache, when set, is closed with the registry.
	Cache PredictionCache
	Log   *logger.Logger
}

// NewRegistry builds the detectors: regex first, then NER, then the OCR
// classifier.
func NewRegistry(opts Options) (*Registry, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	src := opts.Patterns
	if src == nil {
		src = DefaultLibrary()
	}
	r := &Registry{cache: opts.Cache}
	r.detectors = append(r.detectors, NewRegexDetector(src))

	if len(opts.Models) > 0 {
		if opts.Identifier == nil {
			return nil, errors.New("detect: models configured without a language identifier")
		}
		models := make(map[string]Model, len(opts.Models))
		for code, m := range opts.Models {
			models[code] = Serialize(m)
		}
		r.detectors = append(r.detectors, NewNerDetector(models, opts.Identifier, opts.Allowed, log))
	}
	if opts.OCRClassifier {
		r.detectors = append(r.detectors, &OcrClassifierDetector{MinConfidence: 0.3})
	}

	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.Name()
	}
	log.Infof("registry_init", "detectors: %s", strings.Join(names, ", "))
	return r, nil
}

// NewRegistryOf wraps explicit detectors, in order.
func NewRegistryOf(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// Detectors returns the detectors in order. It returns nil after Close.
func (r *Registry) Detectors() []Detector {
	if r.closed.Load() {
		return nil
	}
	return append([]Detector(nil), r.detectors...)
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool { return r.closed.Load() }

// Close releases model and cache resources. Later calls are no-ops.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, d := range r.detectors {
		if c, ok := d.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if r.cache != nil {
		errs = append(errs, r.cache.Close())
	}
	return errors.Join(errs...)
}

// BuildModels turns a language -> backend map into models. "prose" selects
// the embedded English tagger; an http(s) URL selects a sidecar. With a
// cache, every model is memoized.
func BuildModels(backends map[string]string, cache PredictionCache, timeout time.Duration) (map[string]Model, error) {
	codes := make([]string, 0, len(backends))
	for code := range backends {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make(map[string]Model, len(backends))
	for _, code := range codes {
		backend := strings.TrimSpace(backends[code])
		var m Model
		switch {
		case backend == "prose":
			m = ProseModel{}
		case strings.HasPrefix(backend, "http://"), strings.HasPrefix(backend, "https://"):
			m = NewSidecarModel(backend, code, timeout)
		default:
			return nil, fmt.Errorf("detect: unknown model backend %q for language %s", backend, code)
		}
		if cache != nil {
			m = WithCache(m, code, cache)
		}
		out[code] = m
	}
	return out, nil
}
