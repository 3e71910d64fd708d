// Package api is the HTTP surface of the redactor.
//
// Endpoints:
//
//	POST /anonymize        - redact a document {"file_path":"...","entities":[...],"forbidden_labels":[...]}
//	POST /label            - detect entities in text {"text":"..."}
//	GET  /status           - health, detectors and output directory
//	GET  /metrics          - counters and latencies
//	GET  /patterns         - custom patterns
//	POST /patterns/add     - add a custom pattern {"name":"...","regex":"...","label":"..."}
//	POST /patterns/remove  - remove a custom pattern {"name":"..."}
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"doc-redactor/internal/config"
	"doc-redactor/internal/detect"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/pipeline"
	"doc-redactor/internal/redacterr"
)

var encodeLog = logger.New("API", "error")

// maxPatternBody bounds the /patterns/* request bodies.
const maxPatternBody = 4096

// Server is the redactor API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	pipeline  *pipeline.Pipeline
	patterns  *detect.PatternRegistry // nil = patterns endpoints disabled
	token     string                  // bearer token for auth; empty = no auth
	log       *logger.Logger
}

// New creates an API server.
func New(cfg *config.Config, p *pipeline.Pipeline, patterns *detect.PatternRegistry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		pipeline:  p,
		patterns:  patterns,
		token:     cfg.ManagementToken,
		log:       log,
	}
	if s.token != "" {
		log.Info("init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/anonymize", s.handleAnonymize)
	mux.HandleFunc("/label", s.handleLabel)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/patterns", s.handlePatterns)
	mux.HandleFunc("/patterns/add", s.handleAddPattern)
	mux.HandleFunc("/patterns/remove", s.handleRemovePattern)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type anonymizeRequest struct {
	FilePath        string             `json:"file_path"`
	Entities        []pipeline.Literal `json:"entities"`
	ForbiddenLabels []string           `json:"forbidden_labels"`
}

type anonymizeResponse struct {
	Message    string         `json:"message"`
	OutputFile string         `json:"output_file"`
	DurationMs int64          `json:"duration_ms"`
	Pages      int            `json:"pages"`
	Regions    int            `json:"regions"`
	Labels     map[string]int `json:"labels,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	id := requestID(w)
	log := s.log.With(id)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()
	res, err := s.pipeline.Anonymize(ctx, pipeline.Request{
		ID:              id,
		FilePath:        req.FilePath,
		Entities:        req.Entities,
		ForbiddenLabels: req.ForbiddenLabels,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	msg := "document redacted"
	if res.FormatNote != "" {
		msg += " (" + res.FormatNote + ")"
	}
	resp := anonymizeResponse{
		Message:    msg,
		OutputFile: res.OutputFile,
		DurationMs: res.Duration.Milliseconds(),
		Pages:      res.Pages,
		Regions:    res.Regions,
	}
	if len(res.Labels) > 0 {
		resp.Labels = make(map[string]int, len(res.Labels))
		for l, n := range res.Labels {
			resp.Labels[string(l)] = n
		}
	}
	for _, wn := range res.Warnings {
		resp.Warnings = append(resp.Warnings, warningText(wn.Detector, wn.Page, wn.Timeout))
	}
	log.Debugf("anonymize", "responded with %d region(s)", resp.Regions)
	writeJSON(w, http.StatusOK, resp)
}

type labelEntity struct {
	Text   string `json:"text"`
	Label  string `json:"label"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Source string `json:"source"`
}

type labelResponse struct {
	ExtractedText string        `json:"extracted_text"`
	Entities      []labelEntity `json:"entities"`
}

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	requestID(w)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	var req struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil {
		writeError(w, http.StatusBadRequest, "invalid request: need {\"text\":\"...\"}")
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()
	ents, err := s.pipeline.Label(ctx, *req.Text)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := labelResponse{ExtractedText: *req.Text, Entities: make([]labelEntity, 0, len(ents))}
	for _, e := range ents {
		resp.Entities = append(resp.Entities, labelEntity{
			Text: e.Text, Label: string(e.Label), Start: e.Start, End: e.End, Source: e.Source,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		Port           int      `json:"port"`
		OutputDir      string   `json:"outputDir"`
		Detectors      []string `json:"detectors"`
		Languages      []string `json:"nerLanguages"`
		OCR            bool     `json:"ocrEnabled"`
		ImageRedaction string   `json:"imageRedaction"`
		CustomPatterns int      `json:"customPatterns"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		Port:           s.cfg.Port,
		OutputDir:      s.pipeline.OutputDir(),
		Detectors:      s.pipeline.Detectors(),
		Languages:      s.cfg.Languages(),
		OCR:            s.cfg.OCREnabled,
		ImageRedaction: s.cfg.ImageRedaction,
	}
	if s.patterns != nil {
		resp.CustomPatterns = len(s.patterns.Custom())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Metrics().Snapshot())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if s.patterns == nil {
		writeError(w, http.StatusServiceUnavailable, "custom patterns not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"builtin": detect.BuiltinNames(),
		"custom":  s.patterns.Custom(),
	})
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.patterns == nil {
		writeError(w, http.StatusServiceUnavailable, "custom patterns not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPatternBody)
	var req detect.Pattern
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Expr == "" {
		writeError(w, http.StatusBadRequest, "invalid request: need {\"name\":\"...\",\"regex\":\"...\"}")
		return
	}
	added, err := s.patterns.Add(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Infof("patterns", "added custom pattern %s (%s)", added.Name, added.Label)
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.patterns == nil {
		writeError(w, http.StatusServiceUnavailable, "custom patterns not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPatternBody)
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid request: need {\"name\":\"...\"}")
		return
	}
	if !s.patterns.Remove(req.Name) {
		writeError(w, http.StatusNotFound, "no custom pattern named "+req.Name)
		return
	}
	s.log.Infof("patterns", "removed custom pattern %s", req.Name)
	writeJSON(w, http.StatusOK, map[string]string{"removed": req.Name})
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.RequestTimeout(); d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// requestID tags the response with a fresh v4 UUID.
func requestID(w http.ResponseWriter) string {
	id := uuid.NewString()
	w.Header().Set("X-Request-ID", id)
	return id
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch redacterr.KindOf(err) {
	case redacterr.KindInvalidRequest:
		return http.StatusBadRequest
	case redacterr.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func warningText(detector string, page int, timeout bool) string {
	if timeout {
		return fmt.Sprintf("%s timed out on page %d", detector, page+1)
	}
	return fmt.Sprintf("%s failed on page %d", detector, page+1)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		encodeLog.Errorf("write_json", "JSON encode error: %v", err)
	}
}

// Serve accepts connections on ln, at most MaxConnections at a time, until
// ctx is cancelled; it then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ListenAndServe starts the API on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.log.Infof("listen", "listening on %s (max %d connections)", s.cfg.Addr(), s.cfg.MaxConnections)
	return s.Serve(ctx, ln)
}
