// Package pipeline runs one document through load, detection, conflict
// resolution, planning, application and save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/langid"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/metrics"
	"doc-redactor/internal/plan"
	"doc-redactor/internal/redact"
	"doc-redactor/internal/redacterr"
	"doc-redactor/internal/resolve"
)

// Literal is a caller-supplied entity: every occurrence of Text on every
// page is redacted under Label.
type Literal struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Request describes one anonymization.
type Request struct {
	ID              string
	FilePath        string
	Entities        []Literal
	ForbiddenLabels []string
}

// Result describes a saved redacted document.
type Result struct {
	OutputFile string
	Pages      int
	Regions    int
	Labels     map[detect.Label]int
	Warnings   []resolve.Warning
	Duration   time.Duration
	// FormatNote is set when the output format differs from the input's,
	// e.g. a webp scan written as PNG.
	FormatNote string
}

// Options configures New.
type Options struct {
	Loader    document.Loader
	Registry  *detect.Registry
	Planner   *plan.Planner
	Applier   *redact.Applier
	Stopwords *detect.Stopwords
	// Identifier picks the stopword list for a page; nil skips stopwords.
	Identifier langid.Identifier
	// DetectLabels are the labels redacted from detector output when a
	// request names none; nil means every detected label.
	DetectLabels detect.LabelSet
	Metrics      *metrics.Metrics
	OutputDir    string
	// Workers bounds the pages processed at once; default 4.
	Workers int
	// DetectorTimeout bounds each detector call on a page; 0 disables it.
	DetectorTimeout time.Duration
	Log             *logger.Logger
}

// Pipeline is safe for concurrent use; each call processes one document.
type Pipeline struct {
	opts Options
	log  *logger.Logger
}

// New returns a pipeline. Loader and Registry are required.
func New(opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Planner == nil {
		opts.Planner = plan.NewPlanner(opts.Log.Module("PLAN"))
	}
	if opts.Applier == nil {
		opts.Applier = redact.NewApplier(redact.ModeFill, opts.Log.Module("APPLY"))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	return &Pipeline{opts: opts, log: opts.Log}
}

// Metrics returns the counters the pipeline updates.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.opts.Metrics }

// Detectors lists the registry's detector names in detection order.
func (p *Pipeline) Detectors() []string {
	ds := p.opts.Registry.Detectors()
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return names
}

// OutputDir is where redacted documents are written.
func (p *Pipeline) OutputDir() string { return p.opts.OutputDir }

// Anonymize redacts req.FilePath and writes "<stem>_redacted<ext>" into the
// output directory. Caller-supplied entities replace detection; without
// them every detector runs. Only labels in ForbiddenLabels are redacted.
// With caller entities an empty list redacts nothing; with detection it
// falls back to the DetectLabels option. On any error nothing is written.
func (p *Pipeline) Anonymize(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := p.log
	if req.ID != "" {
		log = log.With(req.ID)
	}
	if strings.TrimSpace(req.FilePath) == "" {
		return Result{}, redacterr.Invalid("file_path is required")
	}
	m := p.opts.Metrics
	m.DocumentsTotal.Add(1)

	res, err := p.anonymize(ctx, log, req)
	res.Duration = time.Since(start)
	m.RecordRequestLatency(res.Duration)
	if err != nil {
		m.DocumentsFailed.Add(1)
		log.Errorf("anonymize", "%s: %v", req.FilePath, detail(err))
		return Result{}, err
	}
	if res.Regions == 0 {
		m.DocumentsClean.Add(1)
	} else {
		m.DocumentsRedacted.Add(1)
	}
	log.Infof("anonymize", "%d page(s), %d region(s), %d warning(s) in %dms -> %s",
		res.Pages, res.Regions, len(res.Warnings), res.Duration.Milliseconds(), res.OutputFile)
	return res, nil
}

func (p *Pipeline) anonymize(ctx context.Context, log *logger.Logger, req Request) (Result, error) {
	doc, err := p.opts.Loader.Load(ctx, req.FilePath)
	if err != nil {
		return Result{}, err
	}
	pl, warnings, err := p.buildPlan(ctx, log, doc, req.Entities, p.redactSet(req.Entities, req.ForbiddenLabels))
	if err != nil {
		return Result{}, err
	}

	applyStart := time.Now()
	rd, err := p.opts.Applier.Apply(ctx, doc, pl)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, redacterr.Cancelled(err)
	}
	out, err := redact.Save(rd, p.opts.OutputDir)
	if err != nil {
		return Result{}, err
	}
	p.opts.Metrics.RecordApplyLatency(time.Since(applyStart))

	return Result{
		OutputFile: out,
		Pages:      len(doc.Pages),
		Regions:    len(rd.Regions),
		Labels:     pl.Labels(),
		Warnings:   warnings,
		FormatNote: formatNote(doc.Ext(), out),
	}, nil
}

func formatNote(inExt, out string) string {
	outExt := filepath.Ext(out)
	if inExt == "" || strings.EqualFold(inExt, outExt) {
		return ""
	}
	return fmt.Sprintf("%s input written as %s", strings.ToLower(inExt), outExt)
}

// DetectAndPlan runs detection on doc and returns the plan Anonymize would
// apply, without applying it.
func (p *Pipeline) DetectAndPlan(ctx context.Context, doc *document.Document, forbidden []string) (*plan.Plan, error) {
	pl, _, err := p.buildPlan(ctx, p.log, doc, nil, p.redactSet(nil, forbidden))
	return pl, err
}

// redactSet is the set of labels a request redacts. Named labels always
// win. Caller entities with no labels named redact nothing; detection falls
// back to DetectLabels.
func (p *Pipeline) redactSet(entities []Literal, forbidden []string) detect.LabelSet {
	if len(forbidden) > 0 {
		if s := detect.NewLabelSet(forbidden...); s != nil {
			return s
		}
		return detect.LabelSet{}
	}
	if len(entities) > 0 {
		return detect.LabelSet{}
	}
	return p.opts.DetectLabels
}

// Label runs detection and resolution over free text and returns the
// accepted entities in position order.
func (p *Pipeline) Label(ctx context.Context, text string) ([]detect.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, redacterr.Invalid("text is required")
	}
	p.opts.Metrics.LabelRequests.Add(1)
	page := document.NewPlainPage(text)
	accepted, _, err := p.processPage(ctx, p.log, page, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, redacterr.Cancelled(err)
	}
	return accepted, nil
}

type pageResult struct {
	accepted []detect.Entity
	warnings []resolve.Warning
	err      error
}

// buildPlan processes pages on a bounded worker pool. Results are stored
// by page index so completion order never matters.
func (p *Pipeline) buildPlan(ctx context.Context, log *logger.Logger, doc *document.Document, literals []Literal, forbidden detect.LabelSet) (*plan.Plan, []resolve.Warning, error) {
	if p.opts.Registry.Closed() {
		return nil, nil, errors.New("pipeline: detector registry is closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]pageResult, len(doc.Pages))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(p.opts.Workers, len(doc.Pages)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				r := &results[i]
				r.accepted, r.warnings, r.err = p.processPage(ctx, log, doc.Pages[i], literals, forbidden)
				if r.err != nil {
					cancel()
				}
			}
		}()
	}
feed:
	for i := range doc.Pages {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	accepted := make(map[int][]detect.Entity, len(doc.Pages))
	var warnings []resolve.Warning
	for i, r := range results {
		if r.err != nil {
			return nil, nil, r.err
		}
		accepted[doc.Pages[i].Index] = r.accepted
		warnings = append(warnings, r.warnings...)
	}
	// Checked after the join so a cancelled request never yields a plan
	// built from a subset of pages.
	if err := ctx.Err(); err != nil {
		return nil, nil, redacterr.Cancelled(context.Cause(ctx))
	}

	pl := p.opts.Planner.Build(doc, accepted)
	p.opts.Metrics.RegionsPlanned.Add(int64(pl.Count()))
	p.opts.Metrics.PagesProcessed.Add(int64(len(doc.Pages)))
	log.Debugf("plan", "%d region(s) over %d page(s)", pl.Count(), len(doc.Pages))
	return pl, warnings, nil
}

// processPage resolves one page. Caller-supplied literals are located on
// the page and used as-is; otherwise every registered detector runs.
// Candidates outside forbidden are dropped before resolution so a span
// that is not to be redacted cannot hide one that is. A nil forbidden
// keeps every label.
func (p *Pipeline) processPage(ctx context.Context, log *logger.Logger, page *document.Page, literals []Literal, forbidden detect.LabelSet) ([]detect.Entity, []resolve.Warning, error) {
	m := p.opts.Metrics
	var (
		cands    []detect.Entity
		warnings []resolve.Warning
	)
	if len(literals) > 0 {
		cands = locate(page, literals)
	} else {
		start := time.Now()
		cands, warnings = resolve.Collect(ctx, p.opts.Registry.Detectors(), page, p.opts.DetectorTimeout, log)
		m.RecordDetectLatency(time.Since(start))
		for _, w := range warnings {
			m.RecordDetectorFailure(w.Detector, w.Timeout)
		}
		cands = p.opts.Stopwords.Filter(p.pageLanguage(page), cands)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, redacterr.Cancelled(err)
	}

	found := len(cands)
	cands = filterLabels(cands, forbidden)
	res := resolve.Resolve(page, cands)
	m.EntitiesRejected.Add(int64(len(res.Rejected)))
	for _, e := range res.Accepted {
		m.RecordAccepted(string(e.Label))
	}
	log.Debugf("resolve", "page %d: %d candidate(s), %d forbidden, %d accepted", page.Index, found, len(cands), len(res.Accepted))
	return res.Accepted, warnings, nil
}

func filterLabels(ents []detect.Entity, keep detect.LabelSet) []detect.Entity {
	if keep == nil {
		return ents
	}
	out := ents[:0:0]
	for _, e := range ents {
		if keep.Has(e.Label) {
			out = append(out, e)
		}
	}
	return out
}

// pageLanguage is the language whose stopwords apply to page, "" when it
// cannot be told.
func (p *Pipeline) pageLanguage(page *document.Page) string {
	if p.opts.Identifier == nil || p.opts.Stopwords.Len() == 0 {
		return ""
	}
	// A reliably detected language without a model still has stopwords.
	code, _ := p.opts.Identifier.Identify(page.Text)
	return code
}

// locate places every occurrence of each literal on the page.
func locate(page *document.Page, literals []Literal) []detect.Entity {
	var out []detect.Entity
	for _, lit := range literals {
		label, ok := detect.CanonicalLabel(lit.Label)
		if !ok {
			label = detect.Label(strings.ToUpper(strings.TrimSpace(lit.Label)))
		}
		for _, occ := range document.Occurrences(page, lit.Text) {
			out = append(out, detect.Entity{
				Span:     detect.TextSpan(occ[0], occ[1]),
				Text:     page.Slice(occ[0], occ[1]),
				Label:    label,
				Source:   detect.SourceRequest,
				Priority: detect.PriorityRequest,
				Order:    len(out),
			})
		}
	}
	return out
}

func detail(err error) string {
	var re *redacterr.Error
	if errors.As(err, &re) {
		return re.Detail()
	}
	return fmt.Sprint(err)
}
