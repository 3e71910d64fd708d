// Package resolve merges the candidates of every detector for a page into
// one pairwise non-overlapping entity set.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/redacterr"
)

// Warning records a detector whose contribution for a page was dropped.
type Warning struct {
	Detector string
	Page     int
	// Timeout is set when the detector exceeded its own deadline, as
	// opposed to the request being cancelled.
	Timeout bool
	Err     error
}

type outcome struct {
	ents []detect.Entity
	err  error
}

// Collect runs every detector on p concurrently, each under its own
// timeout (0 disables it). A detector that errs, panics or times out
// contributes nothing and yields a Warning. Results are concatenated in
// detector order, whatever the completion order, and numbered through
// Entity.Order.
func Collect(ctx context.Context, detectors []detect.Detector, p *document.Page, timeout time.Duration, log *logger.Logger) ([]detect.Entity, []Warning) {
	if log == nil {
		log = logger.Nop()
	}
	results := make([]outcome, len(detectors))

	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runOne(ctx, d, p, timeout)
		}()
	}
	wg.Wait()

	var (
		all      []detect.Entity
		warnings []Warning
	)
	for i, d := range detectors {
		res := results[i]
		if res.err != nil {
			w := Warning{
				Detector: d.Name(),
				Page:     p.Index,
				Timeout:  errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil,
				Err:      redacterr.DetectorFailed(d.Name(), p.Index, res.err),
			}
			warnings = append(warnings, w)
			log.Warnf("detector_failed", "page %d: %s: %v", p.Index, d.Name(), res.err)
			continue
		}
		for _, e := range res.ents {
			e.Order = len(all)
			all = append(all, e)
		}
	}
	return all, warnings
}

// runOne calls d and stops waiting at the deadline even if d ignores its
// context; a late result is discarded.
func runOne(ctx context.Context, d detect.Detector, p *document.Page, timeout time.Duration) outcome {
	dctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		ents, err := d.Detect(dctx, p)
		done <- outcome{ents: ents, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-dctx.Done():
		return outcome{err: dctx.Err()}
	}
}
