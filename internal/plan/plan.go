// Package plan turns resolved entities into page regions to obscure.
package plan

import (
	"errors"
	"sort"
	"sync/atomic"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
)

// ErrConsumed is returned when a plan is applied a second time.
var ErrConsumed = errors.New("plan: already applied")

// Region is one opaque rectangle on a page.
type Region struct {
	Page    int           `json:"page"`
	Box     document.BBox `json:"box"`
	Label   detect.Label  `json:"label"`
	Literal string        `json:"-"`
}

// Plan maps page indexes to their regions. A Plan is built once per
// document and applied once.
type Plan struct {
	Kind  document.Kind
	Pages map[int][]Region

	consumed atomic.Bool
}

// New returns an empty plan.
func New(kind document.Kind) *Plan {
	return &Plan{Kind: kind, Pages: make(map[int][]Region)}
}

// Regions returns the regions of page i.
func (p *Plan) Regions(i int) []Region { return p.Pages[i] }

// Count is the total number of regions.
func (p *Plan) Count() int {
	n := 0
	for _, rs := range p.Pages {
		n += len(rs)
	}
	return n
}

// Empty reports whether the plan has no regions.
func (p *Plan) Empty() bool { return p.Count() == 0 }

// Labels counts regions per label.
func (p *Plan) Labels() map[detect.Label]int {
	out := make(map[detect.Label]int)
	for _, rs := range p.Pages {
		for _, r := range rs {
			out[r.Label]++
		}
	}
	return out
}

// All returns every region ordered by page, then position.
func (p *Plan) All() []Region {
	idx := make([]int, 0, len(p.Pages))
	for i := range p.Pages {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	var out []Region
	for _, i := range idx {
		out = append(out, p.Pages[i]...)
	}
	return out
}

// Consume marks the plan applied. It fails on every call after the first.
func (p *Plan) Consume() error {
	if !p.consumed.CompareAndSwap(false, true) {
		return ErrConsumed
	}
	return nil
}

func (p *Plan) add(page int, rs []Region) {
	if len(rs) > 0 {
		p.Pages[page] = rs
	}
}

// sortRegions orders regions top-to-bottom, then left-to-right.
func sortRegions(rs []Region) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].Box, rs[j].Box
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}
