package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"doc-redactor/internal/document"
	"doc-redactor/internal/langid"
)

type stubModel struct {
	preds []Prediction
	err   error
	calls atomic.Int32
}

func (m *stubModel) Predict(ctx context.Context, _ string) ([]Prediction, error) {
	m.calls.Add(1)
	return m.preds, m.err
}

type unsureIdentifier struct{}

func (unsureIdentifier) Identify(string) (string, bool) { return "", false }

func TestNerDetectorLocatesEveryOccurrence(t *testing.T) {
	model := &stubModel{preds: []Prediction{
		{Text: "Isaac", Label: "PER"},
		{Text: "Isaac", Label: "PER"},
	}}
	d := NewNerDetector(map[string]Model{"en": model}, langid.Fixed("en"), nil, nil)

	ents, err := d.Detect(context.Background(), document.NewPlainPage("Isaac met Isaac again"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 2 {
		t.Fatalf("got %d entities, want 2", len(ents))
	}
	if ents[0].Span != TextSpan(0, 5) || ents[1].Span != TextSpan(10, 15) {
		t.Errorf("spans = %+v, %+v", ents[0].Span, ents[1].Span)
	}
	for _, e := range ents {
		if e.Label != LabelPerson || e.Source != SourceNER || e.Priority != PriorityNER {
			t.Errorf("entity = %+v", e)
		}
	}
}

func TestNerDetectorMapsAndFiltersLabels(t *testing.T) {
	model := &stubModel{preds: []Prediction{
		{Text: "Lyon", Label: "LOC", Confidence: 0.8},
		{Text: "Acme", Label: "ORG"},
		{Text: "Tuesday", Label: "MISC"},
		{Text: "ghost", Label: "PER"}, // not in the text
	}}
	text := "Acme moved to lyon on Tuesday"

	d := NewNerDetector(map[string]Model{"fr": model}, langid.Fixed("fr"), nil, nil)
	ents, err := d.Detect(context.Background(), document.NewPlainPage(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 2 {
		t.Fatalf("got %+v", ents)
	}
	if ents[0].Label != LabelGPE || ents[0].Text != "lyon" || ents[0].Confidence != 0.8 {
		t.Errorf("LOC should map to GPE via a case-insensitive match, got %+v", ents[0])
	}

	onlyPeople := NewNerDetector(map[string]Model{"fr": model}, langid.Fixed("fr"), NewLabelSet("PER"), nil)
	ents, _ = onlyPeople.Detect(context.Background(), document.NewPlainPage(text))
	if len(ents) != 0 {
		t.Errorf("allow-list should drop GPE and ORG, got %+v", ents)
	}
}

func TestNerDetectorDegradesOnUnknownLanguage(t *testing.T) {
	model := &stubModel{preds: []Prediction{{Text: "Isaac", Label: "PER"}}}
	for name, d := range map[string]*NerDetector{
		"unsure":      NewNerDetector(map[string]Model{"en": model}, unsureIdentifier{}, nil, nil),
		"unsupported": NewNerDetector(map[string]Model{"en": model}, langid.Fixed("de"), nil, nil),
	} {
		ents, err := d.Detect(context.Background(), document.NewPlainPage("Isaac ist hier"))
		if err != nil || len(ents) != 0 {
			t.Errorf("%s: got %v, %v; want no entities and no error", name, ents, err)
		}
	}
	if model.calls.Load() != 0 {
		t.Error("model should not be called without a language")
	}
}

func TestNerDetectorPropagatesModelFailure(t *testing.T) {
	model := &stubModel{err: errors.New("model crashed")}
	d := NewNerDetector(map[string]Model{"en": model}, langid.Fixed("en"), nil, nil)
	if _, err := d.Detect(context.Background(), document.NewPlainPage("Isaac")); err == nil {
		t.Error("expected the model error")
	}
}

type slowModel struct {
	safe     bool
	inflight atomic.Int32
	peak     atomic.Int32
}

func (m *slowModel) Predict(ctx context.Context, _ string) ([]Prediction, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil, nil
}

func (m *slowModel) ConcurrencySafe() bool { return m.safe }

func TestSerializeSingleSlot(t *testing.T) {
	inner := &slowModel{}
	m := Serialize(inner)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Predict(context.Background(), "x")
		}()
	}
	wg.Wait()
	if p := inner.peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}

	safe := &slowModel{safe: true}
	if Serialize(safe) != Model(safe) {
		t.Error("concurrency-safe models should not be wrapped")
	}
}

func TestSerializeHonoursCancellation(t *testing.T) {
	m := Serialize(&slowModel{}).(*serialModel)
	m.slot <- struct{}{} // occupy the slot

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Predict(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestCanonicalLabel(t *testing.T) {
	for native, want := range map[string]Label{
		"PER": LabelPerson, "per": LabelPerson, "LOC": LabelGPE, " GPE ": LabelGPE,
		"PHONE_NUMBER": LabelPhone, "ORGANIZATION": LabelOrg,
	} {
		if got, ok := CanonicalLabel(native); !ok || got != want {
			t.Errorf("CanonicalLabel(%q) = %q,%v", native, got, ok)
		}
	}
	if _, ok := CanonicalLabel("MISC"); ok {
		t.Error("MISC is not canonical")
	}
	if NewLabelSet() != nil || !NewLabelSet().Has(LabelCard) {
		t.Error("empty label set should contain everything")
	}
	if s := NewLabelSet("per", "email"); !s.Has(LabelPerson) || s.Has(LabelCard) {
		t.Errorf("set = %v", s.Sorted())
	}
}
