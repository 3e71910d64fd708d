package detect

import (
	"context"
	"fmt"

	"github.com/jdkato/prose/v2"
)

// ProseModel is the embedded English tagger. prose shares tagger state
// between documents, so it declares itself unsafe for concurrent use and
// the registry serializes it.
type ProseModel struct{}

// Predict implements Model.
func (ProseModel) Predict(ctx context.Context, text string) (preds []Prediction, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			preds, err = nil, fmt.Errorf("prose: %v", r)
		}
	}()
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose: %w", err)
	}
	ents := doc.Entities()
	preds = make([]Prediction, 0, len(ents))
	for _, e := range ents {
		preds = append(preds, Prediction{Text: e.Text, Label: e.Label})
	}
	return preds, nil
}

// ConcurrencySafe implements ConcurrencySafe.
func (ProseModel) ConcurrencySafe() bool { return false }
