package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	c.Set("k", []byte("v"))
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Fatalf("Get = %q,%v", v, ok)
	}
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted key still present")
	}
}

func TestBoltCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ner.db")
	c, err := OpenBoltCache(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("en:abc", []byte(`[{"text":"Isaac","label":"PER"}]`))
	c.Set("en:gone", []byte("x"))
	c.Delete("en:gone")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = OpenBoltCache(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if v, ok := c.Get("en:abc"); !ok || len(v) == 0 {
		t.Errorf("entry lost across reopen")
	}
	if _, ok := c.Get("en:gone"); ok {
		t.Error("deleted entry came back")
	}
}

func TestCachedModelSkipsSecondPredict(t *testing.T) {
	inner := &stubModel{preds: []Prediction{{Text: "Isaac", Label: "PER", Confidence: 0.9}}}
	cache := NewMemoryCache()
	m := WithCache(inner, "en", cache)

	for i := 0; i < 3; i++ {
		preds, err := m.Predict(context.Background(), "Isaac met Isaac again")
		if err != nil {
			t.Fatal(err)
		}
		if len(preds) != 1 || preds[0].Text != "Isaac" || preds[0].Confidence != 0.9 {
			t.Fatalf("preds = %+v", preds)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("model called %d times, want 1", n)
	}

	// Same text under another language is a separate entry.
	_, _ = WithCache(inner, "fr", cache).Predict(context.Background(), "Isaac met Isaac again")
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("model called %d times, want 2", n)
	}
}

func TestCachedModelDropsCorruptEntry(t *testing.T) {
	inner := &stubModel{preds: []Prediction{{Text: "Lyon", Label: "LOC"}}}
	cache := NewMemoryCache()
	m := WithCache(inner, "fr", cache)
	cache.Set(m.key("Lyon"), []byte("{not json"))

	preds, err := m.Predict(context.Background(), "Lyon")
	if err != nil || len(preds) != 1 {
		t.Fatalf("preds = %v, err = %v", preds, err)
	}
	if inner.calls.Load() != 1 {
		t.Error("corrupt entry should fall through to the model")
	}
	if raw, _ := cache.Get(m.key("Lyon")); string(raw) == "{not json" {
		t.Error("corrupt entry should be replaced")
	}
}

func newTestFIFO(capacity int) (*s3fifo, PredictionCache, *[]string) {
	backing := NewMemoryCache()
	c := NewBoundedCache(backing, capacity).(*s3fifo)
	var evicted []string
	c.evicted = func(key string) {
		evicted = append(evicted, key)
		backing.Delete(key)
	}
	return c, backing, &evicted
}

func TestS3FIFOBoundsResidentSet(t *testing.T) {
	c, backing, evicted := newTestFIFO(10)
	for i := 0; i < 25; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	if c.Len() != 10 {
		t.Errorf("Len = %d, want 10", c.Len())
	}
	if len(*evicted) != 15 {
		t.Errorf("evicted %d keys, want 15", len(*evicted))
	}
	if _, ok := backing.Get("k0"); ok {
		t.Error("evicted key should be removed from the backing store")
	}
}

func TestS3FIFOKeepsReadKeys(t *testing.T) {
	c, _, evicted := newTestFIFO(10)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	if _, ok := c.Get("k0"); !ok {
		t.Fatal("k0 missing")
	}
	c.Set("k10", []byte("v"))

	if len(*evicted) != 1 || (*evicted)[0] != "k1" {
		t.Fatalf("evicted = %v, want [k1]", *evicted)
	}
	if it := c.items["k0"]; it == nil || !it.main {
		t.Error("k0 should have been promoted to main")
	}

	// k1 is a ghost now: re-inserting it goes straight to main.
	c.Set("k1", []byte("v"))
	if it := c.items["k1"]; it == nil || !it.main {
		t.Error("ghost hit should be admitted to main")
	}
}

func TestS3FIFORewarmsFromBacking(t *testing.T) {
	backing := NewMemoryCache()
	backing.Set("cold", []byte("v"))
	c := NewBoundedCache(backing, 4).(*s3fifo)
	if v, ok := c.Get("cold"); !ok || string(v) != "v" {
		t.Fatalf("Get = %q,%v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("backing hit should become resident")
	}
	c.Delete("cold")
	if _, ok := c.Get("cold"); ok {
		t.Error("Delete should reach the backing store")
	}
}
