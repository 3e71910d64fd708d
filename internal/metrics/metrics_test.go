package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestZeroValue_SnapshotSafe(t *testing.T) {
	var m Metrics
	m.RecordAccepted("PERSON")
	m.RecordDetectorFailure("ner", false)
	s := m.Snapshot()
	if s.Documents.Total != 0 || s.Entities.OtherLabels != 1 || s.Detectors.Other != 1 {
		t.Errorf("unexpected zero-value snapshot %+v", s)
	}
}

func TestDocumentCounters(t *testing.T) {
	m := New()
	m.DocumentsTotal.Add(10)
	m.DocumentsRedacted.Add(6)
	m.DocumentsClean.Add(2)
	m.DocumentsFailed.Add(2)
	m.PagesProcessed.Add(31)
	m.LabelRequests.Add(4)

	s := m.Snapshot().Documents
	want := DocumentSnapshot{Total: 10, Redacted: 6, Clean: 2, Failed: 2, Pages: 31, Labels: 4}
	if s != want {
		t.Errorf("documents = %+v, want %+v", s, want)
	}
}

func TestRecordAccepted(t *testing.T) {
	m := New()
	m.RecordAccepted("EMAIL")
	m.RecordAccepted("EMAIL")
	m.RecordAccepted("PERSON")
	m.RecordAccepted("TICKET")
	m.EntitiesRejected.Add(3)
	m.RegionsPlanned.Add(5)

	s := m.Snapshot().Entities
	if s.Accepted != 4 || s.Rejected != 3 || s.Regions != 5 {
		t.Errorf("entities = %+v", s)
	}
	if s.ByLabel["EMAIL"] != 2 || s.ByLabel["PERSON"] != 1 {
		t.Errorf("byLabel = %v", s.ByLabel)
	}
	if _, present := s.ByLabel["IBAN"]; present {
		t.Error("IBAN should be absent from snapshot when count is 0")
	}
	if s.OtherLabels != 1 {
		t.Errorf("custom labels are counted apart, got %d", s.OtherLabels)
	}
}

func TestRecordDetectorFailure(t *testing.T) {
	m := New()
	m.RecordDetectorFailure("ner", false)
	m.RecordDetectorFailure("ner", true)
	m.RecordDetectorFailure("ner", true)
	m.RecordDetectorFailure("custom", false)

	s := m.Snapshot().Detectors
	if s.Failures["ner"] != 1 || s.Timeouts["ner"] != 2 || s.Other != 1 {
		t.Errorf("detectors = %+v", s)
	}
}

func TestLatencyDimensions(t *testing.T) {
	m := New()
	m.RecordDetectLatency(50 * time.Millisecond)
	m.RecordDetectLatency(150 * time.Millisecond)
	m.RecordDetectLatency(100 * time.Millisecond)
	m.RecordApplyLatency(20 * time.Millisecond)
	m.RecordRequestLatency(300 * time.Millisecond)

	s := m.Snapshot().Latency
	if s.DetectMs.Count != 3 || s.DetectMs.MinMs > 60 || s.DetectMs.MaxMs < 140 {
		t.Errorf("detect = %+v", s.DetectMs)
	}
	if s.DetectMs.MeanMs < 90 || s.DetectMs.MeanMs > 110 {
		t.Errorf("detect mean = %f, want ~100", s.DetectMs.MeanMs)
	}
	if s.ApplyMs.Count != 1 || s.RequestMs.Count != 1 {
		t.Errorf("apply = %+v, request = %+v", s.ApplyMs, s.RequestMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordAccepted("PHONE")
				m.RecordDetectLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	s := m.Snapshot()
	if s.Entities.ByLabel["PHONE"] != 800 || s.Latency.DetectMs.Count != 800 {
		t.Errorf("lost updates: %d accepted, %d samples", s.Entities.ByLabel["PHONE"], s.Latency.DetectMs.Count)
	}
}

func TestSnapshotJSON(t *testing.T) {
	m := New()
	m.RecordAccepted("CARD")
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"documents", "entities", "detectors", "latency", "uptimeSecs"} {
		if _, ok := back[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
}

func TestSnapshot_UptimePositive(t *testing.T) {
	m := New()
	time.Sleep(5 * time.Millisecond)
	if s := m.Snapshot(); s.UptimeSecs <= 0 {
		t.Errorf("UptimeSecs should be positive, got %f", s.UptimeSecs)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		if got := round2(c.input); got != c.want {
			t.Errorf("round2(%f) = %f, want %f", c.input, got, c.want)
		}
	}
}

func TestLatencyStats_Record(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	snap := s.snapshot()
	if snap.Count != 3 || snap.MinMs != 10 || snap.MaxMs != 20 || snap.MeanMs != 15 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLatencyStats_Empty(t *testing.T) {
	var s latencyStats
	if snap := s.snapshot(); snap != (LatencySnapshot{}) {
		t.Errorf("empty stats snapshot should be zero, got %+v", snap)
	}
}
