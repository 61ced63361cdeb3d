package stats

import (
	"testing"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

func findCounter(t *testing.T, c *Core, dotted string) float64 {
	t.Helper()
	mfs, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	name := metricName(dotted)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		metrics := mf.GetMetric()
		if len(metrics) == 0 {
			return 0
		}
		return metrics[0].GetCounter().GetValue()
	}
	t.Fatalf("metric %q not found in Gather() output", name)
	return 0
}

func TestCountersIncrement(t *testing.T) {
	c := New()
	c.IncCapsuleCreate()
	c.IncCapsuleCreate()
	c.IncMemoryDedupe()

	if got := findCounter(t, c, CapsuleCreateCount); got != 2 {
		t.Fatalf("capsules.create.n = %v, want 2", got)
	}
	if got := findCounter(t, c, MemoryDedupeCount); got != 1 {
		t.Fatalf("memories.dedupe.n = %v, want 1", got)
	}
}

func TestUploadReapIgnoresZero(t *testing.T) {
	c := New()
	c.IncUploadReap(0)
	c.IncUploadReap(3)

	if got := findCounter(t, c, UploadReapCount); got != 3 {
		t.Fatalf("uploads.reap.n = %v, want 3", got)
	}
}

func TestBlobSizeCounters(t *testing.T) {
	c := New()
	c.AddBlobPutSize(100)
	c.AddBlobPutSize(50)
	c.AddBlobReadSize(30)

	if got := findCounter(t, c, BlobPutSize); got != 150 {
		t.Fatalf("blob.put.size = %v, want 150", got)
	}
	if got := findCounter(t, c, BlobReadSize); got != 30 {
		t.Fatalf("blob.read.size = %v, want 30", got)
	}
}

func TestUploadFinishLatencyObserves(t *testing.T) {
	c := New()
	c.ObserveUploadFinishSeconds(0.5)

	mfs, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	name := metricName(UploadFinishLatency)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 1 {
			t.Fatalf("sample count = %d, want 1", h.GetSampleCount())
		}
		if h.GetSampleSum() != 0.5 {
			t.Fatalf("sample sum = %v, want 0.5", h.GetSampleSum())
		}
		return
	}
	t.Fatalf("metric %q not found", name)
}

func TestErrorsAreLabeledByKind(t *testing.T) {
	c := New()
	c.IncError(cmn.KindNotFound)
	c.IncError(cmn.KindNotFound)
	c.IncError(cmn.KindConflict)

	mfs, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	name := metricName(ErrorCount)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lbl := range m.GetLabel() {
				if lbl.GetName() == "kind" {
					counts[lbl.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts[cmn.KindNotFound.String()] != 2 {
		t.Fatalf("not_found count = %v, want 2", counts[cmn.KindNotFound.String()])
	}
	if counts[cmn.KindConflict.String()] != 1 {
		t.Fatalf("conflict count = %v, want 1", counts[cmn.KindConflict.String()])
	}
}
