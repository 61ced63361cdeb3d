// Package stats tracks in-process counters and latencies for the capsule
// core. Values live only in this process's registry; nothing is served
// over the network and there is no StatsD/HTTP exporter.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

// Naming convention:
//   *.n    - counter
//   *.ns   - latency (seconds, prometheus's native histogram unit)
//   *.size - byte counts
const (
	CapsuleCreateCount = "capsules.create.n"
	CapsuleDeleteCount = "capsules.delete.n"
	MemoryCreateCount  = "memories.create.n"
	MemoryDedupeCount  = "memories.dedupe.n"
	MemoryDeleteCount  = "memories.delete.n"

	UploadBeginCount  = "uploads.begin.n"
	UploadFinishCount = "uploads.finish.n"
	UploadAbortCount  = "uploads.abort.n"
	UploadReapCount   = "uploads.reap.n"

	BlobPutSize  = "blob.put.size"
	BlobReadSize = "blob.read.size"

	UploadFinishLatency = "uploads.finish.ns"

	ErrorCount = "errors.n" // labeled by Kind
)

// Core is the process-wide metrics tracker, registered to its own private
// prometheus.Registry rather than the global DefaultRegisterer, so importing
// this package never accidentally wires up an HTTP /metrics surface.
type Core struct {
	registry *prometheus.Registry

	capsuleCreate prometheus.Counter
	capsuleDelete prometheus.Counter
	memoryCreate  prometheus.Counter
	memoryDedupe  prometheus.Counter
	memoryDelete  prometheus.Counter

	uploadBegin  prometheus.Counter
	uploadFinish prometheus.Counter
	uploadAbort  prometheus.Counter
	uploadReap   prometheus.Counter

	blobPutSize  prometheus.Counter
	blobReadSize prometheus.Counter

	uploadFinishLatency prometheus.Histogram

	errors *prometheus.CounterVec
}

// New builds and registers every metric into a fresh private registry, so
// it may be called any number of times: every facade.Core and every test
// gets its own Core with independent counters.
func New() *Core {
	c := &Core{registry: prometheus.NewRegistry()}

	mk := func(name string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: metricName(name), Help: name})
	}

	c.capsuleCreate = mk(CapsuleCreateCount)
	c.capsuleDelete = mk(CapsuleDeleteCount)
	c.memoryCreate = mk(MemoryCreateCount)
	c.memoryDedupe = mk(MemoryDedupeCount)
	c.memoryDelete = mk(MemoryDeleteCount)
	c.uploadBegin = mk(UploadBeginCount)
	c.uploadFinish = mk(UploadFinishCount)
	c.uploadAbort = mk(UploadAbortCount)
	c.uploadReap = mk(UploadReapCount)
	c.blobPutSize = mk(BlobPutSize)
	c.blobReadSize = mk(BlobReadSize)

	c.uploadFinishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricName(UploadFinishLatency),
		Help:    UploadFinishLatency,
		Buckets: prometheus.DefBuckets,
	})
	c.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName(ErrorCount),
		Help: ErrorCount,
	}, []string{"kind"})

	c.registry.MustRegister(
		c.capsuleCreate, c.capsuleDelete,
		c.memoryCreate, c.memoryDedupe, c.memoryDelete,
		c.uploadBegin, c.uploadFinish, c.uploadAbort, c.uploadReap,
		c.blobPutSize, c.blobReadSize,
		c.uploadFinishLatency, c.errors,
	)
	return c
}

// metricName turns "uploads.finish.ns" into the prometheus-legal
// "uploads_finish_ns", keeping the dotted form as the human-facing name
// (Help text) while satisfying prometheus's identifier rules.
func metricName(dotted string) string {
	out := make([]byte, len(dotted))
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = dotted[i]
		}
	}
	return "capsule_" + string(out)
}

func (c *Core) IncCapsuleCreate() { c.capsuleCreate.Inc() }
func (c *Core) IncCapsuleDelete() { c.capsuleDelete.Inc() }
func (c *Core) IncMemoryCreate()  { c.memoryCreate.Inc() }
func (c *Core) IncMemoryDedupe()  { c.memoryDedupe.Inc() }
func (c *Core) IncMemoryDelete()  { c.memoryDelete.Inc() }

func (c *Core) IncUploadBegin()  { c.uploadBegin.Inc() }
func (c *Core) IncUploadFinish() { c.uploadFinish.Inc() }
func (c *Core) IncUploadAbort()  { c.uploadAbort.Inc() }
func (c *Core) IncUploadReap(n int) {
	if n > 0 {
		c.uploadReap.Add(float64(n))
	}
}

func (c *Core) AddBlobPutSize(n uint64)  { c.blobPutSize.Add(float64(n)) }
func (c *Core) AddBlobReadSize(n uint64) { c.blobReadSize.Add(float64(n)) }

func (c *Core) ObserveUploadFinishSeconds(s float64) { c.uploadFinishLatency.Observe(s) }

func (c *Core) IncError(k cmn.Kind) { c.errors.WithLabelValues(k.String()).Inc() }

// Gather returns the current metric families for introspection (an operator
// CLI subcommand, or a test assertion) without standing up any HTTP
// listener.
func (c *Core) Gather() ([]*dto.MetricFamily, error) {
	mfs, err := c.registry.Gather()
	if err != nil {
		return nil, cmn.WrapInternal(err, "gather stats")
	}
	return mfs, nil
}
