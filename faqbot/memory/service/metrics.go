package service

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// maxSamples bounds each latency window; older samples are dropped first.
const maxSamples = 1000

// MetricsCollector collects performance metrics for the request pipeline
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	ingestCount     int64
	ingestedDocs    int64
	retrievalCount  int64
	generationCount int64

	// Latency tracking
	ingestLatency     []time.Duration
	retrievalLatency  []time.Duration
	generationLatency []time.Duration

	// Error tracking
	ingestErrors     int64
	retrievalErrors  int64
	generationErrors int64

	// Index-specific metrics
	indexStats map[string]IndexStats

	// Per-outcome request counts (canned, fallback, generated, error, rate_limited)
	outcomes map[string]int64
}

// IndexStats tracks metrics for individual indexes
type IndexStats struct {
	QueryCount   int64         `json:"query_count"`
	TotalLatency time.Duration `json:"total_latency"`
	ErrorCount   int64         `json:"error_count"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		ingestLatency:     make([]time.Duration, 0, 64),
		retrievalLatency:  make([]time.Duration, 0, maxSamples),
		generationLatency: make([]time.Duration, 0, maxSamples),
		indexStats:        make(map[string]IndexStats),
		outcomes:          make(map[string]int64),
	}
}

// RecordIngest records an ingestion run
func (mc *MetricsCollector) RecordIngest(docs int, duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.ingestCount++
	mc.ingestedDocs += int64(docs)
	mc.ingestLatency = appendSample(mc.ingestLatency, duration)
	if err != nil {
		mc.ingestErrors++
	}
}

// RecordRetrieval records a retrieval operation
func (mc *MetricsCollector) RecordRetrieval(indexName string, duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.retrievalCount++
	mc.retrievalLatency = appendSample(mc.retrievalLatency, duration)

	stats := mc.indexStats[indexName]
	stats.QueryCount++
	stats.TotalLatency += duration
	if err != nil {
		stats.ErrorCount++
		mc.retrievalErrors++
	}
	mc.indexStats[indexName] = stats
}

// RecordGeneration records one call to the language model
func (mc *MetricsCollector) RecordGeneration(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.generationCount++
	mc.generationLatency = appendSample(mc.generationLatency, duration)
	if err != nil {
		mc.generationErrors++
	}
}

// RecordOutcome counts a finished request by outcome
func (mc *MetricsCollector) RecordOutcome(outcome string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.outcomes[outcome]++
}

// GetSummary returns a summary of collected metrics
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsSummary{
		IngestCount:       mc.ingestCount,
		IngestedDocuments: mc.ingestedDocs,
		RetrievalCount:    mc.retrievalCount,
		GenerationCount:   mc.generationCount,
		IngestErrors:      mc.ingestErrors,
		RetrievalErrors:   mc.retrievalErrors,
		GenerationErrors:  mc.generationErrors,
		IndexStats:        maps.Clone(mc.indexStats),
		Outcomes:          maps.Clone(mc.outcomes),
		IngestLatency:     calculatePercentiles(mc.ingestLatency),
		RetrievalLatency:  calculatePercentiles(mc.retrievalLatency),
		GenerationLatency: calculatePercentiles(mc.generationLatency),
	}
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	if len(samples) >= maxSamples {
		samples = append(samples[:0], samples[1:]...)
	}
	return append(samples, d)
}

// calculatePercentiles calculates p50, p95, p99 latencies
func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// MetricsSummary represents a summary of collected metrics
type MetricsSummary struct {
	IngestCount       int64                 `json:"ingest_count"`
	IngestedDocuments int64                 `json:"ingested_documents"`
	RetrievalCount    int64                 `json:"retrieval_count"`
	GenerationCount   int64                 `json:"generation_count"`
	IngestErrors      int64                 `json:"ingest_errors"`
	RetrievalErrors   int64                 `json:"retrieval_errors"`
	GenerationErrors  int64                 `json:"generation_errors"`
	IndexStats        map[string]IndexStats `json:"index_stats"`
	Outcomes          map[string]int64      `json:"outcomes"`
	IngestLatency     LatencyPercentiles    `json:"ingest_latency"`
	RetrievalLatency  LatencyPercentiles    `json:"retrieval_latency"`
	GenerationLatency LatencyPercentiles    `json:"generation_latency"`
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// Reset clears all collected metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.ingestCount = 0
	mc.ingestedDocs = 0
	mc.retrievalCount = 0
	mc.generationCount = 0
	mc.ingestErrors = 0
	mc.retrievalErrors = 0
	mc.generationErrors = 0
	mc.ingestLatency = mc.ingestLatency[:0]
	mc.retrievalLatency = mc.retrievalLatency[:0]
	mc.generationLatency = mc.generationLatency[:0]
	mc.indexStats = make(map[string]IndexStats)
	mc.outcomes = make(map[string]int64)
}
