package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	stepsTotal            atomic.Uint64
	stepFailuresTotal     atomic.Uint64
	sectionsApprovedTotal atomic.Uint64
	sectionsFailedTotal   atomic.Uint64
	reviewsSuspendedTotal atomic.Uint64
	reviewsRejectedTotal  atomic.Uint64
	routerInconsistent    atomic.Uint64
	runsCompiledTotal     atomic.Uint64
	runsStartedTotal      atomic.Uint64
	drivesEnqueuedTotal   atomic.Uint64
	workerReceivedTotal   atomic.Uint64
	workerFailedTotal     atomic.Uint64
	workerDroppedTotal    atomic.Uint64

	stepDuration = newHistogram([]float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncStep counts one orchestrator step.
func IncStep() {
	stepsTotal.Add(1)
}

// IncStepFailure counts a step that ended in a run-level error.
func IncStepFailure() {
	stepFailuresTotal.Add(1)
}

// IncSectionApproved counts a section reaching content_approved.
func IncSectionApproved() {
	sectionsApprovedTotal.Add(1)
}

// IncSectionFailed counts a section moving to the error status.
func IncSectionFailed() {
	sectionsFailedTotal.Add(1)
}

// IncReviewSuspended counts an emitted review interrupt.
func IncReviewSuspended() {
	reviewsSuspendedTotal.Add(1)
}

// IncReviewRejected counts a malformed review response.
func IncReviewRejected() {
	reviewsRejectedTotal.Add(1)
}

// IncRouterInconsistent counts degraded compile decisions.
func IncRouterInconsistent() {
	routerInconsistent.Add(1)
}

// IncRunCompiled counts compiled documents.
func IncRunCompiled() {
	runsCompiledTotal.Add(1)
}

// IncRunStarted counts runs created.
func IncRunStarted() {
	runsStartedTotal.Add(1)
}

// IncDriveEnqueued counts drive requests sent to the queue.
func IncDriveEnqueued() {
	drivesEnqueuedTotal.Add(1)
}

// IncWorkerReceived counts queue messages picked up by a worker.
func IncWorkerReceived() {
	workerReceivedTotal.Add(1)
}

// IncWorkerFailed counts messages left on the queue for redelivery.
func IncWorkerFailed() {
	workerFailedTotal.Add(1)
}

// IncWorkerDropped counts unrecoverable messages deleted without processing.
func IncWorkerDropped() {
	workerDroppedTotal.Add(1)
}

// ObserveStepDurationMs records a step duration in milliseconds.
func ObserveStepDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	stepDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "orchestrator_steps_total", "Total orchestrator steps executed", stepsTotal.Load())
	writeCounter(&buf, "orchestrator_step_failures_total", "Total steps ending in a run-level error", stepFailuresTotal.Load())
	writeCounter(&buf, "sections_approved_total", "Total sections approved by a reviewer", sectionsApprovedTotal.Load())
	writeCounter(&buf, "sections_failed_total", "Total sections moved to error", sectionsFailedTotal.Load())
	writeCounter(&buf, "reviews_suspended_total", "Total review interrupts emitted", reviewsSuspendedTotal.Load())
	writeCounter(&buf, "reviews_rejected_total", "Total malformed review responses", reviewsRejectedTotal.Load())
	writeCounter(&buf, "router_inconsistent_total", "Total degraded compile decisions", routerInconsistent.Load())
	writeCounter(&buf, "runs_compiled_total", "Total compiled documents", runsCompiledTotal.Load())
	writeCounter(&buf, "runs_started_total", "Total runs created", runsStartedTotal.Load())
	writeCounter(&buf, "run_drives_enqueued_total", "Total drive requests sent to the queue", drivesEnqueuedTotal.Load())
	writeCounter(&buf, "worker_messages_received_total", "Total queue messages received", workerReceivedTotal.Load())
	writeCounter(&buf, "worker_messages_failed_total", "Total queue messages left for redelivery", workerFailedTotal.Load())
	writeCounter(&buf, "worker_messages_dropped_total", "Total unrecoverable queue messages deleted", workerDroppedTotal.Load())
	writeHistogram(&buf, "orchestrator_step_duration_ms", "Orchestrator step duration in milliseconds", stepDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
