package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: invoked whenever a worker goroutine or idle callback panics.
// =============================================================================

// PanicHandler is called when a task panics during execution. Implementations
// must be safe for concurrent use; they may be called from many worker
// goroutines at once.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// ownerName identifies the TaskQueue/Semaphore/Event the panic occurred
	// in; workerID identifies the worker goroutine (-1 for a caller-driven
	// Process/Pump call that isn't one of the queue's own spawned workers).
	HandlePanic(ownerName string, workerID int, panicValue any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to standard output.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ownerName string, workerID int, panicValue any, stackTrace []byte) {
	if workerID >= 0 {
		fmt.Printf("[worker %d @ %s] panic: %v\n%s", workerID, ownerName, panicValue, stackTrace)
	} else {
		fmt.Printf("[%s] panic: %v\n%s", ownerName, panicValue, stackTrace)
	}
}

// =============================================================================
// Metrics: optional observability hook, adapted to Prometheus in
// observability/prometheus.
// =============================================================================

// Metrics collects task-dispatch telemetry. All methods must be safe to call
// concurrently and should be cheap; implementations should not block.
type Metrics interface {
	// RecordDispatchDuration records how long a dispatched record took to run.
	RecordDispatchDuration(ownerName string, priority int, d time.Duration)

	// RecordPanic records that a task panicked.
	RecordPanic(ownerName string)

	// RecordQueueDepth records the current wait-queue length.
	RecordQueueDepth(ownerName string, depth int)

	// RecordRejected records that a submission was rejected (e.g. shutdown,
	// already-cancelled token).
	RecordRejected(ownerName string, reason string)

	// RecordClaims records the current claims-in-use for a Semaphore/pool
	// admission gate.
	RecordClaims(ownerName string, claims, maxClaims int)
}

// NilMetrics discards everything. It is the default.
type NilMetrics struct{}

func (NilMetrics) RecordDispatchDuration(string, int, time.Duration) {}
func (NilMetrics) RecordPanic(string)                                {}
func (NilMetrics) RecordQueueDepth(string, int)                      {}
func (NilMetrics) RecordRejected(string, string)                     {}
func (NilMetrics) RecordClaims(string, int, int)                     {}

// =============================================================================
// RejectedHandler: invoked when a submission is turned away.
// =============================================================================

// RejectedHandler is called when a task submission is rejected, e.g. because
// the owning queue is shutting down.
type RejectedHandler interface {
	HandleRejected(ownerName string, reason string)
}

// DefaultRejectedHandler logs rejected submissions.
type DefaultRejectedHandler struct{}

func (h *DefaultRejectedHandler) HandleRejected(ownerName string, reason string) {
	fmt.Printf("[%s] task rejected: %s\n", ownerName, reason)
}

// =============================================================================
// Config: shared, optional configuration for TaskQueue/Semaphore/ResourcePool.
// =============================================================================

// Config holds the optional handlers a TaskQueue (and anything built on one)
// accepts. All fields default to a no-op/stdout-logging implementation.
type Config struct {
	PanicHandler    PanicHandler
	Metrics         Metrics
	RejectedHandler RejectedHandler
	Logger          Logger
}

// DefaultConfig returns a Config with default handlers.
func DefaultConfig() *Config {
	return &Config{
		PanicHandler:    &DefaultPanicHandler{},
		Metrics:         NilMetrics{},
		RejectedHandler: &DefaultRejectedHandler{},
		Logger:          &NoOpLogger{},
	}
}

// WithDefaults returns a copy of c with every nil field replaced by its
// default implementation. A nil receiver returns DefaultConfig().
func (c *Config) WithDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{}
	}
	if out.Metrics == nil {
		out.Metrics = NilMetrics{}
	}
	if out.RejectedHandler == nil {
		out.RejectedHandler = &DefaultRejectedHandler{}
	}
	if out.Logger == nil {
		out.Logger = &NoOpLogger{}
	}
	return &out
}
