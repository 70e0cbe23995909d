package ports

import (
	"context"
	"errors"
	"time"

	"PatchDiscovery/internal/domain"
)

var (
	// ErrTransport marks network or non-200 failures; callers retry with backoff.
	ErrTransport = errors.New("transport failure")
	// ErrNotReady is a well-formed "not available yet" answer (HTTP 200, success=false).
	ErrNotReady = errors.New("not ready")
	// ErrMalformedEvent marks a stream event that could not be decoded; the stream stays usable.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrNotResumable is returned by Resume when the server cannot continue the run.
	ErrNotResumable = errors.New("run not resumable")
	// ErrStreamClosed is returned by Next once the server closed the stream.
	ErrStreamClosed = errors.New("stream closed")
)

// EventStream is one open connection to the discovery process.
type EventStream interface {
	// Next blocks until the next event, ctx cancellation, or a connection error.
	Next(ctx context.Context) (domain.Event, error)
	// Ack moves the resume position past the event most recently returned by Next.
	// Events that were read but never acknowledged are delivered again after a reopen.
	Ack()
	Close() error
}

// StreamSource opens ordered event channels per (patch, run).
type StreamSource interface {
	Name() string
	Open(ctx context.Context, patch string, run domain.RunID) (EventStream, error)
}

// MetricsSource reads durable, cumulative totals for a patch.
type MetricsSource interface {
	FetchMetrics(ctx context.Context, patch string) (domain.AuthoritativeSnapshot, error)
}

// RunConfig is forwarded to the server when a run starts.
type RunConfig struct {
	BatchSize           int           `json:"batchSize"`
	AutoLoop            bool          `json:"autoLoop"`
	DelayBetweenBatches time.Duration `json:"-"`
}

// ControlClient fires run-control triggers. Success means "request accepted" only.
type ControlClient interface {
	Start(ctx context.Context, patch string, run domain.RunID, cfg RunConfig) error
	Pause(ctx context.Context, patch string, run domain.RunID) error
	Resume(ctx context.Context, patch string, run domain.RunID) error
	Stop(ctx context.Context, patch string, run domain.RunID) error
}

// ItemLister fetches the current durable item list of a patch.
type ItemLister interface {
	ListItems(ctx context.Context, patch string) ([]domain.DiscoveredItem, error)
}

// DigestPublisher delivers a rendered digest of accepted items.
type DigestPublisher interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler runs a job repeatedly until stopped. The job's error decides the next delay.
type Scheduler interface {
	Start(ctx context.Context, job func(context.Context) error) error
	Stop(ctx context.Context) error
}
