package domain

// EventKind names the wire kind of a stream event.
type EventKind string

const (
	KindItemDiscovered EventKind = "item_discovered"
	KindItemUpdated    EventKind = "item_updated"
	KindStageChanged   EventKind = "stage_changed"
	KindCounterDelta   EventKind = "counter_delta"
	KindRunCompleted   EventKind = "run_completed"
	KindRunFailed      EventKind = "run_failed"
)

// Event is one ordered message from the server-side discovery process.
type Event interface {
	Run() RunID
	Kind() EventKind
}

// ItemEvent reports a discovered or updated item.
type ItemEvent struct {
	RunID   RunID
	Item    DiscoveredItem
	Updated bool
}

func (e ItemEvent) Run() RunID { return e.RunID }

func (e ItemEvent) Kind() EventKind {
	if e.Updated {
		return KindItemUpdated
	}
	return KindItemDiscovered
}

// StageEvent reports that the run entered a new stage.
type StageEvent struct {
	RunID RunID
	Stage Stage
}

func (e StageEvent) Run() RunID      { return e.RunID }
func (e StageEvent) Kind() EventKind { return KindStageChanged }

// CounterEvent carries live counter increments.
type CounterEvent struct {
	RunID RunID
	Delta CounterDelta
}

func (e CounterEvent) Run() RunID      { return e.RunID }
func (e CounterEvent) Kind() EventKind { return KindCounterDelta }

// CompletedEvent signals the server finished the run.
type CompletedEvent struct {
	RunID RunID
}

func (e CompletedEvent) Run() RunID      { return e.RunID }
func (e CompletedEvent) Kind() EventKind { return KindRunCompleted }

// FailedEvent signals a run-level pipeline failure.
type FailedEvent struct {
	RunID  RunID
	Reason string
}

func (e FailedEvent) Run() RunID      { return e.RunID }
func (e FailedEvent) Kind() EventKind { return KindRunFailed }
