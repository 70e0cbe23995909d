package policy

import "time"

// Options configure batch continuation.
type Options struct {
	// BatchSize is the number of accepted items per batch. Zero disables batching.
	BatchSize int
	// AutoLoop starts the next batch automatically after DelayBetweenBatches.
	AutoLoop bool
	// DelayBetweenBatches is the minimum wait before an automatic continuation.
	DelayBetweenBatches time.Duration
}

// Action is what the controller should do after an item was accepted.
type Action int

const (
	// Continue keeps the current batch running.
	Continue Action = iota
	// ContinueLater ends the batch and schedules the next one after Decision.Delay.
	ContinueLater
	// Halt ends the batch and waits for a manual restart.
	Halt
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case ContinueLater:
		return "continue_later"
	case Halt:
		return "halt"
	}
	return "unknown"
}

// Decision is the policy verdict for one evaluation.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Batch is advisory: the server enforces its own budget.
type Batch struct {
	opts Options
}

// NewBatch normalizes options into a policy.
func NewBatch(opts Options) Batch {
	if opts.BatchSize < 0 {
		opts.BatchSize = 0
	}
	if opts.DelayBetweenBatches < 0 {
		opts.DelayBetweenBatches = 0
	}
	return Batch{opts: opts}
}

// Options returns the normalized options.
func (b Batch) Options() Options {
	return b.opts
}

// Evaluate is called with the number of items accepted in the current batch.
func (b Batch) Evaluate(batchItems int) Decision {
	if b.opts.BatchSize == 0 || batchItems < b.opts.BatchSize {
		return Decision{Action: Continue}
	}
	if b.opts.AutoLoop {
		return Decision{Action: ContinueLater, Delay: b.opts.DelayBetweenBatches}
	}
	return Decision{Action: Halt}
}
