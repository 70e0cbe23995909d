package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

// envelope is the JSON shape shared by the SSE data field and long-poll entries.
type envelope struct {
	Type   string                 `json:"type"`
	RunID  domain.RunID           `json:"runId"`
	Item   *domain.DiscoveredItem `json:"item"`
	Stage  domain.Stage           `json:"stage"`
	Delta  *domain.CounterDelta   `json:"delta"`
	Reason string                 `json:"reason"`
}

// Decode turns one wire event into a domain event. kind overrides the
// envelope's type field when non-empty (SSE "event:" line).
// Every decoding problem is reported as ports.ErrMalformedEvent.
func Decode(kind string, data []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedEvent, err)
	}
	if kind = strings.TrimSpace(kind); kind == "" || kind == "message" {
		kind = env.Type
	}
	if env.RunID == domain.NoRun {
		return nil, fmt.Errorf("%w: %s event without runId", ports.ErrMalformedEvent, kind)
	}

	switch domain.EventKind(kind) {
	case domain.KindItemDiscovered, domain.KindItemUpdated:
		if env.Item == nil {
			return nil, fmt.Errorf("%w: %s event without item", ports.ErrMalformedEvent, kind)
		}
		return domain.ItemEvent{
			RunID:   env.RunID,
			Item:    *env.Item,
			Updated: domain.EventKind(kind) == domain.KindItemUpdated,
		}, nil
	case domain.KindStageChanged:
		if env.Stage == domain.StageNone {
			return nil, fmt.Errorf("%w: stage_changed event without stage", ports.ErrMalformedEvent)
		}
		return domain.StageEvent{RunID: env.RunID, Stage: env.Stage}, nil
	case domain.KindCounterDelta:
		if env.Delta == nil {
			return nil, fmt.Errorf("%w: counter_delta event without delta", ports.ErrMalformedEvent)
		}
		return domain.CounterEvent{RunID: env.RunID, Delta: *env.Delta}, nil
	case domain.KindRunCompleted:
		return domain.CompletedEvent{RunID: env.RunID}, nil
	case domain.KindRunFailed:
		return domain.FailedEvent{RunID: env.RunID, Reason: env.Reason}, nil
	}
	return nil, fmt.Errorf("%w: unknown event kind %q", ports.ErrMalformedEvent, kind)
}

// Encode is the inverse of Decode; it is used by test servers and the local SSE feed.
func Encode(ev domain.Event) ([]byte, error) {
	env := envelope{Type: string(ev.Kind()), RunID: ev.Run()}
	switch e := ev.(type) {
	case domain.ItemEvent:
		item := e.Item
		env.Item = &item
	case domain.StageEvent:
		env.Stage = e.Stage
	case domain.CounterEvent:
		delta := e.Delta
		env.Delta = &delta
	case domain.FailedEvent:
		env.Reason = e.Reason
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	return data, nil
}
