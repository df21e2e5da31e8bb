package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-intercom/internal/intercom"
)

// Sink writes every intercom event to the event log and every finished
// call to the call log.
type Sink struct {
	repo Repository
}

// NewSink creates a sink on repo.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Notify implements intercom.Notifier.
func (s *Sink) Notify(ctx context.Context, ev intercom.Event) error {
	meta := ev.Meta()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type(), err)
	}
	if err := s.repo.Record(ctx, &Entry{
		ID:        meta.ID,
		Type:      string(ev.Type()),
		Station:   meta.Station,
		Payload:   payload,
		CreatedAt: meta.Time,
	}); err != nil {
		return err
	}

	changed, ok := ev.(intercom.CallChanged)
	if !ok {
		return nil
	}
	outcome, ended := changed.Outcome()
	if !ended {
		return nil
	}
	return s.repo.RecordCall(ctx, &CallRecord{
		CallID:   changed.CallID,
		Station:  meta.Station,
		Outcome:  outcome,
		Reason:   changed.Reason,
		Duration: changed.Statistics.CurrentDuration,
		EndedAt:  meta.Time,
	})
}
