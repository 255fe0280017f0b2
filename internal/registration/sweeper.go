package registration

import (
	"context"
	"fmt"
	"time"

	"accounts/internal/cqrs"
	id "accounts/pkg/domain"
)

const defaultSweepBatch = 100

// DeadlineSweeper turns runs past their deadline into RunDeadlineExceeded
// events. A run that is still pending on the next sweep is reported again; the
// sagas drop the duplicate because its deadline no longer matches.
type DeadlineSweeper struct {
	runs  RunStore
	batch int
}

func NewDeadlineSweeper(runs RunStore, batch int) *DeadlineSweeper {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &DeadlineSweeper{runs: runs, batch: batch}
}

func (s *DeadlineSweeper) Sweep(ctx context.Context, now time.Time) ([]cqrs.Event, error) {
	expired, err := s.runs.Expired(ctx, now, s.batch)
	if err != nil {
		return nil, fmt.Errorf("list expired runs: %w", err)
	}
	events := make([]cqrs.Event, 0, len(expired))
	for _, r := range expired {
		events = append(events, cqrs.Event{
			ID:            id.NewEventID(),
			Type:          EvtRunDeadlineExceeded,
			AggregateID:   r.CorrelationID.String(),
			CorrelationID: r.CorrelationID,
			OccurredAt:    now,
			Payload: RunDeadlineExceeded{
				CorrelationID: r.CorrelationID,
				Saga:          r.Saga,
				Deadline:      r.Deadline,
			},
		})
	}
	return events, nil
}
