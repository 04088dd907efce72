package worker

import (
	"context"
	"errors"
	"fmt"

	"villagecash/internal/amqp"
	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/store"
)

// Refresher reloads a village from its backend.
type Refresher interface {
	Refresh(ctx context.Context, village core.VillageRef) (store.Store, error)
}

// SummaryWorker recomputes a village's summary whenever a change event for
// it arrives.
type SummaryWorker struct {
	svc  Refresher
	sink func(context.Context, core.VillageSummary) error
	log  *log.Logger
}

// NewSummaryWorker creates a worker. sink may be nil, in which case the
// summary is only logged.
func NewSummaryWorker(svc Refresher, sink func(context.Context, core.VillageSummary) error, logger *log.Logger) *SummaryWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &SummaryWorker{svc: svc, sink: sink, log: logger.WithComponent(log.ComponentWorker)}
}

// HandleChange processes one change event. Transport failures are returned
// so the message is requeued; anything else is logged and acknowledged.
func (w *SummaryWorker) HandleChange(ctx context.Context, msg *amqp.CollectionChangedMessage) error {
	village := msg.Village()
	w.log.InfoContext(ctx, "Processing change message",
		log.NewFields().WithOperation(msg.Op).WithVillage(village.String(), village.Key()).
			WithRecord(msg.RecordID, msg.Date.String(), -1, -1).ToSlice()...)

	st, err := w.svc.Refresh(ctx, village)
	if err != nil {
		if errors.Is(err, core.ErrTransport) {
			return fmt.Errorf("refresh village %s: %w", village, err)
		}
		w.log.ErrorContext(ctx, "Dropping change message",
			log.NewFields().WithVillage(village.String(), village.Key()).
				WithError(err, log.ErrorTypeValidation).ToSlice()...)
		return nil
	}

	vs := core.VillageSummary{Village: village, Summary: st.Summary()}
	w.log.InfoContext(ctx, "Village summary refreshed",
		log.FieldVillage, village.String(),
		log.FieldRecords, vs.Summary.TotalRecords,
		log.FieldCustomers, vs.Summary.TotalCustomers,
		log.FieldAmountCents, vs.Summary.TotalAmount.Cents)

	if w.sink == nil {
		return nil
	}
	if err := w.sink(ctx, vs); err != nil {
		return fmt.Errorf("deliver summary: %w", err)
	}
	return nil
}
