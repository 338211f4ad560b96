package movement

import (
	"context"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
)

func (s *Service) suppressed(opts entities.CallOptions) bool {
	return opts.SuppressNotifications || s.config.SuppressNotifications
}

// notify hands a snapshot of the record to the notifier on its own
// goroutine. Failures are logged and never reach the caller.
func (s *Service) notify(opts entities.CallOptions, record *entities.MovementRecord, previous entities.MovementStatus) {
	if s.notifier == nil || record == nil || s.suppressed(opts) {
		return
	}
	snapshot := *record
	snapshot.Metadata = make(map[string]interface{}, len(record.Metadata))
	for k, v := range record.Metadata {
		snapshot.Metadata[k] = v
	}
	snapshot.EntryIDs = append([]uuid.UUID(nil), record.EntryIDs...)
	event := Event{Record: snapshot, Previous: previous}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.NotifyTimeout)
		defer cancel()
		if err := s.notifier.MovementUpdated(ctx, event); err != nil {
			s.logger.Warn("Movement notification failed",
				"request_id", event.Record.RequestID,
				"status", event.Record.Status,
				"error", err,
			)
		}
	}()
}
