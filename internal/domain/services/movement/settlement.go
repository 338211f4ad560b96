package movement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reimbursement"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// ApproveWithdraw releases a withdrawal held for admin review and requests
// its payout. Approving a withdrawal that already left review is a no-op.
func (s *Service) ApproveWithdraw(ctx context.Context, requestID, approvedBy string, opts entities.CallOptions) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ApproveWithdraw")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("approve_withdraw", start, err) }(time.Now())
	span.SetAttributes(attribute.String("request_id", requestID))

	var record *entities.MovementRecord
	var approved bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		current, err := s.lockWithdraw(ctx, tx, requestID)
		if err != nil {
			return err
		}
		record = current
		switch current.Status {
		case entities.MovementStatusPending, entities.MovementStatusCompleted:
			return nil
		case entities.MovementStatusPendingAdminReview:
		default:
			return domainerrors.InvalidTransitionError(requestID, string(current.Status), string(entities.MovementStatusPending))
		}

		from := current.Status
		if err := current.TransitionTo(entities.MovementStatusPending); err != nil {
			return domainerrors.InvalidTransitionError(requestID, string(from), string(entities.MovementStatusPending))
		}
		current.SetMetadata("approved_by", approvedBy)
		current.SetMetadata("approved_at", time.Now().UTC().Format(time.RFC3339))
		if err := tx.Movements().UpdateStatus(ctx, current, from); err != nil {
			return fmt.Errorf("approve withdraw: %w", err)
		}
		approved = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !approved {
		s.logger.Info("Withdraw already approved", "request_id", requestID, "status", record.Status)
		return record, nil
	}

	s.recorded(record)
	s.logger.Info("Withdraw approved",
		"request_id", requestID,
		"user_id", record.UserID,
		"approved_by", approvedBy,
	)
	s.notify(opts, record, entities.MovementStatusPendingAdminReview)
	return s.dispatchPayout(ctx, record, opts)
}

// ConfirmWithdraw marks a pending withdrawal as settled on chain. A repeated
// confirmation returns the completed record unchanged.
func (s *Service) ConfirmWithdraw(ctx context.Context, requestID, txHash string, opts entities.CallOptions) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ConfirmWithdraw")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("confirm_withdraw", start, err) }(time.Now())
	span.SetAttributes(attribute.String("request_id", requestID))

	var record *entities.MovementRecord
	var confirmed bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		current, err := s.lockWithdraw(ctx, tx, requestID)
		if err != nil {
			return err
		}
		record = current
		if current.Status == entities.MovementStatusCompleted {
			return nil
		}

		from := current.Status
		if err := current.TransitionTo(entities.MovementStatusCompleted); err != nil {
			return domainerrors.InvalidTransitionError(requestID, string(from), string(entities.MovementStatusCompleted))
		}
		if txHash != "" {
			current.SetMetadata("tx_hash", txHash)
		}
		current.SetMetadata("confirmed_at", time.Now().UTC().Format(time.RFC3339))
		if err := tx.Movements().UpdateStatus(ctx, current, from); err != nil {
			return fmt.Errorf("confirm withdraw: %w", err)
		}
		confirmed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if confirmed {
		s.recorded(record)
		s.logger.Info("Withdraw confirmed", "request_id", requestID, "tx_hash", txHash)
		s.notify(opts, record, entities.MovementStatusPending)
	}
	return record, nil
}

// RejectWithdraw refuses a withdrawal awaiting review or payout and
// reimburses the user.
func (s *Service) RejectWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RejectWithdraw")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("reject_withdraw", start, err) }(time.Now())
	span.SetAttributes(attribute.String("request_id", requestID))

	return s.settle(ctx, requestID, entities.MovementStatusRejectedReimbursed, reason, opts)
}

// FailWithdraw records that the external payout failed and reimburses the user
func (s *Service) FailWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "FailWithdraw")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("fail_withdraw", start, err) }(time.Now())
	span.SetAttributes(attribute.String("request_id", requestID))

	return s.settle(ctx, requestID, entities.MovementStatusOnchainFailureReimbursed, reason, opts)
}

// settle reimburses a withdrawal into target. A withdrawal already
// reimbursed is returned as is.
func (s *Service) settle(ctx context.Context, requestID string, target entities.MovementStatus, reason string, opts entities.CallOptions) (*entities.MovementRecord, error) {
	var outcome *reimbursement.Outcome
	var current *entities.MovementRecord
	var previous entities.MovementStatus
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		record, err := s.lockWithdraw(ctx, tx, requestID)
		if err != nil {
			return err
		}
		current = record
		previous = record.Status
		if record.Status.IsReimbursed() {
			return nil
		}
		outcome, err = s.reimbursement.Reimburse(ctx, tx, record, target, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		s.logger.Info("Withdraw already reimbursed", "request_id", requestID, "status", current.Status)
		return current, nil
	}

	metrics.ReimbursementsTotal.WithLabelValues(string(target)).Inc()
	s.recorded(outcome.Original, outcome.Reimbursement)
	s.notify(opts, outcome.Original, previous)
	s.notify(opts, outcome.Reimbursement, "")
	return outcome.Original, nil
}

func (s *Service) lockWithdraw(ctx context.Context, tx repositories.LedgerTx, requestID string) (*entities.MovementRecord, error) {
	record, err := tx.Movements().GetByRequestIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if record.Kind != entities.MovementKindWithdraw {
		return nil, domainerrors.ValidationError("request_id", fmt.Sprintf("%s is a %s, not a withdraw", requestID, record.Kind))
	}
	return record, nil
}
