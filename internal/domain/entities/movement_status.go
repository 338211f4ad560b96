package entities

import "fmt"

// MovementStatus represents the lifecycle state of a movement record
type MovementStatus string

const (
	MovementStatusPending                  MovementStatus = "pending"
	MovementStatusPendingAdminReview       MovementStatus = "pending_admin_review"
	MovementStatusCompleted                MovementStatus = "completed"
	MovementStatusFailed                   MovementStatus = "failed"
	MovementStatusRejectedReimbursed       MovementStatus = "rejected_and_reimbursed"
	MovementStatusOnchainFailureReimbursed MovementStatus = "onchain_failure_and_reimbursed"
)

// ValidMovementStatuses contains all valid movement statuses
var ValidMovementStatuses = map[MovementStatus]bool{
	MovementStatusPending:                  true,
	MovementStatusPendingAdminReview:       true,
	MovementStatusCompleted:                true,
	MovementStatusFailed:                   true,
	MovementStatusRejectedReimbursed:       true,
	MovementStatusOnchainFailureReimbursed: true,
}

// ValidMovementTransitions defines allowed status transitions. Statuses only
// move forward; reimbursed and completed records never change again.
var ValidMovementTransitions = map[MovementStatus][]MovementStatus{
	MovementStatusPendingAdminReview: {
		MovementStatusPending,
		MovementStatusRejectedReimbursed,
		MovementStatusOnchainFailureReimbursed,
	},
	MovementStatusPending: {
		MovementStatusCompleted,
		MovementStatusRejectedReimbursed,
		MovementStatusOnchainFailureReimbursed,
	},
	MovementStatusCompleted:                {}, // Terminal state
	MovementStatusFailed:                   {}, // Terminal state
	MovementStatusRejectedReimbursed:       {}, // Terminal state
	MovementStatusOnchainFailureReimbursed: {}, // Terminal state
}

// IsValid checks if the status is a valid movement status
func (s MovementStatus) IsValid() bool {
	return ValidMovementStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s MovementStatus) CanTransitionTo(newStatus MovementStatus) bool {
	for _, status := range ValidMovementTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s MovementStatus) IsTerminal() bool {
	return len(ValidMovementTransitions[s]) == 0
}

// IsReimbursed returns true for both reimbursed outcomes
func (s MovementStatus) IsReimbursed() bool {
	return s == MovementStatusRejectedReimbursed || s == MovementStatusOnchainFailureReimbursed
}

// IsOpen returns true while a movement still awaits an external or admin decision
func (s MovementStatus) IsOpen() bool {
	return s == MovementStatusPending || s == MovementStatusPendingAdminReview
}

// ValidateTransition validates and returns error if transition is invalid
func (s MovementStatus) ValidateTransition(newStatus MovementStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid movement status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
