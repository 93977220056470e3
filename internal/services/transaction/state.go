package transaction

import (
	"errors"
	"fmt"

	"paysa/internal/models"
)

// ErrInvalidTransition is a programming error: some code tried to move a
// transaction along an edge the lifecycle does not have.
var ErrInvalidTransition = errors.New("invalid transaction state transition")

var transitions = map[string][]string{
	models.StatusPending:    {models.StatusValidating, models.StatusCancelled},
	models.StatusValidating: {models.StatusReserved, models.StatusFailed, models.StatusCancelled},
	models.StatusReserved:   {models.StatusSettling, models.StatusCompleted, models.StatusFailed},
	models.StatusSettling:   {models.StatusCompleted, models.StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// advance moves tx to status or fails without touching it.
func advance(tx *models.Transaction, status string) error {
	if !CanTransition(tx.Status, status) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, tx.Status, status, tx.ID)
	}
	tx.Status = status
	return nil
}

// walk applies a chain of transitions.
func walk(tx *models.Transaction, statuses ...string) error {
	for _, s := range statuses {
		if err := advance(tx, s); err != nil {
			return err
		}
	}
	return nil
}
