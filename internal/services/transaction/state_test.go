package transaction

import (
	"testing"

	"paysa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []string{
		models.StatusPending, models.StatusValidating, models.StatusReserved, models.StatusSettling,
		models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
	}
	allowed := map[[2]string]bool{
		{models.StatusPending, models.StatusValidating}:    true,
		{models.StatusPending, models.StatusCancelled}:     true,
		{models.StatusValidating, models.StatusReserved}:   true,
		{models.StatusValidating, models.StatusFailed}:     true,
		{models.StatusValidating, models.StatusCancelled}:  true,
		{models.StatusReserved, models.StatusSettling}:     true,
		{models.StatusReserved, models.StatusCompleted}:    true,
		{models.StatusReserved, models.StatusFailed}:       true,
		{models.StatusSettling, models.StatusCompleted}:    true,
		{models.StatusSettling, models.StatusFailed}:       true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]string{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestAdvance_LeavesRecordOnBadEdge(t *testing.T) {
	tx := &models.Transaction{ID: "t1", Status: models.StatusCompleted}
	err := advance(tx, models.StatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.StatusCompleted, tx.Status)

	tx = &models.Transaction{ID: "t2", Status: models.StatusPending}
	require.NoError(t, walk(tx, models.StatusValidating, models.StatusReserved, models.StatusSettling, models.StatusCompleted))
	assert.Equal(t, models.StatusCompleted, tx.Status)

	tx = &models.Transaction{ID: "t3", Status: models.StatusPending}
	assert.ErrorIs(t, walk(tx, models.StatusValidating, models.StatusSettling), ErrInvalidTransition)
	assert.Equal(t, models.StatusValidating, tx.Status)
}
