package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/batimat/api/internal/domain"
)

func TestProbeHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.February, 10, 9, 30, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "idempotency", Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Len(t, report.Checks, 2)
	assert.Equal(t, now, report.GeneratedAt)
	for name, check := range report.Checks {
		assert.Equal(t, domain.HealthStatusOK, check.Status, name)
		assert.Equal(t, now, check.CheckedAt, name)
	}
}

func TestProbeHealthRepositoryDegradedAndTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }},
		{
			Name:    "redis",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusError, report.Status)
	assert.Equal(t, domain.HealthStatusDegraded, report.Checks["postgres"].Status)
	assert.Equal(t, "connection refused", report.Checks["postgres"].Error)
	assert.Equal(t, domain.HealthStatusError, report.Checks["redis"].Status)
	assert.Equal(t, "timeout", report.Checks["redis"].Detail)
}

func TestNewProbeHealthRepositoryValidation(t *testing.T) {
	_, err := NewProbeHealthRepository(nil)
	assert.Error(t, err)

	_, err = NewProbeHealthRepository([]DependencyCheck{{Name: " ", Check: func(context.Context) error { return nil }}})
	assert.Error(t, err)

	_, err = NewProbeHealthRepository([]DependencyCheck{{Name: "postgres"}})
	assert.Error(t, err)
}

func TestLedgerErrorCodeOf(t *testing.T) {
	err := NewLedgerError("lots.decrement", LedgerErrorInsufficientStock, "", errors.New("0 rows"))
	wrapped := errors.Join(errors.New("checkout"), err)

	assert.Equal(t, LedgerErrorInsufficientStock, LedgerErrorCodeOf(wrapped))
	assert.Equal(t, "lots.decrement: ledger_insufficient_stock", err.Error())
	assert.Equal(t, LedgerErrorCode(""), LedgerErrorCodeOf(errors.New("other")))
}
