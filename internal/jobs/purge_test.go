package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wallet-migrator/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) PurgeAttestations(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type countingPurger struct {
	calls atomic.Int32
}

func (c *countingPurger) PurgeAttestations(context.Context, time.Time) (int64, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestPurgeOnce_PassesCutoff(t *testing.T) {
	cutoff := time.Unix(1_700_000_000, 0)
	p := &MockPurger{}
	p.On("PurgeAttestations", mock.Anything, cutoff).Return(int64(3), nil).Once()

	PurgeOnce(context.Background(), p, cutoff, logger.Nop())
	p.AssertExpectations(t)
}

func TestPurgeOnce_ToleratesErrors(t *testing.T) {
	p := &MockPurger{}
	p.On("PurgeAttestations", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()

	assert.NotPanics(t, func() {
		PurgeOnce(context.Background(), p, time.Now(), logger.Nop())
	})
	p.AssertExpectations(t)
}

func TestScheduler_RunsPurge(t *testing.T) {
	s, err := NewScheduler(logger.Nop())
	require.NoError(t, err)

	p := &countingPurger{}
	require.NoError(t, s.SchedulePurge(p, 20*time.Millisecond, 10*time.Minute))
	s.Start()
	defer s.Shutdown()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
