package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) EmitEvent(ctx context.Context, event models.MigrationEvent) error {
	return m.Called(ctx, event).Error(0)
}

type slowEmitter struct{}

func (slowEmitter) EmitEvent(ctx context.Context, _ models.MigrationEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTrackingEmitter_ForwardsWithDeadline(t *testing.T) {
	wrapped := &MockEmitter{}
	event := models.MigrationEvent{SessionID: "s-1", Step: "success", Timestamp: time.Now()}
	wrapped.On("EmitEvent", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), event).Return(nil).Once()

	e := NewTrackingEmitter(wrapped, time.Second, logger.Nop())
	assert.NoError(t, e.EmitEvent(context.Background(), event))
	wrapped.AssertExpectations(t)
}

func TestTrackingEmitter_SwallowsErrors(t *testing.T) {
	wrapped := &MockEmitter{}
	wrapped.On("EmitEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	e := NewTrackingEmitter(wrapped, time.Second, logger.Nop())
	assert.NoError(t, e.EmitEvent(context.Background(), models.MigrationEvent{SessionID: "s-1", Step: "failure", FailureKind: "kyc"}))
}

func TestTrackingEmitter_TimesOut(t *testing.T) {
	e := NewTrackingEmitter(slowEmitter{}, 20*time.Millisecond, logger.Nop())

	start := time.Now()
	assert.NoError(t, e.EmitEvent(context.Background(), models.MigrationEvent{SessionID: "s-1"}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTrackingEmitter_NoWrapped(t *testing.T) {
	e := NewTrackingEmitter(nil, 0, logger.Nop())
	assert.Equal(t, DefaultTimeout, e.Timeout)
	assert.NoError(t, e.EmitEvent(context.Background(), models.MigrationEvent{SessionID: "s-1"}))
}
