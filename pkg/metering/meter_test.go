package metering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/metering"
)

func TestMemoryMeter_RecordAndTotals(t *testing.T) {
	m := metering.NewMemoryMeter()
	ctx := context.Background()

	events := []metering.Event{
		{EventType: metering.EventExecution, Quantity: 1, Timestamp: time.Now()},
		{EventType: metering.EventExecution, Quantity: 1, Timestamp: time.Now()},
		{EventType: metering.EventReward, Quantity: 10, Timestamp: time.Now()},
	}
	for _, e := range events {
		require.NoError(t, m.Record(ctx, e))
	}

	totals, err := m.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals[metering.EventExecution])
	assert.Equal(t, int64(10), totals[metering.EventReward])
	assert.Zero(t, totals[metering.EventDenied])
}

func TestEvent_Validate(t *testing.T) {
	assert.ErrorIs(t,
		metering.Event{EventType: metering.EventReward, Quantity: -1}.Validate(),
		metering.ErrNegativeQuantity)
	assert.ErrorIs(t,
		metering.Event{Quantity: 1}.Validate(),
		metering.ErrInvalidEventType)
	assert.NoError(t,
		metering.Event{EventType: metering.EventCycle, Quantity: 1}.Validate())
}
