package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/observability"
)

func TestDisabledProviderIsInert(t *testing.T) {
	cfg := observability.DefaultConfig()
	cfg.Enabled = false

	p, err := observability.New(context.Background(), cfg)
	require.NoError(t, err)

	// Must not panic with no initialized instruments.
	p.RecordCycle(context.Background(), contracts.CycleSummary{
		Cycle:    1,
		Executed: 2,
		Duration: 3 * time.Second,
		Outcomes: []contracts.Outcome{{Status: contracts.OutcomeExecuted, Reward: 5}},
	})
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.Equal(t, "orbitpay-keeper", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.NotEmpty(t, cfg.OTLPEndpoint)
}
