package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callbridge/callbridge/internal/resilience"
)

func TestRegistry_RecordsExecutorOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()

	cfg := fastConfig("backend.token", 0)
	cfg.Registry = registry
	e := resilience.NewExecutor(cfg)

	assert.Equal(t, 1, registry.Len())

	require.NoError(t, e.Do(context.Background(), func(context.Context) error { return nil }))
	health := registry.Health("backend.token")
	require.NotNil(t, health)
	assert.True(t, health.IsHealthy())
	assert.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	_ = e.Do(context.Background(), func(context.Context) error { return errors.New("boom") })
	health = registry.Health("backend.token")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastFailureAt)
	assert.Equal(t, "boom", health.LastError)
	assert.Equal(t, "closed", health.State)
}

func TestRegistry_UnknownExecutor(t *testing.T) {
	registry := resilience.NewRegistry()

	assert.Nil(t, registry.Health("missing"))
	registry.RecordSuccess("missing")
	registry.RecordFailure("missing", errors.New("x"))
	assert.Empty(t, registry.AllHealth())
}

func TestRegistry_AllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		cfg := fastConfig(name, 0)
		cfg.Registry = registry
		resilience.NewExecutor(cfg)
	}

	health := registry.AllHealth()
	require.Len(t, health, 3)
	assert.Equal(t, "a", health[0].Name)
	assert.Equal(t, "b", health[1].Name)
	assert.Equal(t, "c", health[2].Name)
}
