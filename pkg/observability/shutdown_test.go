package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)

	var order []string
	sm.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	sm.Register("engine", func(context.Context) error { order = append(order, "engine"); return nil })
	sm.Register("skipped", nil)

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"engine", "store"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	ran := false
	sm.Register("a", func(context.Context) error { ran = true; return nil })
	sm.Register("b", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: flush failed")
	assert.True(t, ran)
}

func TestShutdownTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, 20*time.Millisecond)

	sm.Register("late", func(context.Context) error { return nil })
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)
	called := make(chan struct{})
	sm.Register("engine", func(context.Context) error { close(called); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.Wait(ctx))
	select {
	case <-called:
	default:
		t.Fatal("shutdown step did not run")
	}
}

func TestOTelDisabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)

	assert.NoError(t, providers.Shutdown(context.Background()))
	assert.NotNil(t, providers.Tracer("gatekeeper"))
}
