package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.unit = time.Millisecond
	return s
}

func TestStartup_StartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	s := newTestStartup(1)
	var events []string
	record := func(e string) func(context.Context) error {
		return func(context.Context) error {
			events = append(events, e)
			return nil
		}
	}

	s.AddDependency(Func{Name: "api", Requires: []string{"postgres"}, StartFunc: record("start api"), StopFunc: record("stop api")})
	s.AddDependency(Func{Name: "postgres", StartFunc: record("start postgres"), StopFunc: record("stop postgres")})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{"start postgres", "start api", "stop api", "stop postgres"}, events)
	assert.Equal(t, StatusStopped, s.Status("api"))
}

func TestStartup_RetriesUntilSuccess(t *testing.T) {
	s := newTestStartup(3)
	calls := 0
	s.AddDependency(Func{Name: "redis", StartFunc: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(Func{Name: "kafka", StartFunc: func(context.Context) error { return errors.New("no brokers") }})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, StatusFailed, s.Status("kafka"))
}

func TestStartup_UnknownDependency(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(Func{Name: "api", Requires: []string{"missing"}})

	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")
}
