package actions

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcastano/ensemble/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// appendAction appends its tag to the payload so tests can observe ordering.
type appendAction struct {
	name string
	tag  string
}

func (a *appendAction) Name() string        { return a.name }
func (a *appendAction) Description() string { return "" }
func (a *appendAction) Execute(_ context.Context, in Input) (string, error) {
	return in.Payload + a.tag, nil
}

func newTestRegistry(t *testing.T, actions ...Action) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, a := range actions {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func TestRunner_Run_PriorityOrdering(t *testing.T) {
	reg := newTestRegistry(t,
		&appendAction{name: "a", tag: "A"},
		&appendAction{name: "b", tag: "B"},
		&appendAction{name: "c", tag: "C"},
		&appendAction{name: "d", tag: "D"},
	)
	runner := NewRunner(reg, testLogger(), nil)

	// Ties (b, c at 10) keep declaration order.
	configs := []schema.ActionConfig{
		{Method: "a", Priority: 50},
		{Method: "b", Priority: 10},
		{Method: "c", Priority: 10},
		{Method: "d", Priority: 90},
	}

	out := runner.Run(context.Background(), configs, "", nil, nil)
	assert.Equal(t, "BCAD", out)
}

func TestRunner_Run_ZeroPriorityMeansDefault(t *testing.T) {
	reg := newTestRegistry(t,
		&appendAction{name: "low", tag: "L"},
		&appendAction{name: "default", tag: "D"},
	)
	runner := NewRunner(reg, testLogger(), nil)

	// Default (100) sorts after an explicit 50.
	configs := []schema.ActionConfig{
		{Method: "default"},
		{Method: "low", Priority: 50},
	}

	out := runner.Run(context.Background(), configs, "", nil, nil)
	assert.Equal(t, "LD", out)
}

func TestRunner_Run_FailureIsIsolated(t *testing.T) {
	reg := newTestRegistry(t,
		&appendAction{name: "first", tag: "1"},
		&stubAction{name: "broken", fn: func(_ context.Context, _ Input) (string, error) {
			return "", schema.NewError(schema.ErrCodeExecution, "boom")
		}},
		&appendAction{name: "last", tag: "2"},
	)
	runner := NewRunner(reg, testLogger(), nil)

	configs := []schema.ActionConfig{
		{Method: "first", Priority: 1},
		{Method: "broken", Priority: 2},
		{Method: "last", Priority: 3},
	}

	// The broken step leaves the payload untouched; the rest still run.
	out := runner.Run(context.Background(), configs, "x", nil, nil)
	assert.Equal(t, "x12", out)
}

func TestRunner_Run_UnknownMethodIsIsolated(t *testing.T) {
	reg := newTestRegistry(t, &appendAction{name: "known", tag: "K"})
	runner := NewRunner(reg, testLogger(), nil)

	configs := []schema.ActionConfig{
		{Method: "nope", Priority: 1},
		{Method: "known", Priority: 2},
	}

	out := runner.Run(context.Background(), configs, "", nil, nil)
	assert.Equal(t, "K", out)
}

func TestRunner_Run_PanicIsIsolated(t *testing.T) {
	reg := newTestRegistry(t,
		&stubAction{name: "panicky", fn: func(_ context.Context, _ Input) (string, error) {
			panic("unexpected")
		}},
		&appendAction{name: "after", tag: "!"},
	)
	runner := NewRunner(reg, testLogger(), nil)

	configs := []schema.ActionConfig{
		{Method: "panicky", Priority: 1},
		{Method: "after", Priority: 2},
	}

	out := runner.Run(context.Background(), configs, "ok", nil, nil)
	assert.Equal(t, "ok!", out)
}

func TestRunner_Run_FailureHookInvoked(t *testing.T) {
	reg := newTestRegistry(t, &stubAction{name: "broken", fn: func(_ context.Context, _ Input) (string, error) {
		return "", schema.NewError(schema.ErrCodeExecution, "boom")
	}})

	var mu sync.Mutex
	var failedMethods []string
	runner := NewRunner(reg, testLogger(), func(_ context.Context, method string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedMethods = append(failedMethods, method)
		assert.Error(t, err)
	})

	runner.Run(context.Background(), []schema.ActionConfig{{Method: "broken"}}, "x", nil, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"broken"}, failedMethods)
}

func TestRunner_Run_EmptyConfigs(t *testing.T) {
	runner := NewRunner(NewRegistry(), testLogger(), nil)
	out := runner.Run(context.Background(), nil, "untouched", nil, nil)
	assert.Equal(t, "untouched", out)
}
