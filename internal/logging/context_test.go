package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", TaskID(ctx))
	assert.Equal(t, int64(0), ExecutorID(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithTaskID(ctx, "s0-n0")
	ctx = WithExecutorID(ctx, 7)

	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "s0-n0", TaskID(ctx))
	assert.Equal(t, int64(7), ExecutorID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithExecutorID(WithTaskID(WithRunID(context.Background(), "run-9"), "synthesis"), 5)
	logger.InfoContext(ctx, "task finished")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "run-9", record["run_id"])
	assert.Equal(t, "synthesis", record["task_id"])
	assert.EqualValues(t, 5, record["executor_id"])
}

func TestCorrelationHandler_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("plain message")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, hasRunID := record["run_id"]
	assert.False(t, hasRunID)
}
