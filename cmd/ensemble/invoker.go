package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dcastano/ensemble/pkg/schema"
)

// httpInvoker dispatches executor invocations to external HTTP endpoints.
// Each executor may declare its own URL; otherwise the shared default is used.
type httpInvoker struct {
	client     *http.Client
	defaultURL string
	overrides  map[int64]string
}

func newHTTPInvoker(defaultURL string, executors []ExecutorConfig) *httpInvoker {
	overrides := make(map[int64]string)
	for _, e := range executors {
		if e.URL != "" {
			overrides[e.ID] = e.URL
		}
	}
	return &httpInvoker{
		client:     &http.Client{Timeout: 5 * time.Minute},
		defaultURL: defaultURL,
		overrides:  overrides,
	}
}

type invokeRequest struct {
	ExecutorID int64  `json:"executor_id"`
	Input      string `json:"input"`
}

type invokeResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

func (inv *httpInvoker) Invoke(ctx context.Context, executorID int64, input string) (string, error) {
	url := inv.defaultURL
	if override, ok := inv.overrides[executorID]; ok {
		url = override
	}
	if url == "" {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "no endpoint configured for executor %d", executorID)
	}

	body, err := json.Marshal(invokeRequest{ExecutorID: executorID, Input: input})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.client.Do(req)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "executor request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "executor returned %d: %s", resp.StatusCode, string(data))
	}

	var out invokeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		// Plain-text endpoints are accepted as-is.
		return string(data), nil
	}
	if out.Error != "" {
		return "", fmt.Errorf("executor error: %s", out.Error)
	}
	return out.Output, nil
}
