package datasync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

const (
	defaultHTTPTimeout     = 5 * time.Minute
	defaultMaxResponseBody = 1 << 20
)

// HTTPConfig configures an HTTPConnector.
type HTTPConfig struct {
	RunnerURL       string
	Timeout         time.Duration
	MaxResponseBody int64
	Client          *http.Client
}

// HTTPConnector posts each job to an external runner and decodes its
// {"success","records_synced","error"} reply.
type HTTPConnector struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPConnector creates an HTTPConnector. RunnerURL is required.
func NewHTTPConnector(cfg HTTPConfig) (*HTTPConnector, error) {
	if cfg.RunnerURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "datasync: runner url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPConnector{cfg: cfg, client: client}, nil
}

type runnerRequest struct {
	SyncScheduleID string                  `json:"sync_schedule_id"`
	DataModelID    string                  `json:"data_model_id"`
	Name           string                  `json:"name"`
	ScheduleType   schema.SyncScheduleType `json:"schedule_type"`
	Config         json.RawMessage         `json:"config,omitempty"`
}

func (c *HTTPConnector) Sync(ctx context.Context, job *store.SyncSchedule) (*Outcome, error) {
	body, err := json.Marshal(runnerRequest{
		SyncScheduleID: job.ID,
		DataModelID:    job.DataModelID,
		Name:           job.Name,
		ScheduleType:   job.ScheduleType,
		Config:         job.Config,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSyncFailed, "datasync: marshal request").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.RunnerURL, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSyncFailed, "datasync: create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnavailable, "datasync: runner request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeUnavailable, "datasync: read runner response").WithCause(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, schema.NewErrorf(schema.ErrCodeUnavailable, "datasync: runner returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(data)})
	case resp.StatusCode >= 400:
		return nil, schema.NewErrorf(schema.ErrCodeSyncFailed, "datasync: runner returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(data)})
	}

	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeSyncFailed, fmt.Sprintf("datasync: decode runner response: %v", err)).WithCause(err)
	}
	return &out, nil
}
