package datasync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/retry"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

func TestHTTPConnector_Success(t *testing.T) {
	var got runnerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"records_synced":12}`))
	}))
	defer srv.Close()

	c, err := NewHTTPConnector(HTTPConfig{RunnerURL: srv.URL})
	require.NoError(t, err)

	out, err := c.Sync(context.Background(), &store.SyncSchedule{
		ID: "s1", DataModelID: "dm", Name: "crm", ScheduleType: schema.SyncDaily, Config: json.RawMessage(`{"source":"crm"}`),
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 12, out.RecordsSynced)
	assert.Equal(t, "s1", got.SyncScheduleID)
	assert.JSONEq(t, `{"source":"crm"}`, string(got.Config))
}

func TestHTTPConnector_ReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"upstream rejected credentials"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPConnector(HTTPConfig{RunnerURL: srv.URL})
	require.NoError(t, err)
	out, err := c.Sync(context.Background(), &store.SyncSchedule{ID: "s1"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "upstream rejected credentials", out.Error)
}

func TestHTTPConnector_StatusCodes(t *testing.T) {
	for _, tc := range []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusBadGateway, schema.ErrCodeUnavailable, true},
		{http.StatusTooManyRequests, schema.ErrCodeUnavailable, true},
		{http.StatusBadRequest, schema.ErrCodeSyncFailed, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c, err := NewHTTPConnector(HTTPConfig{RunnerURL: srv.URL})
		require.NoError(t, err)
		_, err = c.Sync(context.Background(), &store.SyncSchedule{ID: "s1"})
		srv.Close()

		require.Error(t, err, tc.status)
		assert.Equal(t, tc.code, schema.CodeOf(err), tc.status)
		assert.Equal(t, tc.retryable, retry.IsRetryableError(err), tc.status)
	}
}

func TestHTTPConnector_BadBodyAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(100 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c, err := NewHTTPConnector(HTTPConfig{RunnerURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Sync(context.Background(), &store.SyncSchedule{ID: "s1"})
	assert.Equal(t, schema.ErrCodeSyncFailed, schema.CodeOf(err))

	c, err = NewHTTPConnector(HTTPConfig{RunnerURL: srv.URL + "/slow", Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Sync(context.Background(), &store.SyncSchedule{ID: "s1"})
	assert.Equal(t, schema.ErrCodeUnavailable, schema.CodeOf(err))
}

func TestNewHTTPConnector_RequiresURL(t *testing.T) {
	_, err := NewHTTPConnector(HTTPConfig{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
