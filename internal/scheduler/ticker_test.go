package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

func TestTicker_RunsTicks(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 1)
	scheduledWorkflow(t, s, "wf-once", &store.Schedule{ScheduleType: schema.ScheduleOnce})

	tk := NewTicker(newDriver(s), "@every 1s", nil)
	require.NoError(t, tk.Start(context.Background()))
	assert.Error(t, tk.Start(context.Background()), "second start")

	require.Eventually(t, func() bool {
		n, err := s.CountExecutions(context.Background(), store.ExecutionFilter{WorkflowID: "wf-once"})
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	tk.Stop()
	tk.Stop()
}

func TestTicker_InvalidSpec(t *testing.T) {
	tk := NewTicker(nil, "every so often", nil)
	assert.Error(t, tk.Start(context.Background()))
	tk.Stop()
}
