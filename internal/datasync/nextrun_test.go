package datasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

func TestNextRun(t *testing.T) {
	// Wednesday 2026-03-11 10:30 UTC.
	from := time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		typ  schema.SyncScheduleType
		cron string
		want time.Time
	}{
		{schema.SyncHourly, "", time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC)},
		{schema.SyncDaily, "", time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)},
		{schema.SyncWeekly, "", time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{schema.SyncMonthly, "", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{schema.SyncCustomCron, "*/15 * * * *", time.Date(2026, 3, 11, 10, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			next, err := NextRun(&store.SyncSchedule{ScheduleType: tt.typ, CronExpression: tt.cron}, from, time.UTC)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.True(t, tt.want.Equal(*next), "got %s", next)
		})
	}
}

func TestNextRun_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	from := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) // 07:00 in New York

	next, err := NextRun(&store.SyncSchedule{ScheduleType: schema.SyncDaily}, from, loc)
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 1, 16, 5, 0, 0, 0, time.UTC).Equal(*next), "got %s", next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestNextRun_ManualAndInvalid(t *testing.T) {
	next, err := NextRun(&store.SyncSchedule{ScheduleType: schema.SyncManual}, time.Now(), nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = NextRun(&store.SyncSchedule{ScheduleType: schema.SyncCustomCron, CronExpression: "every tuesday"}, time.Now(), nil)
	assert.Error(t, err)

	_, err = NextRun(&store.SyncSchedule{ScheduleType: schema.SyncCustomCron}, time.Now(), nil)
	assert.Error(t, err)

	_, err = NextRun(&store.SyncSchedule{ScheduleType: "YEARLY"}, time.Now(), nil)
	assert.Error(t, err)
}
