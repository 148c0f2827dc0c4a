package datasync

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// cronParser accepts standard 5-field expressions and @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// fixedCadences maps the non-custom sync types to cron specs. Weeks start on
// Monday as they do for workflow cadences.
var fixedCadences = map[schema.SyncScheduleType]string{
	schema.SyncHourly:  "@hourly",
	schema.SyncDaily:   "@daily",
	schema.SyncWeekly:  "0 0 * * 1",
	schema.SyncMonthly: "@monthly",
}

// NextRun returns the next time job is due after from, evaluated in loc.
// MANUAL jobs have no next run and return nil.
func NextRun(job *store.SyncSchedule, from time.Time, loc *time.Location) (*time.Time, error) {
	var spec string
	switch job.ScheduleType {
	case schema.SyncManual:
		return nil, nil
	case schema.SyncCustomCron:
		spec = job.CronExpression
	default:
		var ok bool
		if spec, ok = fixedCadences[job.ScheduleType]; !ok {
			return nil, fmt.Errorf("unknown sync schedule type %q", job.ScheduleType)
		}
	}
	sched, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	next := sched.Next(from.In(loc)).UTC()
	return &next, nil
}

// ParseCron parses a 5-field cron expression or @descriptor.
func ParseCron(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return s, nil
}
