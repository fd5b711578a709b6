package jobfile

import (
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard 5-field cron expressions plus the
// @descriptors (@hourly, @daily, @every 10m, ...). The grid runs these in
// UTC, matching the behavior of the external job runner.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression and returns its schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// NextRuns returns the next n fire times of a cron expression after the
// given time, in UTC. Invalid expressions yield an error; callers should
// have validated already.
func NextRuns(spec string, after time.Time, n int) ([]time.Time, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}
	out := make([]time.Time, 0, n)
	t := after.UTC()
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
