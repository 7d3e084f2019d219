package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"video-autopost/internal"
	"video-autopost/internal/storage"
)

const scheduleKey = "schedule.json"

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleEntry represents a single scheduled post time
type ScheduleEntry struct {
	Time time.Time `json:"time"`
}

// DailySchedule holds the post times for a single day
type DailySchedule struct {
	Date      string          `json:"date"` // YYYY-MM-DD
	Entries   []ScheduleEntry `json:"entries"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CronSpecs converts POST_TIMES entries into cron specs with a seconds field.
// "HH:MM" becomes "0 MM HH * * *"; anything else must already be a valid spec.
func CronSpecs(postTimes []string) ([]string, error) {
	specs := make([]string, 0, len(postTimes))
	for _, pt := range postTimes {
		pt = strings.TrimSpace(pt)
		if pt == "" {
			continue
		}
		if h, m, ok := parseClock(pt); ok {
			specs = append(specs, fmt.Sprintf("0 %d %d * * *", m, h))
			continue
		}
		if _, err := specParser.Parse(pt); err != nil {
			return nil, fmt.Errorf("%w: invalid post time %q: %v", internal.ErrConfig, pt, err)
		}
		specs = append(specs, pt)
	}
	return specs, nil
}

func parseClock(s string) (int, int, bool) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// BuildDailySchedule lists today's post times in loc, sorted.
func BuildDailySchedule(date time.Time, specs []string, loc *time.Location) []time.Time {
	day := date.In(loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	var times []time.Time
	for _, spec := range specs {
		sched, err := specParser.Parse(spec)
		if err != nil {
			continue
		}
		for t := sched.Next(start.Add(-time.Second)); !t.IsZero() && t.Before(end); t = sched.Next(t) {
			times = append(times, t)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// SaveSchedule stores today's schedule so operators can see upcoming posts.
func SaveSchedule(ctx context.Context, store storage.JSONStore, schedule *DailySchedule) error {
	return store.WriteJSON(ctx, scheduleKey, schedule)
}

// RefreshSchedule rebuilds and saves the schedule for now's day.
func RefreshSchedule(ctx context.Context, store storage.JSONStore, specs []string, loc *time.Location, now time.Time) (*DailySchedule, error) {
	times := BuildDailySchedule(now, specs, loc)
	entries := make([]ScheduleEntry, len(times))
	for i, t := range times {
		entries[i] = ScheduleEntry{Time: t}
	}
	schedule := &DailySchedule{
		Date:      now.In(loc).Format("2006-01-02"),
		Entries:   entries,
		UpdatedAt: now,
	}
	return schedule, SaveSchedule(ctx, store, schedule)
}

// GetNextScheduledTime returns the next scheduled time after 'now'
func GetNextScheduledTime(schedule *DailySchedule, now time.Time) *time.Time {
	for _, entry := range schedule.Entries {
		if entry.Time.After(now) {
			return &entry.Time
		}
	}
	return nil
}
