package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/discuno/discuno-sub000/internal/calcom"
)

// ClockInterval is a local availability window, times as "HH:mm".
type ClockInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyAvailability is the local 7-day representation: ordered interval
// lists keyed by weekday.
type WeeklyAvailability map[time.Weekday][]ClockInterval

// LocalOverride replaces availability for one calendar date.
type LocalOverride struct {
	Date      string          `json:"date"` // YYYY-MM-DD
	Intervals []ClockInterval `json:"intervals"`
}

type ScheduleAPI interface {
	GetDefaultSchedule(ctx context.Context, accessToken string) (*calcom.Schedule, error)
	UpdateSchedule(ctx context.Context, accessToken string, scheduleID int64, in calcom.ScheduleInput) error
}

// AvailabilityMapper translates between the local weekly representation
// and the provider's day-indexed interval arrays.
type AvailabilityMapper struct {
	tokens   *TokenManager
	provider ScheduleAPI
}

func NewAvailabilityMapper(tokens *TokenManager, provider ScheduleAPI) *AvailabilityMapper {
	return &AvailabilityMapper{tokens: tokens, provider: provider}
}

// Pull fetches the mentor's default schedule and maps it into the local
// shape. Provider timestamps are normalized down to HH:mm.
func (m *AvailabilityMapper) Pull(ctx context.Context, mentorID string) (WeeklyAvailability, []LocalOverride, error) {
	token, err := m.tokens.GetValidAccessToken(ctx, mentorID)
	if err != nil {
		return nil, nil, err
	}
	sched, err := m.provider.GetDefaultSchedule(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	weekly, overrides, err := FromProviderSchedule(sched)
	if err != nil {
		return nil, nil, err
	}
	return weekly, overrides, nil
}

// Push writes the local representation onto the mentor's default schedule.
func (m *AvailabilityMapper) Push(ctx context.Context, mentorID string, weekly WeeklyAvailability, overrides []LocalOverride) error {
	token, err := m.tokens.GetValidAccessToken(ctx, mentorID)
	if err != nil {
		return err
	}
	sched, err := m.provider.GetDefaultSchedule(ctx, token)
	if err != nil {
		return err
	}
	in, err := ToProviderSchedule(weekly, overrides)
	if err != nil {
		return err
	}
	return m.provider.UpdateSchedule(ctx, token, sched.ID, in)
}

// ToProviderSchedule expands HH:mm values to full ISO timestamps and
// groups overrides by calendar date: multiple intervals for one date merge
// into a single override record, never duplicate date entries.
func ToProviderSchedule(weekly WeeklyAvailability, overrides []LocalOverride) (calcom.ScheduleInput, error) {
	var out calcom.ScheduleInput
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, iv := range weekly[day] {
			start, err := expandClock(iv.Start)
			if err != nil {
				return out, fmt.Errorf("weekday %s: %w", day, err)
			}
			end, err := expandClock(iv.End)
			if err != nil {
				return out, fmt.Errorf("weekday %s: %w", day, err)
			}
			out.Availability[int(day)] = append(out.Availability[int(day)], calcom.Interval{Start: start, End: end})
		}
	}

	byDate := map[string][]calcom.Interval{}
	var dates []string
	for _, ov := range overrides {
		if _, seen := byDate[ov.Date]; !seen {
			dates = append(dates, ov.Date)
		}
		for _, iv := range ov.Intervals {
			start, err := expandClock(iv.Start)
			if err != nil {
				return out, fmt.Errorf("override %s: %w", ov.Date, err)
			}
			end, err := expandClock(iv.End)
			if err != nil {
				return out, fmt.Errorf("override %s: %w", ov.Date, err)
			}
			byDate[ov.Date] = append(byDate[ov.Date], calcom.Interval{Start: start, End: end})
		}
	}
	sort.Strings(dates)
	for _, d := range dates {
		out.Overrides = append(out.Overrides, calcom.DateOverride{Date: d, Intervals: byDate[d]})
	}
	return out, nil
}

// FromProviderSchedule maps the provider's day-indexed arrays back into
// the local weekly shape, stripping timestamps to HH:mm.
func FromProviderSchedule(sched *calcom.Schedule) (WeeklyAvailability, []LocalOverride, error) {
	weekly := WeeklyAvailability{}
	for day := 0; day < 7; day++ {
		for _, iv := range sched.Availability[day] {
			start, err := normalizeClock(iv.Start)
			if err != nil {
				return nil, nil, err
			}
			end, err := normalizeClock(iv.End)
			if err != nil {
				return nil, nil, err
			}
			weekly[time.Weekday(day)] = append(weekly[time.Weekday(day)], ClockInterval{Start: start, End: end})
		}
	}

	byDate := map[string][]ClockInterval{}
	var dates []string
	for _, ov := range sched.Overrides {
		if _, seen := byDate[ov.Date]; !seen {
			dates = append(dates, ov.Date)
		}
		for _, iv := range ov.Intervals {
			start, err := normalizeClock(iv.Start)
			if err != nil {
				return nil, nil, err
			}
			end, err := normalizeClock(iv.End)
			if err != nil {
				return nil, nil, err
			}
			byDate[ov.Date] = append(byDate[ov.Date], ClockInterval{Start: start, End: end})
		}
	}
	sort.Strings(dates)
	overrides := make([]LocalOverride, 0, len(dates))
	for _, d := range dates {
		overrides = append(overrides, LocalOverride{Date: d, Intervals: byDate[d]})
	}
	return weekly, overrides, nil
}

// normalizeClock reduces a time value to "HH:mm", accepting bare clock
// strings and full timestamps with date/offset components.
func normalizeClock(s string) (string, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("unparseable time value %q", s)
}

// expandClock turns "HH:mm" into a full ISO timestamp on the provider's
// reference date.
func expandClock(s string) (string, error) {
	hhmm, err := normalizeClock(s)
	if err != nil {
		return "", err
	}
	t, err := time.Parse("2006-01-02 15:04", "1970-01-01 "+hhmm)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
}
