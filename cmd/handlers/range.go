package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

// rangeFlags selects the span of windows to process.
type rangeFlags struct {
	since  string
	until  string
	weeks  int
	months int
}

func (r *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.since, "since", "", "first day to process (YYYY-MM-DD)")
	cmd.Flags().StringVar(&r.until, "until", "", "day after the last one to process (YYYY-MM-DD, default: start of this week)")
	cmd.Flags().IntVar(&r.weeks, "weeks", 0, "number of weeks back from --until")
	cmd.Flags().IntVar(&r.months, "months", 0, "number of months back from --until (default from config)")
}

// resolve turns the flags into [from, to). Without --since the range ends
// at the start of the current week so only complete weeks are processed.
func (r rangeFlags) resolve(now time.Time, defaultMonths int) (time.Time, time.Time, error) {
	to := weekStart(now)
	if r.until != "" {
		t, err := time.Parse(dateLayout, r.until)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
		to = t
	}

	var from time.Time
	switch {
	case r.since != "":
		t, err := time.Parse(dateLayout, r.since)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
		from = t
	case r.weeks > 0:
		from = to.AddDate(0, 0, -7*r.weeks)
	default:
		months := r.months
		if months <= 0 {
			months = defaultMonths
		}
		if months <= 0 {
			months = 2
		}
		from = weekStart(to.AddDate(0, -months, 0))
	}

	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("range is empty: %s to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

// weekStart returns midnight UTC of the Monday on or before t.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
