package ratelimit

import (
	"fmt"
	"time"

	"github.com/Dicklesworthstone/feedbot/internal/action"
)

// Default pacing delays per category. Each approximates the spacing needed
// to spread the daily quota across the day.
const (
	DefaultDelayLike     = 6 * time.Second
	DefaultDelayComment  = 12 * time.Second
	DefaultDelayFollow   = 10 * time.Second
	DefaultDelayUnfollow = 10 * time.Second
	DefaultDelay         = 5 * time.Second
)

// Limits is the static quota for one category.
type Limits struct {
	DailyMax  int `toml:"daily_max" json:"daily_max" yaml:"daily_max"`
	HourlyMax int `toml:"hourly_max" json:"hourly_max" yaml:"hourly_max"`
}

// Validate checks that the limits are usable. The relation between daily
// and hourly ceilings beyond daily >= hourly is left to configuration.
func (l Limits) Validate() error {
	if l.DailyMax <= 0 {
		return fmt.Errorf("daily_max must be positive, got %d", l.DailyMax)
	}
	if l.HourlyMax <= 0 {
		return fmt.Errorf("hourly_max must be positive, got %d", l.HourlyMax)
	}
	if l.DailyMax < l.HourlyMax {
		return fmt.Errorf("daily_max (%d) must be >= hourly_max (%d)", l.DailyMax, l.HourlyMax)
	}
	return nil
}

// DefaultLimits returns the stock quota table.
func DefaultLimits() map[action.Category]Limits {
	return map[action.Category]Limits{
		action.Like:     {DailyMax: 350, HourlyMax: 50},
		action.Comment:  {DailyMax: 180, HourlyMax: 20},
		action.Follow:   {DailyMax: 200, HourlyMax: 30},
		action.Unfollow: {DailyMax: 200, HourlyMax: 30},
	}
}

// DefaultDelays returns the stock pacing table.
func DefaultDelays() map[action.Category]time.Duration {
	return map[action.Category]time.Duration{
		action.Like:     DefaultDelayLike,
		action.Comment:  DefaultDelayComment,
		action.Follow:   DefaultDelayFollow,
		action.Unfollow: DefaultDelayUnfollow,
	}
}

// FormatDelay formats a duration as a human-readable string.
func FormatDelay(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
