package shared

import (
	"fmt"
	"time"
)

const monthKeyLayout = "2006-01"

// MonthKey identifies a calendar month without a day component.
type MonthKey struct {
	Year  int
	Month time.Month
}

// ParseMonthKey parses the YYYY-MM form.
func ParseMonthKey(raw string) (MonthKey, error) {
	t, err := time.Parse(monthKeyLayout, raw)
	if err != nil {
		return MonthKey{}, fmt.Errorf("month key %q: %w", raw, ErrInvalidArgument)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// MonthKeyOf returns the month containing t as observed in loc.
func MonthKeyOf(t time.Time, loc *time.Location) MonthKey {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return MonthKey{Year: local.Year(), Month: local.Month()}
}

// String renders the key as YYYY-MM.
func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether the key is unset.
func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Validate rejects keys outside a sane calendar range.
func (m MonthKey) Validate() error {
	if m.Year < 1970 || m.Year > 9999 || m.Month < time.January || m.Month > time.December {
		return fmt.Errorf("month key %d-%d: %w", m.Year, int(m.Month), ErrInvalidArgument)
	}
	return nil
}

// Bounds returns the half-open interval [start, next) of the month in loc.
func (m MonthKey) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// AddMonths shifts the key by n calendar months.
func (m MonthKey) AddMonths(n int) MonthKey {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Before reports whether m precedes other.
func (m MonthKey) Before(other MonthKey) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// MarshalText implements encoding.TextMarshaler.
func (m MonthKey) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MonthKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMonthKey(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
