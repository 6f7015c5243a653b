package shared

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMonthKey(t *testing.T) {
	key, err := ParseMonthKey("2024-06")
	require.NoError(t, err)
	assert.Equal(t, MonthKey{Year: 2024, Month: time.June}, key)
	assert.Equal(t, "2024-06", key.String())

	_, err = ParseMonthKey("2024-13")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseMonthKey("2024-06-01")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMonthKeyBoundsAreHalfOpen(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	start, next := MonthKey{Year: 2024, Month: time.December}.Bounds(jakarta)

	assert.Equal(t, time.Date(2024, time.December, 1, 0, 0, 0, 0, jakarta), start)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, jakarta), next)

	lastInstant := next.Add(-time.Nanosecond)
	assert.Equal(t, MonthKey{Year: 2024, Month: time.December}, MonthKeyOf(lastInstant, jakarta))
	assert.Equal(t, MonthKey{Year: 2025, Month: time.January}, MonthKeyOf(next, jakarta))
}

func TestMonthKeyOfUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	// 2024-06-30 18:00 UTC is already July in UTC+7.
	instant := time.Date(2024, time.June, 30, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-07", MonthKeyOf(instant, jakarta).String())
	assert.Equal(t, "2024-06", MonthKeyOf(instant, nil).String())
}

func TestMonthKeyAddMonths(t *testing.T) {
	key := MonthKey{Year: 2024, Month: time.February}
	assert.Equal(t, "2023-11", key.AddMonths(-3).String())
	assert.Equal(t, "2025-02", key.AddMonths(12).String())
	assert.True(t, key.AddMonths(-1).Before(key))
	assert.False(t, key.Before(key))
}

func TestMonthKeyJSON(t *testing.T) {
	payload := struct {
		Month MonthKey `json:"month"`
	}{Month: MonthKey{Year: 2024, Month: time.June}}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"month":"2024-06"}`, string(raw))

	var decoded struct {
		Month MonthKey `json:"month"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload.Month, decoded.Month)
}

func TestMonthKeyValidate(t *testing.T) {
	require.NoError(t, MonthKey{Year: 2024, Month: time.January}.Validate())
	require.ErrorIs(t, MonthKey{}.Validate(), ErrInvalidArgument)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 0, p.Offset())

	req := PageRequest{Page: 3, PerPage: 500}
	assert.Equal(t, 200, req.Limit())
	assert.Equal(t, 400, req.Offset())
}
