package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finvestor/internal/provider"
)

// memStore holds closes keyed by "SYMBOL 2006-01-02".
type memStore struct {
	closes  map[string]float64
	lookups []time.Time
}

func (m *memStore) QuoteOn(symbol string, date time.Time) (provider.Quote, bool, error) {
	m.lookups = append(m.lookups, date)
	c, ok := m.closes[symbol+" "+date.Format("2006-01-02")]
	if !ok {
		return provider.Quote{}, false, nil
	}
	return provider.Quote{Symbol: symbol, Date: date, Close: c}, true, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveExactDate(t *testing.T) {
	st := &memStore{closes: map[string]float64{"AAPL 2025-10-01": 254.63}}
	r := New(st, 0)

	p, err := r.Resolve("AAPL", day("2025-10-01"))
	require.NoError(t, err)
	require.True(t, p.Exact)
	require.Equal(t, 254.63, p.Close)
	require.Equal(t, day("2025-10-01"), p.ResolvedDate)
	require.Len(t, st.lookups, 1, "exact hit must not keep walking")
}

func TestResolveWeekendWalksBackToFriday(t *testing.T) {
	// 2025-10-04 is a Saturday; the nearest prior close is Friday the 3rd.
	st := &memStore{closes: map[string]float64{"MSFT 2025-10-03": 517.44}}
	r := New(st, 0)

	p, err := r.Resolve("MSFT", day("2025-10-04"))
	require.NoError(t, err)
	require.False(t, p.Exact)
	require.Equal(t, 517.44, p.Close)
	require.Equal(t, day("2025-10-04"), p.TargetDate)
	require.Equal(t, day("2025-10-03"), p.ResolvedDate)
	require.Len(t, st.lookups, 2)
}

func TestResolveUsesOldestDayInsideWindow(t *testing.T) {
	st := &memStore{closes: map[string]float64{"VTI 2025-09-22": 311.01}}
	r := New(st, 10)

	p, err := r.Resolve("VTI", day("2025-10-02"))
	require.NoError(t, err)
	require.Equal(t, day("2025-09-22"), p.ResolvedDate)
	require.Len(t, st.lookups, 11, "target day plus ten prior days")
}

func TestResolveNothingInWindow(t *testing.T) {
	// Only row is 11 calendar days before the target, one past the bound.
	st := &memStore{closes: map[string]float64{"AAPL 2019-12-21": 69.86}}
	r := New(st, 10)

	_, err := r.Resolve("AAPL", day("2020-01-01"))
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.Equal(t, "AAPL", unavailable.Symbol)
	require.Equal(t, day("2020-01-01"), unavailable.TargetDate)
	require.Equal(t, 10, unavailable.DaysSearched)
	require.Len(t, st.lookups, 11)
}

func TestResolveNeverLooksForward(t *testing.T) {
	// A close exists the day after the target; it must not be used.
	st := &memStore{closes: map[string]float64{"AAPL 2025-10-02": 257.13}}
	r := New(st, 10)

	_, err := r.Resolve("AAPL", day("2025-10-01"))
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	for _, d := range st.lookups {
		require.False(t, d.After(day("2025-10-01")))
	}
}

func TestResolveZeroTargetMeansToday(t *testing.T) {
	st := &memStore{closes: map[string]float64{"SPY 2025-10-01": 668.45}}
	r := New(st, 10)
	r.now = func() time.Time { return time.Date(2025, 10, 1, 14, 30, 0, 0, time.UTC) }

	p, err := r.Resolve("SPY", time.Time{})
	require.NoError(t, err)
	require.True(t, p.Exact)
	require.Equal(t, day("2025-10-01"), p.TargetDate)
}

func TestResolveTruncatesIntraDayTarget(t *testing.T) {
	st := &memStore{closes: map[string]float64{"SPY 2025-10-01": 668.45}}
	r := New(st, 10)

	p, err := r.Resolve("SPY", time.Date(2025, 10, 1, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, p.Exact)
	require.Equal(t, day("2025-10-01"), p.ResolvedDate)
}
