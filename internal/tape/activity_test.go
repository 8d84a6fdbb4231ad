package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/domsync/internal/domain"
)

func TestFormatNotional(t *testing.T) {
	cases := map[string]string{
		"0":         "0",
		"999":       "999",
		"20000":     "20,000",
		"123456":    "123,456",
		"999999":    "999,999",
		"1000000":   "1.0M",
		"1234567":   "1.23M",
		"1500000":   "1.5M",
		"123456789": "123.46M",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatNotional(d(in)), in)
	}
}

func TestActivityEntryRoundsNotional(t *testing.T) {
	tr := trade("20000.5", "1.5", domain.SideSell)
	tr.Liquidation = true
	e := NewActivityEntry(tr)
	assert.True(t, e.Notional.Equal(d("30001")))
	assert.Equal(t, "30,001", e.Display)
	assert.True(t, e.Liquidation)
	assert.Equal(t, domain.SideSell, e.Side)
}

func TestActivityFeedThreshold(t *testing.T) {
	f := NewActivityFeed(10, d("20000"))
	large := f.Add([]domain.Trade{
		trade("100", "1", domain.SideBuy),
		trade("20000", "1", domain.SideBuy),
		trade("19999.6", "1", domain.SideSell),
		trade("50000", "2", domain.SideSell),
	})
	require.Len(t, large, 3)
	assert.Equal(t, "100,000", large[2].Display)

	recent := f.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "100,000", recent[0].Display)
	assert.Equal(t, "20,000", recent[1].Display)
	assert.Len(t, f.Recent(0), 3)
}
