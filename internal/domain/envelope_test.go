package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := EncodeEvent(MidPrice{Market: "BTC-PERP", Price: decimal.RequireFromString("100.25")}, at)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventMid, env.Kind)
	assert.Equal(t, "BTC-PERP", env.Market)
	assert.True(t, env.Time.Equal(at))

	var mid MidPrice
	require.NoError(t, json.Unmarshal(env.Data, &mid))
	assert.True(t, mid.Price.Equal(decimal.RequireFromString("100.25")))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "mid:ETH-PERP", Topic(MidPrice{Market: "ETH-PERP"}))
	assert.Equal(t, "notification", Topic(Notification{Type: NotifyOrderFail}))
}
