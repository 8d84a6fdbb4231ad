package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order(id int64, remaining string) Order {
	return Order{ID: id, Side: SideBuy, Status: OrderStatusOpen, RemainingSize: decimal.RequireFromString(remaining)}
}

func TestOrderBucketRecomputePrunes(t *testing.T) {
	b := NewOrderBucket(order(1, "3"))
	b.Orders = append(b.Orders, order(2, "0"), order(3, "1.5"))

	b.Recompute()

	require.Len(t, b.Orders, 2)
	assert.Equal(t, []int64{1, 3}, b.IDs())
	assert.True(t, b.Quantity.Equal(decimal.RequireFromString("4.5")))
	assert.False(t, b.Empty())
}

func TestOrderBucketCloneIsIndependent(t *testing.T) {
	b := NewOrderBucket(order(7, "2"))
	c := b.Clone()
	c.Orders[0].RemainingSize = decimal.Zero
	c.Recompute()

	assert.True(t, c.Empty())
	assert.False(t, b.Empty())
	assert.Equal(t, 0, b.Index(7))
	assert.Equal(t, -1, b.Index(8))
}

func TestOrderStatusWorking(t *testing.T) {
	assert.True(t, OrderStatusNew.Working())
	assert.True(t, OrderStatusOpen.Working())
	assert.False(t, OrderStatusClosed.Working())
}
