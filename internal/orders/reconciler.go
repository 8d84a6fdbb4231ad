// Package orders mirrors the user's working and trigger orders for one
// market and derives the matching position summary.
package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/domsync/internal/band"
	"github.com/alanyoungcy/domsync/internal/domain"
)

// priceBucket is keyed by price and side: a buy and a sell trigger at one
// price band in opposite directions, so they never share a bucket.
type priceBucket struct {
	price  decimal.Decimal
	side   domain.Side
	bucket *domain.OrderBucket
}

func bucketLess(a, b priceBucket) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c < 0
	}
	return a.side < b.side
}

func keyOf(o domain.Order) priceBucket { return priceBucket{price: o.Price, side: o.Side} }

// at returns the first bucket at an exact price, buys before sells.
func at(tree *btree.BTreeG[priceBucket], price decimal.Decimal) (priceBucket, bool) {
	var found priceBucket
	var ok bool
	tree.Ascend(priceBucket{price: price}, func(pb priceBucket) bool {
		found, ok = pb, pb.price.Equal(price)
		return false
	})
	return found, ok
}

func newBucketTree() *btree.BTreeG[priceBucket] {
	return btree.NewBTreeGOptions(bucketLess, btree.Options{NoLocks: true})
}

// Reconciler keeps open and trigger orders bucketed by exact price and side. It is
// owned by a single market worker and is not safe for concurrent use.
type Reconciler struct {
	market   string
	open     *btree.BTreeG[priceBucket]
	triggers *btree.BTreeG[priceBucket]
}

// NewReconciler returns an empty reconciler for market.
func NewReconciler(market string) *Reconciler {
	return &Reconciler{market: market, open: newBucketTree(), triggers: newBucketTree()}
}

// Market is the market this reconciler tracks.
func (r *Reconciler) Market() string { return r.market }

// Init rebuilds both maps from a REST snapshot. Orders for other markets
// are skipped.
func (r *Reconciler) Init(open, triggers []domain.Order) {
	r.open = r.build(open)
	r.triggers = r.build(triggers)
}

// SetTriggers replaces the trigger map and reports whether its content
// differs from the previous one.
func (r *Reconciler) SetTriggers(triggers []domain.Order) bool {
	next := r.build(triggers)
	changed := fingerprint(next) != fingerprint(r.triggers)
	r.triggers = next
	return changed
}

func fingerprint(tree *btree.BTreeG[priceBucket]) string {
	var b strings.Builder
	tree.Scan(func(pb priceBucket) bool {
		b.WriteString(pb.price.String())
		b.WriteString(string(pb.side))
		for _, o := range pb.bucket.Orders {
			fmt.Fprintf(&b, "|%d:%s", o.ID, o.RemainingSize)
		}
		b.WriteByte(';')
		return true
	})
	return b.String()
}

func (r *Reconciler) build(orders []domain.Order) *btree.BTreeG[priceBucket] {
	tree := newBucketTree()
	for _, o := range orders {
		if o.Market != r.market {
			continue
		}
		if pb, ok := tree.Get(keyOf(o)); ok {
			pb.bucket.Orders = append(pb.bucket.Orders, o)
			pb.bucket.Recompute()
			continue
		}
		b := domain.NewOrderBucket(o)
		b.Recompute()
		if b.Empty() {
			continue
		}
		pb := keyOf(o)
		pb.bucket = b
		tree.Set(pb)
	}
	return tree
}

// Apply folds one order event into the open map and reports whether the
// map changed. Closed events carry no remaining size. An event for an order
// that was never tracked and is not working is dropped, so rejected
// post-only orders never show up.
func (r *Reconciler) Apply(o domain.Order) bool {
	if o.Market != r.market || o.Trigger {
		return false
	}
	if o.Status == domain.OrderStatusClosed {
		o.RemainingSize = decimal.Zero
	}

	pb, ok := r.open.Get(keyOf(o))
	if !ok || pb.bucket.Quantity.IsZero() {
		if !o.Status.Working() || !o.RemainingSize.IsPositive() {
			return false
		}
		pb = keyOf(o)
		pb.bucket = domain.NewOrderBucket(o)
		r.open.Set(pb)
		return true
	}

	b := pb.bucket
	if i := b.Index(o.ID); i >= 0 {
		b.Orders[i] = o
	} else {
		if !o.Status.Working() || !o.RemainingSize.IsPositive() {
			return false
		}
		b.Orders = append(b.Orders, o)
	}
	b.Recompute()
	if b.Empty() {
		r.open.Delete(pb)
	}
	return true
}

// Bucket returns the open bucket at an exact price.
func (r *Reconciler) Bucket(price decimal.Decimal) (*domain.OrderBucket, bool) {
	pb, ok := at(r.open, price)
	if !ok {
		return nil, false
	}
	return pb.bucket, true
}

// TriggerBucket returns the trigger bucket at an exact trigger price.
func (r *Reconciler) TriggerBucket(price decimal.Decimal) (*domain.OrderBucket, bool) {
	pb, ok := at(r.triggers, price)
	if !ok {
		return nil, false
	}
	return pb.bucket, true
}

// OpenLen is the number of open buckets.
func (r *Reconciler) OpenLen() int { return r.open.Len() }

// TriggerLen is the number of trigger buckets.
func (r *Reconciler) TriggerLen() int { return r.triggers.Len() }

// Display bands both maps to tick and merges buckets that share a display
// price. Buckets come out price descending.
func (r *Reconciler) Display(tick decimal.Decimal) domain.OrderDisplay {
	merged := btree.NewBTreeGOptions(func(a, b domain.CombinedDisplayBucket) bool {
		return a.Price.GreaterThan(b.Price)
	}, btree.Options{NoLocks: true})

	fold := func(tree *btree.BTreeG[priceBucket], trigger bool) {
		tree.Scan(func(pb priceBucket) bool {
			price := pb.price
			if band.Valid(tick) {
				price = band.Order(pb.price, tick, pb.side, trigger)
			}
			cur, ok := merged.Get(domain.CombinedDisplayBucket{Price: price})
			if !ok {
				cur = domain.CombinedDisplayBucket{Price: price}
			}
			slot := &cur.Open
			if trigger {
				slot = &cur.Trigger
			}
			*slot = mergeBucket(*slot, pb.bucket)
			cur.OrderIDs = append(cur.OrderIDs, pb.bucket.IDs()...)
			merged.Set(cur)
			return true
		})
	}
	fold(r.open, false)
	fold(r.triggers, true)

	out := domain.OrderDisplay{Market: r.market, Tick: tick, Buckets: make([]domain.CombinedDisplayBucket, 0, merged.Len())}
	merged.Scan(func(b domain.CombinedDisplayBucket) bool {
		out.Buckets = append(out.Buckets, b)
		return true
	})
	return out
}

func mergeBucket(into, from *domain.OrderBucket) *domain.OrderBucket {
	if into == nil {
		return from.Clone()
	}
	into.Quantity = into.Quantity.Add(from.Quantity)
	into.Orders = append(into.Orders, from.Orders...)
	return into
}
