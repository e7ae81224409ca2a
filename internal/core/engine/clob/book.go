package clob

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// level is one price level holding resting orders in arrival order.
type level struct {
	price  decimal.Decimal
	orders []*relationaldb.Order // FIFO: head at index 0
}

func (l *level) remaining() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

// book is the in-memory order book: two price-ordered ladders with FIFO
// queues at each price. Bids are kept best-first descending, asks ascending.
// The book is not self-synchronizing; the router's per-symbol mutex
// serializes access.
type book struct {
	bids []*level
	asks []*level
	byID map[string]*relationaldb.Order
}

func newBook() *book {
	return &book{byID: make(map[string]*relationaldb.Order)}
}

// ladder returns the resting side for the given order side.
func (b *book) ladder(side market.Side) *[]*level {
	if side == market.SideBuy {
		return &b.bids
	}
	return &b.asks
}

// better reports whether x is a better price than y from the resting side's
// point of view.
func better(side market.Side, x, y decimal.Decimal) bool {
	if side == market.SideBuy {
		return x.GreaterThan(y)
	}
	return x.LessThan(y)
}

// add inserts a resting order at its price level's FIFO tail.
func (b *book) add(order *relationaldb.Order) {
	ladder := b.ladder(order.Side)
	idx := sort.Search(len(*ladder), func(i int) bool {
		return !better(order.Side, (*ladder)[i].price, order.Price)
	})
	if idx < len(*ladder) && (*ladder)[idx].price.Equal(order.Price) {
		(*ladder)[idx].orders = append((*ladder)[idx].orders, order)
	} else {
		lv := &level{price: order.Price, orders: []*relationaldb.Order{order}}
		*ladder = append(*ladder, nil)
		copy((*ladder)[idx+1:], (*ladder)[idx:])
		(*ladder)[idx] = lv
	}
	b.byID[order.OrderID] = order
}

// remove deletes an order from its level, dropping the level when empty.
func (b *book) remove(orderID string) bool {
	order, ok := b.byID[orderID]
	if !ok {
		return false
	}
	delete(b.byID, orderID)

	ladder := b.ladder(order.Side)
	for i, lv := range *ladder {
		if !lv.price.Equal(order.Price) {
			continue
		}
		for j, o := range lv.orders {
			if o.OrderID == orderID {
				lv.orders = append(lv.orders[:j], lv.orders[j+1:]...)
				break
			}
		}
		if len(lv.orders) == 0 {
			*ladder = append((*ladder)[:i], (*ladder)[i+1:]...)
		}
		return true
	}
	return false
}

// best returns the best level of the given resting side, or nil.
func (b *book) best(side market.Side) *level {
	ladder := *b.ladder(side)
	if len(ladder) == 0 {
		return nil
	}
	return ladder[0]
}

// crosses reports whether a taker at limitPrice crosses restingPrice.
// A zero limitPrice means a market order, which crosses everything.
func crosses(takerSide market.Side, limitPrice, restingPrice decimal.Decimal) bool {
	if limitPrice.IsZero() {
		return true
	}
	if takerSide == market.SideBuy {
		return restingPrice.LessThanOrEqual(limitPrice)
	}
	return restingPrice.GreaterThanOrEqual(limitPrice)
}

// depth aggregates the top-n levels per side.
func (b *book) depth(symbol string, n int) *engine.Depth {
	take := func(ladder []*level) []engine.DepthLevel {
		out := make([]engine.DepthLevel, 0, n)
		for _, lv := range ladder {
			if len(out) == n {
				break
			}
			out = append(out, engine.DepthLevel{
				Price:      lv.price,
				Quantity:   lv.remaining(),
				OrderCount: len(lv.orders),
			})
		}
		return out
	}
	return &engine.Depth{
		Symbol: symbol,
		Bids:   take(b.bids),
		Asks:   take(b.asks),
	}
}
