package market

import "fmt"

// Enumerations are stored as small integers (SMALLINT columns); the numeric
// values are part of the schema contract and must not be reordered.

// EngineKind selects the matching engine bound to a symbol.
type EngineKind int16

const (
	EngineAMM  EngineKind = 0
	EngineCLOB EngineKind = 1
)

func (e EngineKind) String() string {
	switch e {
	case EngineAMM:
		return "amm"
	case EngineCLOB:
		return "clob"
	default:
		return fmt.Sprintf("engine(%d)", int16(e))
	}
}

// Valid reports whether e is a known engine kind.
func (e EngineKind) Valid() bool {
	return e == EngineAMM || e == EngineCLOB
}

// ParseEngineKind accepts the wire forms "amm"/"clob" and their numeric codes.
func ParseEngineKind(s string) (EngineKind, error) {
	switch s {
	case "amm", "AMM", "0":
		return EngineAMM, nil
	case "clob", "CLOB", "1":
		return EngineCLOB, nil
	}
	return 0, fmt.Errorf("market: unknown engine kind %q", s)
}

// Side is the direction of a trade or order.
type Side int16

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType distinguishes market and limit orders.
type OrderType int16

const (
	OrderMarket OrderType = 0
	OrderLimit  OrderType = 1
)

func (o OrderType) String() string {
	if o == OrderMarket {
		return "market"
	}
	return "limit"
}

// OrderStatus is the order lifecycle state.
type OrderStatus int16

const (
	OrderOpen      OrderStatus = 0
	OrderPartial   OrderStatus = 1
	OrderFilled    OrderStatus = 2
	OrderCancelled OrderStatus = 3
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartial:
		return "partial"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// Terminal reports whether the order can no longer be mutated.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// ParseOrderStatus accepts the wire forms and their numeric codes.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch s {
	case "open", "0":
		return OrderOpen, nil
	case "partial", "1":
		return OrderPartial, nil
	case "filled", "2":
		return OrderFilled, nil
	case "cancelled", "3":
		return OrderCancelled, nil
	}
	return 0, fmt.Errorf("market: unknown order status %q", s)
}

// TradeStatus is the trade row status.
type TradeStatus int16

const (
	TradePending   TradeStatus = 0
	TradeCompleted TradeStatus = 1
	TradeFailed    TradeStatus = 2
)

// MarketClass is the instrument class of a symbol. Only spot matching is
// implemented; other classes are storable but placement is rejected.
type MarketClass string

const (
	MarketSpot   MarketClass = "SPOT"
	MarketPerp   MarketClass = "PERP"
	MarketOption MarketClass = "OPTION"
	MarketFuture MarketClass = "FUTURE"
)

// Valid reports whether m is a known market class.
func (m MarketClass) Valid() bool {
	switch m {
	case MarketSpot, MarketPerp, MarketOption, MarketFuture:
		return true
	}
	return false
}
