package domain

import "time"

// Section placeholders shown instead of data.
const (
	StatusNotLoggedIn     = "Not Logged In"
	StatusNoOpenPositions = "No Open Positions"
	StatusNoOpenOrders    = "No Open Orders"
	StatusNoTriggerOrders = "No Trigger Orders"
	StatusNoBalances      = "No Balances"
)

// BalanceSection is the balances table or its placeholder.
type BalanceSection struct {
	Status   string    `json:"status,omitempty"`
	Balances []Balance `json:"balances,omitempty"`
}

// PositionSection is the positions table or its placeholder.
type PositionSection struct {
	Status    string     `json:"status,omitempty"`
	Positions []Position `json:"positions,omitempty"`
}

// OrderSection is an orders table or its placeholder.
type OrderSection struct {
	Status string  `json:"status,omitempty"`
	Orders []Order `json:"orders,omitempty"`
}

// AccountSnapshot is one account poll cycle.
type AccountSnapshot struct {
	Balances      BalanceSection  `json:"balances"`
	Positions     PositionSection `json:"positions"`
	OpenOrders    OrderSection    `json:"open_orders"`
	TriggerOrders OrderSection    `json:"trigger_orders"`
	Time          time.Time       `json:"time"`
}

func (AccountSnapshot) Kind() EventKind    { return EventAccount }
func (AccountSnapshot) MarketName() string { return "" }

// TriggerOrdersEvent routes freshly polled trigger orders to the markets
// that own them. Status is non-empty when the poll failed; the map is then
// nil and receivers keep what they have.
type TriggerOrdersEvent struct {
	Status   string             `json:"status,omitempty"`
	ByMarket map[string][]Order `json:"by_market"`
}

func (TriggerOrdersEvent) Kind() EventKind    { return EventTriggerOrders }
func (TriggerOrdersEvent) MarketName() string { return "" }
