package exchange

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/domsync/internal/crypto"
	"github.com/alanyoungcy/domsync/internal/domain"
)

// --------------------------------------------------------------------------
// Websocket DTOs
// --------------------------------------------------------------------------

// Inbound frame types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeInfo         = "info"
	TypeError        = "error"
	TypePartial      = "partial"
	TypeUpdate       = "update"
)

// infoCodeReconnect is sent by the exchange before it drops the socket.
const infoCodeReconnect = 20001

// WSCommand is an outbound control frame.
type WSCommand struct {
	Op       string            `json:"op"`
	Channel  string            `json:"channel,omitempty"`
	Market   string            `json:"market,omitempty"`
	Grouping json.Number       `json:"grouping,omitempty"`
	Args     *crypto.LoginArgs `json:"args,omitempty"`
}

func subscribeCommand(op string, sub domain.Subscription) WSCommand {
	cmd := WSCommand{Op: op, Channel: string(sub.Channel), Market: sub.Market}
	if !sub.Grouping.IsZero() {
		cmd.Grouping = json.Number(sub.Grouping.String())
	}
	return cmd
}

// Message is one inbound frame. Data is decoded lazily by the Decode*
// helpers once the receiver knows which channel it belongs to.
type Message struct {
	Channel  string              `json:"channel"`
	Market   string              `json:"market"`
	Type     string              `json:"type"`
	Code     int                 `json:"code"`
	Msg      string              `json:"msg"`
	Grouping decimal.NullDecimal `json:"grouping"`
	Data     json.RawMessage     `json:"data"`
}

// Subscription returns the subscription this frame was delivered on.
func (m Message) Subscription() domain.Subscription {
	sub := domain.Subscription{Channel: domain.Channel(m.Channel), Market: m.Market}
	if m.Grouping.Valid {
		sub.Grouping = m.Grouping.Decimal
	}
	return sub
}

// BookData is the payload of orderbook and orderbookGrouped frames. Levels
// are [price, size] pairs.
type BookData struct {
	Action   string               `json:"action"`
	Bids     [][2]decimal.Decimal `json:"bids"`
	Asks     [][2]decimal.Decimal `json:"asks"`
	Checksum *uint32              `json:"checksum"`
	Time     float64              `json:"time"`
}

// TradeData is one entry of a trades frame.
type TradeData struct {
	ID          int64           `json:"id"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Side        string          `json:"side"`
	Liquidation bool            `json:"liquidation"`
	Time        time.Time       `json:"time"`
}

// OrderData is an order as pushed on the orders channel and returned by
// GET /api/orders.
type OrderData struct {
	ID            int64               `json:"id"`
	Market        string              `json:"market"`
	Type          string              `json:"type"`
	Side          string              `json:"side"`
	Price         decimal.NullDecimal `json:"price"`
	Size          decimal.Decimal     `json:"size"`
	FilledSize    decimal.Decimal     `json:"filledSize"`
	RemainingSize decimal.Decimal     `json:"remainingSize"`
	AvgFillPrice  decimal.NullDecimal `json:"avgFillPrice"`
	Status        string              `json:"status"`
	ReduceOnly    bool                `json:"reduceOnly"`
	PostOnly      bool                `json:"postOnly"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// FillData is one private execution on the fills channel.
type FillData struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	Liquidity string          `json:"liquidity"`
	Time      time.Time       `json:"time"`
}

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// apiResponse is the REST envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// APIMarket is the subset of GET /api/markets/{market} we use.
type APIMarket struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	PriceIncrement decimal.Decimal `json:"priceIncrement"`
	SizeIncrement  decimal.Decimal `json:"sizeIncrement"`
	BaseCurrency   string          `json:"baseCurrency"`
	QuoteCurrency  string          `json:"quoteCurrency"`
	Underlying     string          `json:"underlying"`
}

// APIBalance is one wallet coin.
type APIBalance struct {
	Coin     string          `json:"coin"`
	Free     decimal.Decimal `json:"free"`
	Total    decimal.Decimal `json:"total"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// APIPosition is one derivative position.
type APIPosition struct {
	Future                 string              `json:"future"`
	Side                   string              `json:"side"`
	Size                   decimal.Decimal     `json:"size"`
	NetSize                decimal.Decimal     `json:"netSize"`
	EntryPrice             decimal.NullDecimal `json:"entryPrice"`
	RecentAverageOpenPrice decimal.NullDecimal `json:"recentAverageOpenPrice"`
	UnrealizedPnl          decimal.Decimal     `json:"unrealizedPnl"`
}

// APITriggerOrder is one conditional order from GET /api/conditional_orders.
type APITriggerOrder struct {
	ID           int64               `json:"id"`
	Market       string              `json:"market"`
	Type         string              `json:"type"`
	Side         string              `json:"side"`
	TriggerPrice decimal.Decimal     `json:"triggerPrice"`
	OrderPrice   decimal.NullDecimal `json:"orderPrice"`
	Size         decimal.Decimal     `json:"size"`
	FilledSize   decimal.Decimal     `json:"filledSize"`
	Status       string              `json:"status"`
	ReduceOnly   bool                `json:"reduceOnly"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// DecodeBook converts an orderbook or orderbookGrouped frame.
func DecodeBook(m Message) (domain.BookFrame, error) {
	var data BookData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return domain.BookFrame{}, fmt.Errorf("exchange: decode book: %w", err)
	}
	action := data.Action
	if action == "" {
		action = m.Type
	}
	frame := domain.BookFrame{
		Subscription: m.Subscription(),
		Action:       domain.BookAction(action),
		Bids:         levels(data.Bids),
		Asks:         levels(data.Asks),
		Time:         unixFloat(data.Time),
	}
	if data.Checksum != nil {
		frame.Checksum = *data.Checksum
		frame.HasChecksum = true
	}
	return frame, nil
}

// DecodeTrades converts a trades frame; every trade inherits the frame's
// market.
func DecodeTrades(m Message) ([]domain.Trade, error) {
	var data []TradeData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("exchange: decode trades: %w", err)
	}
	out := make([]domain.Trade, 0, len(data))
	for _, t := range data {
		out = append(out, domain.Trade{
			ID:          t.ID,
			Market:      m.Market,
			Price:       t.Price,
			Size:        t.Size,
			Side:        domain.Side(t.Side),
			Liquidation: t.Liquidation,
			Time:        t.Time,
		})
	}
	return out, nil
}

// DecodeOrder converts an orders frame.
func DecodeOrder(m Message) (domain.Order, error) {
	var data OrderData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode order: %w", err)
	}
	return data.ToDomain(), nil
}

// DecodeFill converts a fills frame.
func DecodeFill(m Message) (domain.Fill, error) {
	var data FillData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return domain.Fill{}, fmt.Errorf("exchange: decode fill: %w", err)
	}
	return domain.Fill{
		ID:        data.ID,
		OrderID:   data.OrderID,
		Market:    data.Market,
		Side:      domain.Side(data.Side),
		Price:     data.Price,
		Size:      data.Size,
		Fee:       data.Fee,
		Liquidity: data.Liquidity,
		Time:      data.Time,
	}, nil
}

// ToDomain converts an order DTO.
func (o OrderData) ToDomain() domain.Order {
	return domain.Order{
		ID:            o.ID,
		Market:        o.Market,
		Side:          domain.Side(o.Side),
		Type:          o.Type,
		Price:         o.Price.Decimal,
		OrderPrice:    o.Price.Decimal,
		Size:          o.Size,
		FilledSize:    o.FilledSize,
		RemainingSize: o.RemainingSize,
		AvgFillPrice:  o.AvgFillPrice.Decimal,
		Status:        domain.OrderStatus(o.Status),
		ReduceOnly:    o.ReduceOnly,
		PostOnly:      o.PostOnly,
		CreatedAt:     o.CreatedAt,
	}
}

// ToDomain converts a conditional order; Price carries the trigger price.
func (o APITriggerOrder) ToDomain() domain.Order {
	return domain.Order{
		ID:            o.ID,
		Market:        o.Market,
		Side:          domain.Side(o.Side),
		Type:          o.Type,
		Price:         o.TriggerPrice,
		OrderPrice:    o.OrderPrice.Decimal,
		Size:          o.Size,
		FilledSize:    o.FilledSize,
		RemainingSize: o.Size.Sub(o.FilledSize),
		Status:        domain.OrderStatus(o.Status),
		ReduceOnly:    o.ReduceOnly,
		Trigger:       true,
		CreatedAt:     o.CreatedAt,
	}
}

// ToDomain converts market metadata.
func (m APIMarket) ToDomain() domain.MarketInfo {
	kind := domain.MarketKindFuture
	if m.Type == "spot" {
		kind = domain.MarketKindSpot
	}
	return domain.MarketInfo{
		Name:          m.Name,
		Kind:          kind,
		PriceTick:     m.PriceIncrement,
		SizeIncrement: m.SizeIncrement,
		BaseCurrency:  m.BaseCurrency,
		QuoteCurrency: m.QuoteCurrency,
	}
}

// ToDomain converts a wallet balance.
func (b APIBalance) ToDomain() domain.Balance {
	return domain.Balance{Coin: b.Coin, Free: b.Free, Total: b.Total, USDValue: b.USDValue}
}

// ToDomain converts a position.
func (p APIPosition) ToDomain() domain.Position {
	return domain.Position{
		Future:                 p.Future,
		Side:                   domain.Side(p.Side),
		Size:                   p.Size,
		NetSize:                p.NetSize,
		EntryPrice:             p.EntryPrice.Decimal,
		RecentAverageOpenPrice: p.RecentAverageOpenPrice.Decimal,
		UnrealizedPnL:          p.UnrealizedPnl,
	}
}

func levels(raw [][2]decimal.Decimal) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(raw))
	for i, l := range raw {
		out[i] = domain.PriceLevel{Price: l[0], Size: l[1]}
	}
	return out
}

// unixFloat converts fractional Unix seconds.
func unixFloat(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
