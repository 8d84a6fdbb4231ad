package domain

import "time"

// EventKind tags outbound events for routing and serialization.
type EventKind string

const (
	EventBook          EventKind = "book"
	EventVolumeProfile EventKind = "volume_profile"
	EventOrders        EventKind = "orders"
	EventPosition      EventKind = "position"
	EventAccount       EventKind = "account"
	EventTriggerOrders EventKind = "trigger_orders"
	EventActivity      EventKind = "activity"
	EventNotification  EventKind = "notification"
	EventMid           EventKind = "mid"
	EventSessionState  EventKind = "session_state"
)

// Event is an immutable value emitted by the sync core. MarketName is empty
// for account-wide events.
type Event interface {
	Kind() EventKind
	MarketName() string
}

// NotificationKind selects the alert raised for the user.
type NotificationKind string

const (
	NotifyFills       NotificationKind = "fills"
	NotifyOrders      NotificationKind = "orders"
	NotifyOrderFail   NotificationKind = "order_fail"
	NotifyLiquidation NotificationKind = "liquidation"
)

// Notification is a user-facing alert.
type Notification struct {
	ID      string           `json:"id"`
	Type    NotificationKind `json:"type"`
	Market  string           `json:"market,omitempty"`
	Message string           `json:"message"`
	Time    time.Time        `json:"time"`
}

func (Notification) Kind() EventKind      { return EventNotification }
func (n Notification) MarketName() string { return n.Market }

// SessionState reports a transport lifecycle change for one market session.
type SessionState struct {
	Market    string    `json:"market,omitempty"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Time      time.Time `json:"time"`
}

func (SessionState) Kind() EventKind      { return EventSessionState }
func (s SessionState) MarketName() string { return s.Market }
