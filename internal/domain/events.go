package domain

import (
	"encoding/json"
	"time"
)

// Event types understood by push-connection clients. The names are part of
// the wire protocol and must not change.
const (
	EventConnected     = "connected"
	EventSubscribed    = "subscribed"
	EventSubscribeUser = "subscribe_user"
	EventSubscribeOper = "subscribe_admin"
	EventTradeResult   = "trade_result"
	EventTradeActivity = "trade_activity"
	EventPriceUpdate   = "price_update"
	EventPing          = "ping"
	EventPong          = "pong"
	EventError         = "error"
)

// Signal-bus channels carrying event envelopes between the settlement path
// and the connection hubs.
const (
	ChannelTradeResults  = "flash:trade_results"
	ChannelTradeActivity = "flash:trade_activity"
	ChannelPrices        = "flash:prices"
)

// Event is the framing for every message pushed over a persistent
// connection: {type, data, timestamp}.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent builds an Event with the payload marshaled into Data and the
// timestamp in RFC 3339.
func NewEvent(typ string, data any, ts time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: raw, Timestamp: ts.UTC().Format(time.RFC3339)}, nil
}

// Marshal renders the event as wire JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// TradeResultPayload is the body of a trade_result event, routed to the
// owning user only.
type TradeResultPayload struct {
	TradeID    string  `json:"trade_id"`
	UserID     string  `json:"user_id"`
	Outcome    Outcome `json:"outcome"`
	Profit     float64 `json:"profit"`
	ExitPrice  float64 `json:"exit_price"`
	NewBalance float64 `json:"new_balance"`
}

// TradeActivityPayload is the body of a trade_activity event, broadcast to
// all subscribed operators.
type TradeActivityPayload struct {
	TradeID   string    `json:"trade_id"`
	UserID    string    `json:"user_id"`
	Pair      string    `json:"pair"`
	Direction Direction `json:"direction"`
	Stake     float64   `json:"stake"`
	Outcome   *Outcome  `json:"outcome,omitempty"` // nil while the trade is active
	Profit    float64   `json:"profit"`
}

// PriceUpdatePayload is the body of a price_update event from the simulated
// market feed.
type PriceUpdatePayload struct {
	Pair      string  `json:"pair"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}
