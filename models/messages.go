package models

import "encoding/json"

// Downstream message types sent to broadcast clients.
const (
	MsgTypeWelcome      = "welcome"
	MsgTypeSubscribe    = "subscribe"
	MsgTypeUnsubscribe  = "unsubscribe"
	MsgTypeSubscription = "subscription"
	MsgTypeOrderbook    = "orderbook"
	MsgTypeError        = "error"
)

// Subscription ack statuses.
const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// ClientCommand is a control message received from a downstream client.
// Only subscribe and unsubscribe are recognized.
type ClientCommand struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
}

// WelcomeMessage is sent once when a downstream client connects.
type WelcomeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SubscriptionMessage acknowledges a subscribe or unsubscribe command.
type SubscriptionMessage struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	Status     string `json:"status"`
}

// ErrorMessage reports a malformed or unrecognized client command.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OrderbookMessage is the downstream full-book replacement snapshot.
type OrderbookMessage struct {
	Type       string           `json:"type"`
	Instrument string           `json:"instrument"`
	Timestamp  int64            `json:"timestamp"`
	Bids       []OrderbookLevel `json:"bids"`
	Asks       []OrderbookLevel `json:"asks"`
}

// NewOrderbookMessage builds the downstream snapshot from a stored book.
func NewOrderbookMessage(book Orderbook) OrderbookMessage {
	return OrderbookMessage{
		Type:       MsgTypeOrderbook,
		Instrument: book.Instrument,
		Timestamp:  book.Timestamp,
		Bids:       book.Bids,
		Asks:       book.Asks,
	}
}

// RPCRequest is the JSON-RPC envelope sent to the upstream feed.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// AuthParams carries the credential grant for the public/auth request.
type AuthParams struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

// ChannelParams names the channels of a subscribe/unsubscribe request.
type ChannelParams struct {
	Channels []string `json:"channels"`
}

// RPCNotification is the envelope of every inbound upstream frame. Data
// stays raw until the channel name determines how to decode it.
type RPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// BookData is the bid/ask payload of a book channel notification and of
// the REST get_order_book result.
type BookData struct {
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}
