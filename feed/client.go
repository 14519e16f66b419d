package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"deriflow/api"
	"deriflow/config"
	"deriflow/logger"
	"deriflow/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State tracks the connection/authentication/subscription protocol
// progression of the upstream feed client.
type State int32

const (
	StateDisconnected State = iota
	StateResolvingHost
	StateConnecting
	StateTLSHandshaking
	StateProtocolHandshaking
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResolvingHost:
		return "resolving_host"
	case StateConnecting:
		return "connecting"
	case StateTLSHandshaking:
		return "tls_handshaking"
	case StateProtocolHandshaking:
		return "protocol_handshaking"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SnapshotFetcher is the slice of the external request boundary used to
// seed a freshly subscribed instrument with a correct base book.
type SnapshotFetcher interface {
	GetOrderbook(ctx context.Context, instrument string, depth int) (string, error)
}

// OrderSink receives the raw payloads of order and position channels.
type OrderSink interface {
	ApplyOrderUpdate(data []byte)
	ApplyPositionUpdate(data []byte)
}

// BookSink stores decoded orderbook snapshots.
type BookSink interface {
	Replace(book models.Orderbook)
	Remove(instrument string)
}

// OrderbookCallback is invoked synchronously with every new snapshot.
type OrderbookCallback func(models.Orderbook)

// Client owns the single encrypted streaming connection to the exchange.
// Reads and writes on that connection are strictly serialized: one reader
// goroutine, one writer goroutine fed by the outbound channel. There is no
// automatic reconnect; a transport failure halts the client in the closed
// state and the caller decides whether to build a new one.
type Client struct {
	cfg    *config.Config
	api    SnapshotFetcher
	books  BookSink
	orders OrderSink
	log    *logger.Log

	state atomic.Int32
	reqID atomic.Int64

	conn      *websocket.Conn
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	subsMu sync.Mutex
	subs   map[string]struct{}

	callbackMu sync.RWMutex
	callback   OrderbookCallback
}

// NewClient builds a feed client. The connection is not established until
// Connect is called.
func NewClient(cfg *config.Config, snapshots SnapshotFetcher, books BookSink, orders OrderSink) *Client {
	c := &Client{
		cfg:      cfg,
		api:      snapshots,
		books:    books,
		orders:   orders,
		log:      logger.GetLogger(),
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
		subs:     make(map[string]struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	c.reqID.Store(1000)
	return c
}

// State returns the current protocol state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.WithComponent("feed_client").WithFields(logger.Fields{
			"from": prev.String(),
			"to":   s.String(),
		}).Debug("state transition")
	}
}

// SetOrderbookCallback registers the callback invoked with every decoded
// book snapshot, both initial REST seeds and push frames.
func (c *Client) SetOrderbookCallback(cb OrderbookCallback) {
	c.callbackMu.Lock()
	c.callback = cb
	c.callbackMu.Unlock()
}

// Connect drives the full connection sequence: host resolution, TCP
// connect, TLS handshake, websocket upgrade, then authentication. It
// returns once the client is ready; failure at any step leaves the client
// closed.
func (c *Client) Connect(ctx context.Context) error {
	if State(c.state.Load()) != StateDisconnected {
		return fmt.Errorf("feed client already started (state %s)", c.State())
	}

	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"url": c.cfg.Feed.URL})

	parsed, err := url.Parse(c.cfg.Feed.URL)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("parse feed url: %w", err)
	}

	host := parsed.Hostname()
	c.setState(StateResolvingHost)
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		log.WithError(err).Error("failed to resolve feed host")
		c.setState(StateClosed)
		return fmt.Errorf("resolve %s: %w", host, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		NetDialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c.setState(StateConnecting)
			raw, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			c.setState(StateTLSHandshaking)
			tlsConn := tls.Client(raw, &tls.Config{
				ServerName: host,
				MinVersion: tls.VersionTLS12,
			})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				raw.Close()
				return nil, err
			}

			c.setState(StateProtocolHandshaking)
			return tlsConn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.Feed.URL, nil)
	if err != nil {
		log.WithError(err).Error("failed to connect feed websocket")
		c.setState(StateClosed)
		return fmt.Errorf("dial feed: %w", err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.writeLoop()

	c.setState(StateAuthenticating)
	if err := c.authenticate(); err != nil {
		log.WithError(err).Error("failed to send authentication request")
		c.fail(err)
		return err
	}

	c.setState(StateReady)
	log.Info("feed connection ready")

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// authenticate sends the credential grant as the first message after the
// protocol handshake. When a client secret is configured the request also
// carries the signed timestamp+nonce composition. No response-driven retry
// exists; data messages must not be sent before this completes.
func (c *Client) authenticate() error {
	params := models.AuthParams{
		GrantType: "client_credentials",
		ClientID:  c.cfg.Feed.ClientID,
	}
	if secret := c.cfg.Feed.ClientSecret; secret != "" {
		timestamp := time.Now().UnixMilli()
		nonce := uuid.NewString()
		params.Timestamp = timestamp
		params.Nonce = nonce
		params.Signature = api.Signature(secret, strconv.FormatInt(timestamp, 10), nonce, "")
		params.ClientSecret = secret
	}

	return c.send(models.RPCRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "public/auth",
		Params:  params,
	})
}

// Subscribe fetches the current book through the REST boundary so
// subscribers start from a correct base state, then enables the push
// subscription for the instrument. Subscribing twice is a no-op.
func (c *Client) Subscribe(ctx context.Context, instrument string) error {
	c.subsMu.Lock()
	if _, ok := c.subs[instrument]; ok {
		c.subsMu.Unlock()
		return nil
	}
	c.subs[instrument] = struct{}{}
	c.subsMu.Unlock()

	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"instrument": instrument})

	c.seedSnapshot(ctx, instrument)

	if err := c.send(models.RPCRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "public/subscribe",
		Params:  models.ChannelParams{Channels: []string{c.channelName(instrument)}},
	}); err != nil {
		return err
	}

	log.Info("subscribed to orderbook channel")
	return nil
}

// Unsubscribe disables the push subscription and drops the cached book.
// Unsubscribing an unknown instrument is a no-op.
func (c *Client) Unsubscribe(instrument string) error {
	c.subsMu.Lock()
	if _, ok := c.subs[instrument]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subs, instrument)
	c.subsMu.Unlock()

	if err := c.send(models.RPCRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "public/unsubscribe",
		Params:  models.ChannelParams{Channels: []string{c.channelName(instrument)}},
	}); err != nil {
		return err
	}

	c.books.Remove(instrument)
	c.log.WithComponent("feed_client").WithFields(logger.Fields{"instrument": instrument}).Info("unsubscribed from orderbook channel")
	return nil
}

// Subscribed lists the currently subscribed instruments.
func (c *Client) Subscribed() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	result := make([]string, 0, len(c.subs))
	for instrument := range c.subs {
		result = append(result, instrument)
	}
	return result
}

// Close unsubscribes every instrument and shuts the connection down. Safe
// to call more than once and concurrently with in-flight sends.
func (c *Client) Close() {
	for _, instrument := range c.Subscribed() {
		if err := c.Unsubscribe(instrument); err != nil {
			c.log.WithComponent("feed_client").WithError(err).Debug("unsubscribe during close failed")
		}
	}

	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
	})
	c.wg.Wait()
}

// fail terminates the state machine after a transport error. The client
// stays closed; there is no automatic reconnect.
func (c *Client) fail(err error) {
	c.log.WithComponent("feed_client").WithError(err).Error("feed connection failed")
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// send serializes the message and hands it to the writer goroutine. All
// outbound traffic funnels through here so frames never interleave.
func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("feed connection closed")
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"worker": "write_loop"})

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithError(err).Warn("write failed")
				go c.fail(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"worker": "read_loop"})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate close, not a transport failure.
			default:
				log.WithError(err).Warn("read failed")
				go c.fail(err)
			}
			return
		}

		logger.IncrementFeedFrame(len(data))
		c.handleFrame(data)
	}
}

func (c *Client) channelName(instrument string) string {
	return fmt.Sprintf("book.%s.none.%d.%dms", instrument, c.cfg.Feed.Depth, c.cfg.Feed.IntervalMs)
}

func (c *Client) notify(book models.Orderbook) {
	c.callbackMu.RLock()
	cb := c.callback
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(book)
	}
}

// seedSnapshot fetches and stores the initial book for an instrument.
// Failures are logged and absorbed; the push subscription still proceeds
// and the first push frame becomes the base state instead.
func (c *Client) seedSnapshot(ctx context.Context, instrument string) {
	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"instrument": instrument, "operation": "seed_snapshot"})

	body, err := c.api.GetOrderbook(ctx, instrument, c.cfg.Feed.Depth)
	if err != nil {
		log.WithError(err).Warn("failed to fetch initial orderbook")
		return
	}
	logger.IncrementSnapshotRead(len(body))

	book, err := decodeSnapshot(instrument, []byte(body))
	if err != nil {
		log.WithError(err).Warn("failed to decode initial orderbook")
		return
	}

	c.books.Replace(book)
	c.notify(book)
	logger.LogDataFlowEntry(log, "snapshot_rest", "book_store", len(book.Bids)+len(book.Asks), "orderbook_levels")
}
