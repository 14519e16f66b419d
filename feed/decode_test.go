package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"deriflow/config"
	"deriflow/models"
)

type fakeBooks struct {
	replaced []models.Orderbook
	removed  []string
}

func (f *fakeBooks) Replace(book models.Orderbook) { f.replaced = append(f.replaced, book) }
func (f *fakeBooks) Remove(instrument string)      { f.removed = append(f.removed, instrument) }

type fakeOrders struct {
	orderPayloads    [][]byte
	positionPayloads [][]byte
}

func (f *fakeOrders) ApplyOrderUpdate(data []byte)    { f.orderPayloads = append(f.orderPayloads, data) }
func (f *fakeOrders) ApplyPositionUpdate(data []byte) { f.positionPayloads = append(f.positionPayloads, data) }

type fakeSnapshots struct {
	body string
	err  error
}

func (f *fakeSnapshots) GetOrderbook(ctx context.Context, instrument string, depth int) (string, error) {
	return f.body, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Feed: config.FeedConfig{
			URL:        "wss://test.example/ws/api/v2",
			Depth:      10,
			IntervalMs: 100,
		},
	}
}

func newTestClient(books *fakeBooks, orders *fakeOrders, snapshots *fakeSnapshots) *Client {
	if snapshots == nil {
		snapshots = &fakeSnapshots{}
	}
	return NewClient(testConfig(), snapshots, books, orders)
}

func TestInstrumentFromChannel(t *testing.T) {
	cases := []struct {
		channel string
		want    string
	}{
		{"book.BTC-PERPETUAL.none.10.100ms", "BTC-PERPETUAL"},
		{"book.ETH-PERPETUAL.100ms", "ETH-PERPETUAL"},
		{"book.BTC-PERPETUAL", "BTC-PERPETUAL"},
		{"book.", ""},
	}
	for _, tc := range cases {
		if got := instrumentFromChannel(tc.channel); got != tc.want {
			t.Errorf("instrumentFromChannel(%q) = %q, want %q", tc.channel, got, tc.want)
		}
	}
}

func TestHandleFrameRoutesBook(t *testing.T) {
	books := &fakeBooks{}
	orders := &fakeOrders{}
	c := newTestClient(books, orders, nil)

	var callbackBook models.Orderbook
	c.SetOrderbookCallback(func(book models.Orderbook) { callbackBook = book })

	frame := `{
		"jsonrpc": "2.0",
		"method": "subscription",
		"params": {
			"channel": "book.BTC-PERPETUAL.none.10.100ms",
			"data": {"bids": [[45000.5, 2.5], [45000.0, 1.0]], "asks": [[45001.0, 3.0]]}
		}
	}`
	c.handleFrame([]byte(frame))

	if len(books.replaced) != 1 {
		t.Fatalf("expected 1 stored book, got %d", len(books.replaced))
	}
	book := books.replaced[0]
	if book.Instrument != "BTC-PERPETUAL" {
		t.Errorf("unexpected instrument: %s", book.Instrument)
	}
	if len(book.Bids) != 2 || book.Bids[0].Price != 45000.5 || book.Bids[0].Size != 2.5 {
		t.Errorf("unexpected bids: %+v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Price != 45001.0 {
		t.Errorf("unexpected asks: %+v", book.Asks)
	}
	if book.Timestamp == 0 {
		t.Errorf("expected receive timestamp to be set")
	}
	if callbackBook.Instrument != "BTC-PERPETUAL" {
		t.Errorf("callback not invoked with the decoded book")
	}
}

func TestHandleFrameRoutesOrdersAndPositions(t *testing.T) {
	books := &fakeBooks{}
	orders := &fakeOrders{}
	c := newTestClient(books, orders, nil)

	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"user.orders.BTC-PERPETUAL.raw","data":{"order_id":"order_1","state":"filled","filled_amount":10}}}`))
	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"user.portfolio.btc","data":[{"instrument_name":"BTC-PERPETUAL","size":100}]}}`))

	if len(orders.orderPayloads) != 1 {
		t.Fatalf("expected 1 order payload, got %d", len(orders.orderPayloads))
	}
	var update models.OrderUpdate
	if err := json.Unmarshal(orders.orderPayloads[0], &update); err != nil {
		t.Fatalf("order payload not decodable: %v", err)
	}
	if update.OrderID != "order_1" || update.State != "filled" {
		t.Errorf("unexpected update: %+v", update)
	}
	if len(orders.positionPayloads) != 1 {
		t.Fatalf("expected 1 position payload, got %d", len(orders.positionPayloads))
	}
	if len(books.replaced) != 0 {
		t.Errorf("order frames must not touch the book store")
	}
}

func TestHandleFrameIgnoresNoise(t *testing.T) {
	books := &fakeBooks{}
	orders := &fakeOrders{}
	c := newTestClient(books, orders, nil)

	frames := [][]byte{
		[]byte(`not json`),
		[]byte(`{"jsonrpc":"2.0","id":1001,"result":{"access_token":"x"}}`),
		[]byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"trades.BTC-PERPETUAL.raw","data":[]}}`),
		[]byte(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`),
	}
	for _, frame := range frames {
		c.handleFrame(frame)
	}

	if len(books.replaced) != 0 || len(orders.orderPayloads) != 0 || len(orders.positionPayloads) != 0 {
		t.Errorf("noise frames reached a sink")
	}
}

func TestDecodeLevelsSkipsMalformed(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`[100.0, 1.0]`),
		json.RawMessage(`[99.0]`),
		json.RawMessage(`"garbage"`),
		json.RawMessage(`[98.0, 2.0, 5]`),
	}
	levels := decodeLevels(raw)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %+v", len(levels), levels)
	}
	if levels[0].Price != 100.0 || levels[1].Price != 98.0 {
		t.Errorf("unexpected levels: %+v", levels)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	body := `{"jsonrpc":"2.0","result":{"bids":[[45000.0,1.5]],"asks":[[45001.0,2.0]],"timestamp":1700000000000}}`
	book, err := decodeSnapshot("BTC-PERPETUAL", []byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if book.Instrument != "BTC-PERPETUAL" || len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("unexpected book: %+v", book)
	}

	if _, err := decodeSnapshot("BTC-PERPETUAL", []byte(`garbage`)); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestSeedSnapshotFailureIsAbsorbed(t *testing.T) {
	books := &fakeBooks{}
	orders := &fakeOrders{}
	c := newTestClient(books, orders, &fakeSnapshots{err: errors.New("timeout")})

	c.seedSnapshot(context.Background(), "BTC-PERPETUAL")
	if len(books.replaced) != 0 {
		t.Errorf("failed snapshot stored a book")
	}

	ok := newTestClient(books, orders, &fakeSnapshots{body: `{"result":{"bids":[[100.0,1.0]],"asks":[]}}`})
	ok.seedSnapshot(context.Background(), "ETH-PERPETUAL")
	if len(books.replaced) != 1 || books.replaced[0].Instrument != "ETH-PERPETUAL" {
		t.Errorf("snapshot not stored: %+v", books.replaced)
	}
}

func TestChannelName(t *testing.T) {
	c := newTestClient(&fakeBooks{}, &fakeOrders{}, nil)
	if got := c.channelName("BTC-PERPETUAL"); got != "book.BTC-PERPETUAL.none.10.100ms" {
		t.Errorf("unexpected channel name: %s", got)
	}
}

func TestStateString(t *testing.T) {
	if StateDisconnected.String() != "disconnected" || StateReady.String() != "ready" {
		t.Errorf("unexpected state names: %s, %s", StateDisconnected, StateReady)
	}
}
