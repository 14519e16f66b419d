package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deriflow/config"
)

func testClient(baseURL string) *Client {
	cfg := &config.Config{
		API: config.APIConfig{
			URL:     baseURL,
			Timeout: 5 * time.Second,
			RateLimit: config.RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         100,
			},
		},
	}
	return NewClient(cfg, Auth{ClientID: "id-123", ClientSecret: "secret-456"})
}

func TestSignature(t *testing.T) {
	secret := "secret-456"
	timestamp := "1700000000000"
	nonce := "abc"
	data := "GET\n/api/v2/private/get_positions?"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + nonce + "\n" + data))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := Signature(secret, timestamp, nonce, data); got != want {
		t.Fatalf("signature mismatch: %s != %s", got, want)
	}

	if Signature(secret, timestamp, nonce, data) == Signature("other", timestamp, nonce, data) {
		t.Fatalf("signature must depend on the secret")
	}
	if Signature(secret, timestamp, nonce, data) == Signature(secret, timestamp, "other", data) {
		t.Fatalf("signature must depend on the nonce")
	}
}

func TestDoPublicEndpoint(t *testing.T) {
	var gotURL string
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	body, err := c.GetOrderbook(context.Background(), "BTC-PERPETUAL", 10)
	if err != nil {
		t.Fatalf("get orderbook: %v", err)
	}
	if body != `{"result":{}}` {
		t.Errorf("unexpected body: %s", body)
	}
	if gotURL != "/api/v2/public/get_order_book?depth=10&instrument_name=BTC-PERPETUAL" {
		t.Errorf("unexpected request url: %s", gotURL)
	}
	if gotHeaders.Get("X-Signature") != "" {
		t.Errorf("public endpoint must not be signed")
	}
	if gotHeaders.Get("User-Agent") != "deriflow/1.0" {
		t.Errorf("unexpected user agent: %s", gotHeaders.Get("User-Agent"))
	}
}

func TestDoPrivateEndpointIsSigned(t *testing.T) {
	var gotMethod string
	var gotHeaders http.Header
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeaders = r.Header.Clone()
		gotURI = r.URL.RequestURI()
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.PlaceOrder(context.Background(), "BTC-PERPETUAL", true, 45000, 10, "limit"); err != nil {
		t.Fatalf("place order: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("unexpected method: %s", gotMethod)
	}
	if gotHeaders.Get("X-Client-Id") != "id-123" {
		t.Errorf("unexpected client id header: %s", gotHeaders.Get("X-Client-Id"))
	}
	timestamp := gotHeaders.Get("X-Timestamp")
	nonce := gotHeaders.Get("X-Nonce")
	if timestamp == "" || nonce == "" {
		t.Fatalf("missing timestamp or nonce headers")
	}

	want := Signature("secret-456", timestamp, nonce, http.MethodPost+"\n"+gotURI)
	if got := gotHeaders.Get("X-Signature"); got != want {
		t.Errorf("signature mismatch: %s != %s", got, want)
	}
}

func TestPlaceOrderEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.PlaceOrder(context.Background(), "BTC-PERPETUAL", true, 45000, 10, "limit"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := c.PlaceOrder(context.Background(), "BTC-PERPETUAL", false, 45000, 10, "limit"); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/api/v2/private/buy" || paths[1] != "/api/v2/private/sell" {
		t.Errorf("unexpected endpoints: %v", paths)
	}
}

func TestDoNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.CancelOrder(context.Background(), "order_1"); err == nil {
		t.Fatalf("expected error for non-success status")
	}
}

func TestDoContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(srv.URL)
	if _, err := c.Do(ctx, http.MethodGet, "/api/v2/public/get_order_book", nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
