package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"deriflow/config"
	"deriflow/logger"

	"golang.org/x/time/rate"
)

// Requester is the external request boundary for order and account
// operations: an opaque synchronous call that yields a response body or a
// failure. The concrete transport is HTTPS REST, but stores and the feed
// client only depend on this interface.
type Requester interface {
	Do(ctx context.Context, method, endpoint string, params map[string]string) (string, error)
}

// Auth carries the exchange credentials.
type Auth struct {
	ClientID     string
	ClientSecret string
}

// Client is the HTTPS REST client for the exchange API.
type Client struct {
	auth       Auth
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewClient builds a REST client from configuration. The connection pool
// and timeout come from the api section; requests are paced by a shared
// rate limiter so bursts of order traffic cannot trip the exchange limits.
func NewClient(cfg *config.Config, auth Auth) *Client {
	transport := &http.Transport{
		MaxIdleConns:       cfg.API.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:    cfg.API.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:    cfg.API.ConnectionPool.IdleConnTimeout,
		DisableCompression: false,
	}

	rl := cfg.API.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		auth:    auth,
		baseURL: strings.TrimRight(cfg.API.URL, "/"),
		httpClient: &http.Client{
			Transport: userAgentTransport{agent: "deriflow/1.0", base: transport},
			Timeout:   cfg.API.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// Do performs a single REST request. Private endpoints are signed with the
// HMAC-SHA256 credential scheme before dispatch.
func (c *Client) Do(ctx context.Context, method, endpoint string, params map[string]string) (string, error) {
	log := c.log.WithComponent("api_client").WithFields(logger.Fields{"endpoint": endpoint})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	query := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, params[k])
	}

	reqURL := c.baseURL + endpoint
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	if strings.Contains(endpoint, "/private/") {
		c.signRequest(req, method, endpoint+"?"+query.Encode())
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return "", fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.WithFields(logger.Fields{"status": res.StatusCode}).Warn("non-success response")
		return "", fmt.Errorf("request %s %s: status %d", method, endpoint, res.StatusCode)
	}

	return string(body), nil
}

// PlaceOrder submits a new order. Buy and sell use distinct endpoints on
// the exchange API.
func (c *Client) PlaceOrder(ctx context.Context, instrument string, isBuy bool, price, amount float64, orderType string) (string, error) {
	params := map[string]string{
		"instrument_name": instrument,
		"type":            orderType,
		"price":           strconv.FormatFloat(price, 'f', -1, 64),
		"amount":          strconv.FormatFloat(amount, 'f', -1, 64),
	}
	endpoint := "/api/v2/private/buy"
	if !isBuy {
		endpoint = "/api/v2/private/sell"
	}
	return c.Do(ctx, http.MethodPost, endpoint, params)
}

// CancelOrder cancels an open order by identifier.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.Do(ctx, http.MethodPost, "/api/v2/private/cancel", map[string]string{"order_id": orderID})
	return err
}

// ModifyOrder changes price and amount of an open order.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, newPrice, newAmount float64) error {
	_, err := c.Do(ctx, http.MethodPost, "/api/v2/private/edit", map[string]string{
		"order_id": orderID,
		"price":    strconv.FormatFloat(newPrice, 'f', -1, 64),
		"amount":   strconv.FormatFloat(newAmount, 'f', -1, 64),
	})
	return err
}

// GetOrderbook fetches the current book for an instrument at the given depth.
func (c *Client) GetOrderbook(ctx context.Context, instrument string, depth int) (string, error) {
	return c.Do(ctx, http.MethodGet, "/api/v2/public/get_order_book", map[string]string{
		"instrument_name": instrument,
		"depth":           strconv.Itoa(depth),
	})
}

// GetPositions fetches the full current position set.
func (c *Client) GetPositions(ctx context.Context) (string, error) {
	return c.Do(ctx, http.MethodGet, "/api/v2/private/get_positions", nil)
}

func (c *Client) signRequest(req *http.Request, method, uri string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := newNonce()
	data := method + "\n" + uri

	req.Header.Set("X-Client-Id", c.auth.ClientID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", Signature(c.auth.ClientSecret, timestamp, nonce, data))
}
