package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deriflow/logger"
	"deriflow/models"
)

const (
	bookChannelPrefix     = "book."
	orderChannelPrefix    = "user.orders."
	positionChannelPrefix = "user.portfolio."
)

// handleFrame parses one inbound message and routes it by channel. Every
// frame is parsed independently; a malformed frame is logged and dropped,
// never allowed to terminate the connection.
func (c *Client) handleFrame(data []byte) {
	log := c.log.WithComponent("feed_client")

	var notification models.RPCNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		log.WithError(err).Warn("failed to parse inbound frame, discarding")
		return
	}

	if notification.Method != "subscription" {
		// Responses to auth/subscribe requests; nothing to route.
		log.WithFields(logger.Fields{"method": notification.Method}).Debug("ignoring non-subscription frame")
		return
	}

	channel := notification.Params.Channel
	switch {
	case strings.HasPrefix(channel, bookChannelPrefix):
		c.handleBookFrame(channel, notification.Params.Data)
	case strings.HasPrefix(channel, orderChannelPrefix):
		c.orders.ApplyOrderUpdate(notification.Params.Data)
	case strings.HasPrefix(channel, positionChannelPrefix):
		c.orders.ApplyPositionUpdate(notification.Params.Data)
	default:
		log.WithFields(logger.Fields{"channel": channel}).Debug("ignoring frame for unhandled channel")
	}
}

// handleBookFrame decodes a book push, replaces the stored snapshot and
// notifies the registered callback.
func (c *Client) handleBookFrame(channel string, data []byte) {
	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"channel": channel})

	instrument := instrumentFromChannel(channel)
	if instrument == "" {
		log.Warn("book channel missing instrument, discarding")
		return
	}

	var payload models.BookData
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Warn("failed to parse book payload, discarding")
		return
	}

	book := models.Orderbook{
		Instrument: instrument,
		Bids:       decodeLevels(payload.Bids),
		Asks:       decodeLevels(payload.Asks),
		Timestamp:  time.Now().UnixMilli(),
	}

	c.books.Replace(book)
	c.notify(book)
}

// instrumentFromChannel strips the fixed channel prefix and the depth and
// interval qualifiers: "book.BTC-PERPETUAL.none.10.100ms" → "BTC-PERPETUAL".
func instrumentFromChannel(channel string) string {
	rest := strings.TrimPrefix(channel, bookChannelPrefix)
	if idx := strings.Index(rest, "."); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// decodeLevels extracts [price, size] pairs. Malformed entries are skipped,
// not fatal; the feed occasionally pads levels with extra metadata.
func decodeLevels(raw []json.RawMessage) []models.OrderbookLevel {
	levels := make([]models.OrderbookLevel, 0, len(raw))
	for _, entry := range raw {
		var level models.OrderbookLevel
		if err := json.Unmarshal(entry, &level); err != nil {
			continue
		}
		levels = append(levels, level)
	}
	return levels
}

// decodeSnapshot parses the REST get_order_book response body with the
// same level-extraction rule as push frames.
func decodeSnapshot(instrument string, body []byte) (models.Orderbook, error) {
	var response struct {
		Result struct {
			Bids []json.RawMessage `json:"bids"`
			Asks []json.RawMessage `json:"asks"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return models.Orderbook{}, fmt.Errorf("parse orderbook snapshot: %w", err)
	}

	return models.Orderbook{
		Instrument: instrument,
		Bids:       decodeLevels(response.Result.Bids),
		Asks:       decodeLevels(response.Result.Asks),
		Timestamp:  time.Now().UnixMilli(),
	}, nil
}
