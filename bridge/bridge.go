package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"deriflow/logger"
	"deriflow/models"
)

// ChannelStats counts handoffs between the feed decode path and the
// broadcast server.
type ChannelStats struct {
	BooksSent    int64
	BooksDropped int64
}

// Channels decouples the feed read path from downstream fan-out: the feed
// callback enqueues snapshots without blocking, and the relay goroutine
// serializes and broadcasts them. A full buffer drops the snapshot; the
// next full-book replacement supersedes it anyway.
type Channels struct {
	Books chan models.Orderbook

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewChannels creates the handoff channel with the given buffer size.
func NewChannels(bookBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Books: make(chan models.Orderbook, bookBufferSize),
		log:   log,
	}

	log.WithComponent("bridge_channels").WithFields(logger.Fields{
		"book_buffer_size": bookBufferSize,
	}).Info("bridge channels initialized")

	return c
}

// Close shuts the handoff channel down once producers are finished.
func (c *Channels) Close() {
	close(c.Books)
	c.log.WithComponent("bridge_channels").Info("bridge channels closed")
}

// SendBook enqueues a snapshot without blocking the caller.
func (c *Channels) SendBook(ctx context.Context, book models.Orderbook) bool {
	select {
	case c.Books <- book:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.BooksSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.BooksDropped++
	c.statsMutex.Unlock()
}

// GetStats returns a copy of the handoff counters.
func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// Broadcaster is the slice of the broadcast server the relay needs.
type Broadcaster interface {
	BroadcastOrderbook(instrument string, payload []byte)
}

// Relay drains book snapshots, serializes each to the downstream message
// format and hands it to the broadcaster. Because a single goroutine
// drains the channel, per-instrument broadcast order matches enqueue
// order.
type Relay struct {
	channels *Channels
	target   Broadcaster
	log      *logger.Log

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewRelay wires the handoff channel to a broadcaster.
func NewRelay(channels *Channels, target Broadcaster) *Relay {
	return &Relay{
		channels: channels,
		target:   target,
		log:      logger.GetLogger(),
	}
}

// Start launches the relay worker.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.log.WithComponent("bridge_relay").Info("relay started")
	return nil
}

// Stop waits for the relay worker to drain and exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.wg.Wait()
	r.log.WithComponent("bridge_relay").Info("relay stopped")
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()
	log := r.log.WithComponent("bridge_relay").WithFields(logger.Fields{"worker": "book_relay"})

	for {
		select {
		case <-ctx.Done():
			return
		case book, ok := <-r.channels.Books:
			if !ok {
				return
			}

			payload, err := json.Marshal(models.NewOrderbookMessage(book))
			if err != nil {
				log.WithError(err).Warn("failed to serialize orderbook snapshot")
				continue
			}

			r.target.BroadcastOrderbook(book.Instrument, payload)
			logger.RecordChannelMessage("book_relay", len(payload))
		}
	}
}
