package store

import (
	"sync"

	"deriflow/models"
)

// Books caches the latest full orderbook per instrument. Every update
// replaces the whole book; the store has no protocol knowledge and never
// re-sorts the levels it is given.
type Books struct {
	mu    sync.RWMutex
	books map[string]models.Orderbook
}

// NewBooks creates an empty orderbook cache.
func NewBooks() *Books {
	return &Books{books: make(map[string]models.Orderbook)}
}

// Replace stores the snapshot as the new book for its instrument.
func (s *Books) Replace(book models.Orderbook) {
	s.mu.Lock()
	s.books[book.Instrument] = book.Clone()
	s.mu.Unlock()
}

// Get returns a copy of the current book for the instrument, or an empty
// book carrying just the instrument name when none is cached.
func (s *Books) Get(instrument string) models.Orderbook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if book, ok := s.books[instrument]; ok {
		return book.Clone()
	}
	return models.Orderbook{Instrument: instrument}
}

// Remove drops the cached book for an instrument, typically after an
// unsubscribe.
func (s *Books) Remove(instrument string) {
	s.mu.Lock()
	delete(s.books, instrument)
	s.mu.Unlock()
}

// Instruments lists the instruments with a cached book.
func (s *Books) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.books))
	for instrument := range s.books {
		result = append(result, instrument)
	}
	return result
}
