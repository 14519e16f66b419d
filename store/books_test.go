package store

import (
	"sync"
	"testing"

	"deriflow/models"
)

func sampleBook(instrument string, ts int64) models.Orderbook {
	return models.Orderbook{
		Instrument: instrument,
		Bids:       []models.OrderbookLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks:       []models.OrderbookLevel{{Price: 101, Size: 3}},
		Timestamp:  ts,
	}
}

func TestBooksReplaceAndGet(t *testing.T) {
	s := NewBooks()
	s.Replace(sampleBook("BTC-PERPETUAL", 1))

	book := s.Get("BTC-PERPETUAL")
	if book.Timestamp != 1 || len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("unexpected book: %+v", book)
	}

	s.Replace(sampleBook("BTC-PERPETUAL", 2))
	if got := s.Get("BTC-PERPETUAL").Timestamp; got != 2 {
		t.Errorf("replace did not overwrite, timestamp = %d", got)
	}
}

func TestBooksGetMissing(t *testing.T) {
	s := NewBooks()
	book := s.Get("ETH-PERPETUAL")
	if book.Instrument != "ETH-PERPETUAL" {
		t.Errorf("unexpected instrument: %s", book.Instrument)
	}
	if len(book.Bids) != 0 || len(book.Asks) != 0 || book.Timestamp != 0 {
		t.Errorf("expected empty book, got %+v", book)
	}
}

func TestBooksCopyOut(t *testing.T) {
	s := NewBooks()
	original := sampleBook("BTC-PERPETUAL", 1)
	s.Replace(original)

	// Mutating the caller's slice after Replace must not reach the store.
	original.Bids[0].Price = 0
	if s.Get("BTC-PERPETUAL").Bids[0].Price != 100 {
		t.Errorf("store shares storage with producer")
	}

	// Mutating a Get result must not reach the store.
	got := s.Get("BTC-PERPETUAL")
	got.Bids[0].Price = 0
	if s.Get("BTC-PERPETUAL").Bids[0].Price != 100 {
		t.Errorf("store shares storage with consumer")
	}
}

func TestBooksRemove(t *testing.T) {
	s := NewBooks()
	s.Replace(sampleBook("BTC-PERPETUAL", 1))
	s.Replace(sampleBook("ETH-PERPETUAL", 1))

	s.Remove("BTC-PERPETUAL")
	s.Remove("SOL-PERPETUAL")

	instruments := s.Instruments()
	if len(instruments) != 1 || instruments[0] != "ETH-PERPETUAL" {
		t.Fatalf("unexpected instruments: %v", instruments)
	}
}

func TestBooksConcurrentAccess(t *testing.T) {
	s := NewBooks()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Replace(sampleBook("BTC-PERPETUAL", ts))
				_ = s.Get("BTC-PERPETUAL")
			}
		}(int64(i))
	}
	wg.Wait()

	if got := s.Get("BTC-PERPETUAL"); len(got.Bids) != 2 {
		t.Errorf("unexpected book after concurrent writes: %+v", got)
	}
}
