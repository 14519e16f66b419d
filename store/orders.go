package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"deriflow/logger"
	"deriflow/models"

	"github.com/google/uuid"
)

// OrderAPI is the slice of the external request boundary the order store
// needs. Failures must propagate as errors and must not partially mutate
// local state.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, instrument string, isBuy bool, price, amount float64, orderType string) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	ModifyOrder(ctx context.Context, orderID string, newPrice, newAmount float64) error
}

// Orders is the authoritative, thread-safe record of all orders and the
// current position set. Orders are keyed by identifier and exclusively
// owned by the store; every query returns independent copies.
type Orders struct {
	api OrderAPI
	log *logger.Log

	ordersMu sync.RWMutex
	orders   map[string]models.Order

	positionsMu sync.RWMutex
	positions   map[string]float64
}

// NewOrders creates an empty order/position store backed by the given API.
func NewOrders(api OrderAPI) *Orders {
	return &Orders{
		api:       api,
		log:       logger.GetLogger(),
		orders:    make(map[string]models.Order),
		positions: make(map[string]float64),
	}
}

// Place issues the external placement request, synthesizes a unique order
// identifier, records the order as open and returns the identifier. On
// request failure nothing is recorded.
func (s *Orders) Place(ctx context.Context, instrument string, side models.OrderSide, price, amount float64, orderType models.OrderType) (string, error) {
	log := s.log.WithComponent("order_store").WithFields(logger.Fields{
		"instrument": instrument,
		"side":       side,
		"type":       orderType,
	})

	if _, err := s.api.PlaceOrder(ctx, instrument, side == models.SideBuy, price, amount, string(orderType)); err != nil {
		log.WithError(err).Warn("order placement request failed")
		return "", err
	}

	orderID := "order_" + uuid.NewString()
	now := time.Now()
	order := models.Order{
		OrderID:    orderID,
		Instrument: instrument,
		Side:       side,
		Type:       orderType,
		Price:      price,
		Amount:     amount,
		Status:     models.StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.ordersMu.Lock()
	s.orders[orderID] = order
	s.ordersMu.Unlock()

	log.WithFields(logger.Fields{"order_id": orderID}).Info("order placed")
	return orderID, nil
}

// Cancel issues the external cancel request. On success the order, if
// still tracked, transitions to cancelled. Returns false without mutation
// when the external call fails; an unknown identifier is not an error.
func (s *Orders) Cancel(ctx context.Context, orderID string) bool {
	log := s.log.WithComponent("order_store").WithFields(logger.Fields{"order_id": orderID})

	if err := s.api.CancelOrder(ctx, orderID); err != nil {
		log.WithError(err).Warn("order cancel request failed")
		return false
	}

	s.ordersMu.Lock()
	if order, ok := s.orders[orderID]; ok {
		order.Status = models.StatusCancelled
		order.UpdatedAt = time.Now()
		s.orders[orderID] = order
	}
	s.ordersMu.Unlock()

	log.Info("order cancelled")
	return true
}

// Modify issues the external modify request. On success price and amount
// are overwritten in place; status and fill history are preserved.
func (s *Orders) Modify(ctx context.Context, orderID string, newPrice, newAmount float64) bool {
	log := s.log.WithComponent("order_store").WithFields(logger.Fields{"order_id": orderID})

	if err := s.api.ModifyOrder(ctx, orderID, newPrice, newAmount); err != nil {
		log.WithError(err).Warn("order modify request failed")
		return false
	}

	s.ordersMu.Lock()
	if order, ok := s.orders[orderID]; ok {
		order.Price = newPrice
		order.Amount = newAmount
		order.UpdatedAt = time.Now()
		s.orders[orderID] = order
	}
	s.ordersMu.Unlock()

	log.Info("order modified")
	return true
}

// ApplyOrderUpdate applies an inbound order-state message. Updates for
// unknown identifiers are silently ignored; the order may have been placed
// by another session or predate this process. Explicit terminal states
// take priority over the partial-fill inference.
func (s *Orders) ApplyOrderUpdate(data []byte) {
	log := s.log.WithComponent("order_store")

	var update models.OrderUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.WithError(err).Warn("failed to parse order update")
		return
	}
	if update.OrderID == "" {
		log.Warn("order update missing order_id")
		return
	}

	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()

	order, ok := s.orders[update.OrderID]
	if !ok {
		log.WithFields(logger.Fields{"order_id": update.OrderID}).Debug("order update for unknown order ignored")
		return
	}

	order.FilledAmount = update.FilledAmount
	order.UpdatedAt = time.Now()

	switch update.State {
	case "filled":
		order.Status = models.StatusFilled
	case "cancelled":
		order.Status = models.StatusCancelled
	case "rejected":
		order.Status = models.StatusRejected
		if update.Error != "" {
			order.ErrorMessage = update.Error
		}
	default:
		if update.FilledAmount > 0 && update.FilledAmount < order.Amount {
			order.Status = models.StatusPartiallyFilled
		}
	}

	s.orders[update.OrderID] = order
}

// ApplyPositionUpdate replaces the entire position map with the inbound
// snapshot. The feed always sends the full position set, so merging with
// stale entries would be wrong.
func (s *Orders) ApplyPositionUpdate(data []byte) {
	log := s.log.WithComponent("order_store")

	var entries []models.PositionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.WithError(err).Warn("failed to parse position update")
		return
	}

	next := make(map[string]float64, len(entries))
	for _, entry := range entries {
		next[entry.InstrumentName] = entry.Size
	}

	s.positionsMu.Lock()
	s.positions = next
	s.positionsMu.Unlock()
}

// All returns copies of every tracked order, newest first.
func (s *Orders) All() []models.Order {
	s.ordersMu.RLock()
	result := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		result = append(result, order)
	}
	s.ordersMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Open returns copies of orders still working (open or partially filled),
// newest first.
func (s *Orders) Open() []models.Order {
	s.ordersMu.RLock()
	result := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if order.Status == models.StatusOpen || order.Status == models.StatusPartiallyFilled {
			result = append(result, order)
		}
	}
	s.ordersMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// ByID returns a copy of the order with the given identifier. An unknown
// identifier yields a synthetic rejected record explaining the miss;
// callers must treat it as "not found", not as a real rejection.
func (s *Orders) ByID(orderID string) models.Order {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()

	if order, ok := s.orders[orderID]; ok {
		return order
	}

	return models.Order{
		OrderID:      orderID,
		Status:       models.StatusRejected,
		ErrorMessage: "Order not found",
	}
}

// Positions returns an independent copy of the current position map.
func (s *Orders) Positions() map[string]float64 {
	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()

	result := make(map[string]float64, len(s.positions))
	for instrument, size := range s.positions {
		result[instrument] = size
	}
	return result
}
