package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// Order is a submitted order record, owned exclusively by Lifecycle's
// Registry. ID is locally generated and unique; ExchangeOrderID is
// assigned once submission succeeds and never changes afterwards.
type Order struct {
	ID                string
	ExchangeOrderID   string
	Instrument        string
	Side              exchange.Side
	Type              exchange.OrderType
	RequestedQuantity decimal.Decimal
	LimitPrice        decimal.Decimal
	Status            exchange.OrderStatus
	FilledQuantity    decimal.Decimal
	AverageFillPrice  decimal.Decimal
	Fees              decimal.Decimal
	CreatedAt         time.Time
	SubmittedAt       time.Time
	FilledAt          time.Time
	Metadata          map[string]string
}

// Registry holds every Order record the process has created. Each record
// has a single writer (the poller task driving that order); the registry
// only serializes map access and transition validation.
type Registry struct {
	mu     sync.Mutex
	orders map[string]*Order
}

// NewRegistry builds an empty order registry.
func NewRegistry() *Registry {
	return &Registry{orders: make(map[string]*Order)}
}

// Create mints a new PENDING order record with a locally unique ID.
func (r *Registry) Create(instrument string, side exchange.Side, typ exchange.OrderType, quantity, limitPrice decimal.Decimal) Order {
	o := &Order{
		ID:                uuid.NewString(),
		Instrument:        instrument,
		Side:              side,
		Type:              typ,
		RequestedQuantity: quantity,
		LimitPrice:        limitPrice,
		Status:            exchange.StatusPending,
		CreatedAt:         time.Now(),
	}
	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()
	return *o
}

// MarkSubmitted transitions PENDING -> SUBMITTED and records the
// exchange-assigned order ID. The exchange ID is written exactly once.
func (r *Registry) MarkSubmitted(id, exchangeOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	if o.Status != exchange.StatusPending {
		return exchange.New(exchange.KindInvariantViolation, "MarkSubmitted",
			fmt.Errorf("order %s is %s, not PENDING", id, o.Status))
	}
	o.Status = exchange.StatusSubmitted
	o.ExchangeOrderID = exchangeOrderID
	o.SubmittedAt = time.Now()
	return nil
}

// UpdateStatus applies a status report to the record, enforcing the
// transition DAG: PENDING -> SUBMITTED -> {FILLED | PARTIALLY_FILLED ->
// {FILLED | CANCELLED | EXPIRED} | REJECTED | CANCELLED | EXPIRED}.
// Re-applying the current terminal status with identical fill details is
// a no-op, so a retried poll result cannot double-apply.
func (r *Registry) UpdateStatus(id string, report exchange.OrderStatusReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}

	if o.Status == report.Status {
		if o.Status.IsTerminal() {
			return nil // idempotent re-apply
		}
	} else if !transitionAllowed(o.Status, report.Status) {
		return exchange.New(exchange.KindInvariantViolation, "UpdateStatus",
			fmt.Errorf("order %s: illegal transition %s -> %s", id, o.Status, report.Status))
	}

	if report.FilledQuantity.GreaterThan(o.RequestedQuantity) {
		return exchange.New(exchange.KindInvariantViolation, "UpdateStatus",
			fmt.Errorf("order %s: filled %s exceeds requested %s", id, report.FilledQuantity, o.RequestedQuantity))
	}

	o.Status = report.Status
	o.FilledQuantity = report.FilledQuantity
	if !report.AverageFillPrice.IsZero() {
		o.AverageFillPrice = report.AverageFillPrice
	}
	if report.Status == exchange.StatusFilled && o.FilledAt.IsZero() {
		o.FilledAt = time.Now()
	}
	return nil
}

// SetFees records the quote-converted fee total for an order.
func (r *Registry) SetFees(id string, fees decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		o.Fees = fees
	}
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Open returns copies of every record not yet in a terminal state.
func (r *Registry) Open() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

func transitionAllowed(from, to exchange.OrderStatus) bool {
	switch from {
	case exchange.StatusPending:
		return to == exchange.StatusSubmitted || to == exchange.StatusRejected
	case exchange.StatusSubmitted:
		switch to {
		case exchange.StatusFilled, exchange.StatusPartiallyFilled,
			exchange.StatusRejected, exchange.StatusCancelled, exchange.StatusExpired:
			return true
		}
		return false
	case exchange.StatusPartiallyFilled:
		switch to {
		case exchange.StatusPartiallyFilled, exchange.StatusFilled,
			exchange.StatusCancelled, exchange.StatusExpired:
			return true
		}
		return false
	default:
		return false
	}
}
