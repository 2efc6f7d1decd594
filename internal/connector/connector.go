package connector

import (
	"context"
	"errors"
	"fmt"

	"mlsync/internal/models"

	"github.com/shopspring/decimal"
)

// Capability names one data domain a connector can serve.
type Capability string

const (
	CapabilityProducts  Capability = "products"
	CapabilityInventory Capability = "inventory"
	CapabilityOrders    Capability = "orders"
)

// CapabilityFor maps a sync type onto the connector capability it needs.
func CapabilityFor(syncType models.SyncType) Capability {
	switch syncType {
	case models.SyncTypeInventory:
		return CapabilityInventory
	case models.SyncTypeOrders:
		return CapabilityOrders
	default:
		return CapabilityProducts
	}
}

// Item is one product record as the supplier system reports it.
type Item struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Order is one sales order pulled from the marketplace side.
type Order struct {
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Items      []OrderItem     `json:"items"`
}

// OrderItem is one line of an order, keyed by the supplier's SKU.
type OrderItem struct {
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// InventoryUpdate carries one stock level push for a master SKU.
type InventoryUpdate struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// PageRequest asks for one page of results.
type PageRequest struct {
	Offset int
	Limit  int
}

// Page is one page of items with the total the remote system reports.
// Total of 0 with a non-empty Items slice means the remote does not
// report totals; callers fall back to counting pages.
type Page struct {
	Items []Item
	Total int
}

// ErrorKind classifies a connector failure for the retry policy.
type ErrorKind int

const (
	// KindRetryable covers transient faults: timeouts, throttling, 5xx.
	KindRetryable ErrorKind = iota
	// KindFatal covers faults retries cannot fix: bad credentials,
	// malformed payloads.
	KindFatal
)

// Error is a classified connector failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connector %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient connector failure.
// Unclassified errors are treated as retryable so a flaky network
// never permanently fails a job.
func Retryable(err error) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind == KindRetryable
	}
	return true
}

func retryableErr(op string, err error) error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

func fatalErr(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Connector is the provider-facing surface a sync worker drives. All
// calls honor ctx cancellation.
type Connector interface {
	// Provider returns the provider identifier, e.g. "bling".
	Provider() string
	// Capabilities lists the sync types this connector can serve.
	Capabilities() []Capability
	// FetchProducts returns one page of the supplier's product list.
	FetchProducts(ctx context.Context, req PageRequest) (*Page, error)
	// FetchInventory returns one page of current stock levels.
	FetchInventory(ctx context.Context, req PageRequest) (*Page, error)
	// FetchOrders returns one page of recent orders.
	FetchOrders(ctx context.Context, req PageRequest) ([]Order, int, error)
	// PushInventory writes stock levels back to the remote system.
	PushInventory(ctx context.Context, updates []InventoryUpdate) error
	// PushOrders forwards resolved orders to the remote system.
	PushOrders(ctx context.Context, orders []Order) error
}

// Supports reports whether the connector serves the given sync type.
func Supports(c Connector, syncType models.SyncType) bool {
	want := CapabilityFor(syncType)
	for _, cap := range c.Capabilities() {
		if cap == want {
			return true
		}
	}
	return false
}
