package connector

import (
	"context"
	"sync"
)

// SandboxConnector serves a fixed in-memory dataset. Used for the
// "sandbox" provider in configuration and as the default fixture in
// tests: no network, deterministic paging.
type SandboxConnector struct {
	provider string

	mu           sync.Mutex
	items        []Item
	orders       []Order
	inventory    map[string]int
	pushed       []Order
	pushErr      error
	fetchErr     error
	fetchFails   int
	fetchFailErr error
}

func NewSandboxConnector(items []Item) *SandboxConnector {
	return &SandboxConnector{
		provider:  "sandbox",
		items:     items,
		inventory: make(map[string]int),
	}
}

func (c *SandboxConnector) Provider() string { return c.provider }

func (c *SandboxConnector) Capabilities() []Capability {
	return []Capability{CapabilityProducts, CapabilityInventory, CapabilityOrders}
}

// SetOrders replaces the order fixture.
func (c *SandboxConnector) SetOrders(orders []Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = orders
}

// FailFetchWith makes every subsequent fetch return err until cleared
// with nil.
func (c *SandboxConnector) FailFetchWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

// FailFetchTimes makes the next n fetches return err, then heal.
func (c *SandboxConnector) FailFetchTimes(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchFails = n
	c.fetchFailErr = err
}

// FailPushWith makes every subsequent inventory push return err until
// cleared with nil.
func (c *SandboxConnector) FailPushWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushErr = err
}

// Inventory returns the last pushed quantity for a SKU.
func (c *SandboxConnector) Inventory(sku string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.inventory[sku]
	return qty, ok
}

// PushedOrders returns every order received through PushOrders.
func (c *SandboxConnector) PushedOrders() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Order(nil), c.pushed...)
}

func (c *SandboxConnector) FetchProducts(ctx context.Context, req PageRequest) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if c.fetchFails > 0 {
		c.fetchFails--
		return nil, c.fetchFailErr
	}

	page := &Page{Total: len(c.items)}
	if req.Offset >= len(c.items) {
		return page, nil
	}

	end := len(c.items)
	if req.Limit > 0 && req.Offset+req.Limit < end {
		end = req.Offset + req.Limit
	}
	page.Items = append(page.Items, c.items[req.Offset:end]...)
	return page, nil
}

// FetchInventory serves stock levels off the same item fixture.
func (c *SandboxConnector) FetchInventory(ctx context.Context, req PageRequest) (*Page, error) {
	return c.FetchProducts(ctx, req)
}

func (c *SandboxConnector) FetchOrders(ctx context.Context, req PageRequest) ([]Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return nil, 0, c.fetchErr
	}
	if c.fetchFails > 0 {
		c.fetchFails--
		return nil, 0, c.fetchFailErr
	}

	total := len(c.orders)
	if req.Offset >= total {
		return nil, total, nil
	}
	end := total
	if req.Limit > 0 && req.Offset+req.Limit < end {
		end = req.Offset + req.Limit
	}
	return append([]Order(nil), c.orders[req.Offset:end]...), total, nil
}

func (c *SandboxConnector) PushInventory(ctx context.Context, updates []InventoryUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pushErr != nil {
		return c.pushErr
	}
	for _, u := range updates {
		c.inventory[u.SKU] = u.Quantity
	}
	return nil
}

func (c *SandboxConnector) PushOrders(ctx context.Context, orders []Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pushErr != nil {
		return c.pushErr
	}
	c.pushed = append(c.pushed, orders...)
	return nil
}
