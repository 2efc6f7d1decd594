package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 30 * time.Second

// RESTConnector talks to a Bling-style supplier REST API. Authentication
// is an apikey query parameter; listings page with limite/pagina
// parameters.
type RESTConnector struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
	logger   *zerolog.Logger
}

func NewRESTConnector(provider, baseURL, apiKey string, logger *zerolog.Logger) *RESTConnector {
	return &RESTConnector{
		provider: provider,
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		logger:   logger,
	}
}

func (c *RESTConnector) Provider() string { return c.provider }

func (c *RESTConnector) Capabilities() []Capability {
	return []Capability{CapabilityProducts, CapabilityInventory, CapabilityOrders}
}

type productsResponse struct {
	Total int `json:"total"`
	Items []struct {
		SKU      string `json:"codigo"`
		Name     string `json:"descricao"`
		Price    string `json:"preco"`
		Quantity int    `json:"estoqueAtual"`
	} `json:"itens"`
}

func (c *RESTConnector) FetchProducts(ctx context.Context, req PageRequest) (*Page, error) {
	var resp productsResponse
	if err := c.get(ctx, "fetch products", "/produtos", req, &resp); err != nil {
		return nil, err
	}

	page := &Page{Total: resp.Total, Items: make([]Item, 0, len(resp.Items))}
	for _, raw := range resp.Items {
		item, err := parseItem(raw.SKU, raw.Name, raw.Price, raw.Quantity)
		if err != nil {
			return nil, fatalErr("fetch products", err)
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// FetchInventory reads stock levels. Bling-style APIs report stock on
// the product listing itself, so this pages through the same endpoint.
func (c *RESTConnector) FetchInventory(ctx context.Context, req PageRequest) (*Page, error) {
	var resp productsResponse
	if err := c.get(ctx, "fetch inventory", "/produtos", req, &resp); err != nil {
		return nil, err
	}

	page := &Page{Total: resp.Total, Items: make([]Item, 0, len(resp.Items))}
	for _, raw := range resp.Items {
		item, err := parseItem(raw.SKU, raw.Name, raw.Price, raw.Quantity)
		if err != nil {
			return nil, fatalErr("fetch inventory", err)
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

type ordersResponse struct {
	Total int     `json:"total"`
	Items []Order `json:"itens"`
}

func (c *RESTConnector) FetchOrders(ctx context.Context, req PageRequest) ([]Order, int, error) {
	var resp ordersResponse
	if err := c.get(ctx, "fetch orders", "/pedidos", req, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Items, resp.Total, nil
}

func (c *RESTConnector) PushInventory(ctx context.Context, updates []InventoryUpdate) error {
	return c.post(ctx, "push inventory", "/estoques", map[string]any{"itens": updates})
}

func (c *RESTConnector) PushOrders(ctx context.Context, orders []Order) error {
	return c.post(ctx, "push orders", "/pedidos", map[string]any{"pedidos": orders})
}

func (c *RESTConnector) post(ctx context.Context, op, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fatalErr(op, err)
	}

	endpoint, err := c.buildURL(path, nil)
	if err != nil {
		return fatalErr(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fatalErr(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.classifyTransport(op, err)
	}
	defer resp.Body.Close()

	return c.classifyStatus(op, resp.StatusCode)
}

func (c *RESTConnector) get(ctx context.Context, op, path string, req PageRequest, out any) error {
	query := url.Values{}
	if req.Limit > 0 {
		query.Set("limite", strconv.Itoa(req.Limit))
		query.Set("pagina", strconv.Itoa(req.Offset/req.Limit+1))
	}

	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return fatalErr(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fatalErr(op, err)
	}

	c.logger.Debug().Str("provider", c.provider).Str("path", path).Int("offset", req.Offset).Msg("connector request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(op, resp.StatusCode); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fatalErr(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *RESTConnector) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("bad endpoint %s: %w", path, err)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *RESTConnector) classifyTransport(op string, err error) error {
	// Context cancellation is handed back unwrapped so the worker can
	// tell shutdown apart from a remote fault.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Everything else at the transport level (DNS, refused connections,
	// timeouts) is worth retrying.
	return retryableErr(op, err)
}

func parseItem(sku, name, price string, quantity int) (Item, error) {
	amount := decimal.Zero
	if price != "" {
		parsed, err := decimal.NewFromString(price)
		if err != nil {
			return Item{}, fmt.Errorf("bad price %q for sku %s: %w", price, sku, err)
		}
		amount = parsed
	}
	return Item{SKU: sku, Name: name, Price: amount, Quantity: quantity}, nil
}

func (c *RESTConnector) classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fatalErr(op, fmt.Errorf("authentication rejected (status %d)", status))
	case status == http.StatusTooManyRequests || status >= 500:
		return retryableErr(op, fmt.Errorf("remote unavailable (status %d)", status))
	default:
		return fatalErr(op, fmt.Errorf("unexpected status %d", status))
	}
}
