package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTConnector_FetchProducts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/produtos", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "50", r.URL.Query().Get("limite"))
		assert.Equal(t, "2", r.URL.Query().Get("pagina"))

		json.NewEncoder(w).Encode(map[string]any{
			"total": 120,
			"itens": []map[string]any{
				{"codigo": "SUP-001", "descricao": "Widget", "preco": "19.90", "estoqueAtual": 4},
			},
		})
	}))
	defer server.Close()

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	page, err := conn.FetchProducts(context.Background(), PageRequest{Offset: 50, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 120, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "SUP-001", page.Items[0].SKU)
	assert.Equal(t, "19.9", page.Items[0].Price.String())
	assert.Equal(t, 4, page.Items[0].Quantity)
}

func TestRESTConnector_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"Unauthorized", http.StatusUnauthorized, false},
		{"Forbidden", http.StatusForbidden, false},
		{"Throttled", http.StatusTooManyRequests, true},
		{"ServerError", http.StatusInternalServerError, true},
		{"BadGateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			logger := zerolog.Nop()
			conn := NewRESTConnector("bling", server.URL, "secret", &logger)

			_, err := conn.FetchProducts(context.Background(), PageRequest{Limit: 10})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestRESTConnector_BadPriceIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"itens": []map[string]any{
				{"codigo": "SUP-001", "preco": "not-a-number"},
			},
		})
	}))
	defer server.Close()

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	_, err := conn.FetchProducts(context.Background(), PageRequest{Limit: 10})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestRESTConnector_PushInventory(t *testing.T) {
	var received map[string][]InventoryUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/estoques", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	err := conn.PushInventory(context.Background(), []InventoryUpdate{{SKU: "MST-001", Quantity: 7}})
	require.NoError(t, err)
	require.Len(t, received["itens"], 1)
	assert.Equal(t, "MST-001", received["itens"][0].SKU)
}

func TestRESTConnector_PushOrders(t *testing.T) {
	var received map[string][]Order
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pedidos", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	err := conn.PushOrders(context.Background(), []Order{
		{ExternalID: "ord-9", Items: []OrderItem{{SKU: "MST-001", Quantity: 2}}},
	})
	require.NoError(t, err)
	require.Len(t, received["pedidos"], 1)
	assert.Equal(t, "ord-9", received["pedidos"][0].ExternalID)
}

func TestRESTConnector_FetchInventoryUsesProductListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/produtos", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"itens": []map[string]any{
				{"codigo": "SUP-001", "estoqueAtual": 12},
			},
		})
	}))
	defer server.Close()

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	page, err := conn.FetchInventory(context.Background(), PageRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 12, page.Items[0].Quantity)
}

func TestRESTConnector_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	logger := zerolog.Nop()
	conn := NewRESTConnector("bling", server.URL, "secret", &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.FetchProducts(ctx, PageRequest{Limit: 10})
	assert.ErrorIs(t, err, context.Canceled)
}
