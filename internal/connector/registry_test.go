package connector

import (
	"errors"
	"testing"

	"mlsync/internal/config"
	"mlsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	logger := zerolog.Nop()

	registry, err := NewRegistry([]config.IntegrationConfig{
		{ID: "int-1", TenantID: "ten-1", Provider: "sandbox", Enabled: true},
		{ID: "int-2", TenantID: "ten-1", Provider: "bling", Enabled: true, BaseURL: "https://api.example.com", APIKey: "k"},
		{ID: "int-3", TenantID: "ten-2", Provider: "sandbox", Enabled: false},
	}, &logger)
	require.NoError(t, err)

	integration, err := registry.Get("int-1")
	require.NoError(t, err)
	assert.Equal(t, "ten-1", integration.TenantID)
	assert.Equal(t, "sandbox", integration.Connector.Provider())

	_, err = registry.Get("int-3")
	assert.True(t, errors.Is(err, models.ErrNotFound), "disabled integrations are not registered")

	_, err = registry.Get("missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	assert.Len(t, registry.List(), 2)
}

func TestNewRegistry_UnknownProvider(t *testing.T) {
	logger := zerolog.Nop()

	_, err := NewRegistry([]config.IntegrationConfig{
		{ID: "int-1", TenantID: "ten-1", Provider: "carrier-pigeon", Enabled: true},
	}, &logger)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
}
