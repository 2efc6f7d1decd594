package connector

import (
	"fmt"

	"mlsync/internal/config"
	"mlsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Integration pairs one configured integration with its connector.
type Integration struct {
	ID        string
	TenantID  string
	Name      string
	Connector Connector
}

// Registry resolves integration IDs to connectors. Built once at
// startup from configuration; read-only afterwards.
type Registry struct {
	integrations map[string]*Integration
}

// NewRegistry builds connectors for every enabled integration. Unknown
// providers are a configuration error.
func NewRegistry(configs []config.IntegrationConfig, logger *zerolog.Logger) (*Registry, error) {
	r := &Registry{integrations: make(map[string]*Integration, len(configs))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			logger.Info().Str("integration_id", cfg.ID).Msg("integration disabled, skipping")
			continue
		}

		var conn Connector
		switch cfg.Provider {
		case "bling", "rest":
			conn = NewRESTConnector(cfg.Provider, cfg.BaseURL, cfg.APIKey, logger)
		case "sandbox":
			conn = NewSandboxConnector(sandboxFixture())
		default:
			return nil, fmt.Errorf("%w: integration %s has unknown provider %q",
				models.ErrValidation, cfg.ID, cfg.Provider)
		}

		r.integrations[cfg.ID] = &Integration{
			ID:        cfg.ID,
			TenantID:  cfg.TenantID,
			Name:      cfg.Name,
			Connector: conn,
		}
	}
	return r, nil
}

// Get returns the integration for an ID, or ErrNotFound.
func (r *Registry) Get(id string) (*Integration, error) {
	integration, ok := r.integrations[id]
	if !ok {
		return nil, fmt.Errorf("%w: integration %s", models.ErrNotFound, id)
	}
	return integration, nil
}

// List returns every registered integration.
func (r *Registry) List() []*Integration {
	out := make([]*Integration, 0, len(r.integrations))
	for _, integration := range r.integrations {
		out = append(out, integration)
	}
	return out
}

// Register installs an integration directly. Test hook.
func (r *Registry) Register(integration *Integration) {
	r.integrations[integration.ID] = integration
}

func sandboxFixture() []Item {
	return []Item{
		{SKU: "SBX-001", Name: "Sandbox Widget", Price: decimal.NewFromFloat(19.90), Quantity: 12},
		{SKU: "SBX-002", Name: "Sandbox Gadget", Price: decimal.NewFromFloat(49.50), Quantity: 3},
		{SKU: "SBX-003", Name: "Sandbox Gizmo", Price: decimal.NewFromFloat(7.25), Quantity: 40},
	}
}
