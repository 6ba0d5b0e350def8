// Package registry owns tenant identity and channel credentials:
// everything else in the pipeline reads tenant configuration through it.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
)

type Registry struct {
	store  storage.Store
	logger *zap.Logger
}

func New(store storage.Store, logger *zap.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

func (r *Registry) CreateTenant(ctx context.Context, name, systemPrompt string, settings models.Settings) (*models.Tenant, error) {
	tenant := &models.Tenant{
		ID:           uuid.New().String(),
		Name:         name,
		SystemPrompt: systemPrompt,
		Settings:     settings,
		CreatedAt:    time.Now(),
	}
	if err := r.store.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	r.logger.Info("Tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("name", tenant.Name))
	return tenant, nil
}

func (r *Registry) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return r.store.GetTenant(ctx, id)
}

func (r *Registry) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	return r.store.UpdateTenant(ctx, tenant)
}

func (r *Registry) DeleteTenant(ctx context.Context, id string) error {
	if err := r.store.DeleteTenant(ctx, id); err != nil {
		return err
	}
	r.logger.Info("Tenant deleted", zap.String("tenant_id", id))
	return nil
}

func (r *Registry) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	return r.store.ListTenants(ctx)
}

// SetCredential provisions or updates one channel connection for a
// tenant. New tenants get their credentials here; only un-migrated
// tenants still rely on the legacy fields the resolver falls back to.
func (r *Registry) SetCredential(ctx context.Context, tenantID string, kind models.ProviderKind, label string, config map[string]any, active, isDefault bool) (*models.ProviderCredential, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
	if label == "" {
		label = "primary"
	}
	cred := &models.ProviderCredential{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Kind:          kind,
		InstanceLabel: label,
		Config:        config,
		Active:        active,
		Default:       isDefault,
	}
	if err := r.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}
	r.logger.Info("Credential saved",
		zap.String("tenant_id", tenantID),
		zap.String("kind", string(kind)),
		zap.String("label", label),
		zap.Bool("default", isDefault))
	return cred, nil
}
