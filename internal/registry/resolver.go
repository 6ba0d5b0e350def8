package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
)

// ErrChannelNotConfigured is returned when no strategy yields a usable
// credential. It is an expected condition, not a transient failure:
// callers skip sending on that channel instead of retrying.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Resolver encodes the credential precedence in one place so that
// channel-sending code never re-implements the fallback logic. The
// strategies run in order: credential rows first (default-flagged row
// wins among several active ones), then the legacy fields still present
// on tenants provisioned before the credential table existed.
type Resolver struct {
	store      storage.Store
	logger     *zap.Logger
	strategies []resolveStrategy
}

type resolveStrategy func(ctx context.Context, tenant *models.Tenant, kind models.ProviderKind) (*models.ProviderCredential, error)

func NewResolver(store storage.Store, logger *zap.Logger) *Resolver {
	r := &Resolver{store: store, logger: logger}
	r.strategies = []resolveStrategy{
		r.fromCredentialTable,
		r.fromLegacyTenantFields,
	}
	return r
}

// Resolve returns the active credential for (tenant, kind), or
// ErrChannelNotConfigured when the tenant has no usable connection of
// that kind.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, kind models.ProviderKind) (*models.ProviderCredential, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}

	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for _, strategy := range r.strategies {
		cred, err := strategy(ctx, tenant, kind)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			return cred, nil
		}
	}

	r.logger.Debug("No credential resolved",
		zap.String("tenant_id", tenantID),
		zap.String("kind", string(kind)))
	return nil, fmt.Errorf("%s for tenant %s: %w", kind, tenantID, ErrChannelNotConfigured)
}

func (r *Resolver) fromCredentialTable(ctx context.Context, tenant *models.Tenant, kind models.ProviderKind) (*models.ProviderCredential, error) {
	creds, err := r.store.GetActiveCredentials(ctx, tenant.ID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, nil
	}
	// Rows come default-first; the head is the winner either way.
	return creds[0], nil
}

// fromLegacyTenantFields covers tenants not yet migrated to the
// credential table. Only the uazapi kind ever lived on the tenant row.
func (r *Resolver) fromLegacyTenantFields(ctx context.Context, tenant *models.Tenant, kind models.ProviderKind) (*models.ProviderCredential, error) {
	if kind != models.ProviderUazapi || tenant.LegacyToken == "" {
		return nil, nil
	}
	r.logger.Debug("Using legacy tenant credential",
		zap.String("tenant_id", tenant.ID))
	return &models.ProviderCredential{
		TenantID:      tenant.ID,
		Kind:          models.ProviderUazapi,
		InstanceLabel: "legacy",
		Config: map[string]any{
			"url":   tenant.LegacyAPIURL,
			"token": tenant.LegacyToken,
		},
		Active: true,
	}, nil
}
