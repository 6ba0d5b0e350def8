package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
)

func newTestResolver(t *testing.T) (*Resolver, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewResolver(store, zap.NewNop()), store
}

func TestResolvePrefersDefaultCredential(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: "t1", Name: "Acme"}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderUazapi, InstanceLabel: "backup",
		Config: map[string]any{"url": "https://backup", "token": "b"}, Active: true,
	}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderUazapi, InstanceLabel: "main",
		Config: map[string]any{"url": "https://main", "token": "m"}, Active: true, Default: true,
	}))

	cred, err := resolver.Resolve(ctx, "t1", models.ProviderUazapi)
	require.NoError(t, err)
	assert.Equal(t, "main", cred.InstanceLabel)
}

func TestResolveCredentialBeatsLegacyFields(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		ID: "t1", Name: "Acme",
		LegacyAPIURL: "https://legacy", LegacyToken: "old-token",
	}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderUazapi, InstanceLabel: "primary",
		Config: map[string]any{"url": "https://new", "token": "new-token"}, Active: true,
	}))

	cred, err := resolver.Resolve(ctx, "t1", models.ProviderUazapi)
	require.NoError(t, err)
	assert.Equal(t, "https://new", cred.Config["url"])
}

func TestResolveFallsBackToLegacyFields(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		ID: "t1", Name: "Acme",
		LegacyAPIURL: "https://legacy", LegacyToken: "old-token",
	}))

	cred, err := resolver.Resolve(ctx, "t1", models.ProviderUazapi)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cred.InstanceLabel)
	assert.Equal(t, "old-token", cred.Config["token"])
}

func TestResolveLegacyCoversUazapiOnly(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		ID: "t1", Name: "Acme",
		LegacyAPIURL: "https://legacy", LegacyToken: "old-token",
	}))

	_, err := resolver.Resolve(ctx, "t1", models.ProviderMeta)
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
}

func TestResolveSkipsInactiveCredentials(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: "t1", Name: "Acme"}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderMeta, InstanceLabel: "primary",
		Config: map[string]any{"phone_id": "123", "access_token": "x"}, Active: false,
	}))

	_, err := resolver.Resolve(ctx, "t1", models.ProviderMeta)
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
}

func TestResolveUnknownTenant(t *testing.T) {
	resolver, _ := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), "missing", models.ProviderUazapi)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveRejectsUnknownKind(t *testing.T) {
	resolver, _ := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), "t1", models.ProviderKind("telegram"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrChannelNotConfigured)
}
