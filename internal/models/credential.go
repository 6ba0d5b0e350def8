package models

import "time"

// ProviderKind identifies a messaging channel integration. The set is
// closed: adding a channel means adding a constant here and a handler in
// the sender, never introspecting an arbitrary config blob.
type ProviderKind string

const (
	ProviderUazapi     ProviderKind = "uazapi"
	ProviderMeta       ProviderKind = "meta"
	ProviderLancepilot ProviderKind = "lancepilot"
)

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderUazapi, ProviderMeta, ProviderLancepilot:
		return true
	}
	return false
}

// ProviderCredential is one channel connection for a tenant. A tenant
// may hold several credentials of the same kind under distinct instance
// labels; at most one per kind is flagged as the default.
type ProviderCredential struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Kind          ProviderKind   `json:"kind"`
	InstanceLabel string         `json:"instance_label"`
	// Config is opaque to the core; only the sender interprets the
	// per-kind field names (url/token, phone_id/access_token/waba_id,
	// token/workspace_id/number).
	Config    map[string]any `json:"config"`
	Active    bool           `json:"active"`
	Default   bool           `json:"default"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
