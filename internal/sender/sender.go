// Package sender delivers outbound messages over the tenant's
// configured channel. Dispatch is a closed switch over the provider
// kinds: a new channel means a new case, never shape-sniffing an
// arbitrary credential blob.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/registry"
)

const lancepilotBase = "https://lancepilot.com/api/v3"

// Sender sends text messages to an external contact on behalf of a
// tenant, resolving credentials through the registry's resolver so the
// fallback precedence stays in one place.
type Sender interface {
	SendText(ctx context.Context, tenantID string, kind models.ProviderKind, to, text string) error
}

type HTTPSender struct {
	resolver *registry.Resolver
	client   *http.Client
	logger   *zap.Logger
}

func New(resolver *registry.Resolver, logger *zap.Logger) *HTTPSender {
	return &HTTPSender{
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (s *HTTPSender) SendText(ctx context.Context, tenantID string, kind models.ProviderKind, to, text string) error {
	cred, err := s.resolver.Resolve(ctx, tenantID, kind)
	if err != nil {
		return err
	}

	switch cred.Kind {
	case models.ProviderUazapi:
		err = s.sendUazapi(ctx, cred.Config, to, text)
	case models.ProviderMeta:
		err = s.sendMeta(ctx, cred.Config, to, text)
	case models.ProviderLancepilot:
		err = s.sendLancepilot(ctx, cred.Config, to, text)
	default:
		err = fmt.Errorf("unknown provider kind %q", cred.Kind)
	}
	if err != nil {
		return err
	}

	s.logger.Info("Message sent",
		zap.String("tenant_id", tenantID),
		zap.String("provider", string(cred.Kind)))
	return nil
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}

func (s *HTTPSender) sendUazapi(ctx context.Context, config map[string]any, to, text string) error {
	url := strings.TrimRight(configString(config, "url"), "/")
	token := configString(config, "token")
	if url == "" || token == "" {
		return fmt.Errorf("uazapi credential missing url/token: %w", registry.ErrChannelNotConfigured)
	}
	return s.post(ctx, url+"/send/text",
		map[string]any{"number": to, "text": text},
		map[string]string{"token": token})
}

func (s *HTTPSender) sendMeta(ctx context.Context, config map[string]any, to, text string) error {
	accessToken := configString(config, "access_token")
	if accessToken == "" {
		accessToken = configString(config, "token")
	}
	phoneID := configString(config, "phone_id")
	if accessToken == "" || phoneID == "" {
		return fmt.Errorf("meta credential missing access_token/phone_id: %w", registry.ErrChannelNotConfigured)
	}
	return s.post(ctx,
		fmt.Sprintf("https://graph.facebook.com/v23.0/%s/messages", phoneID),
		map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": text},
		},
		map[string]string{"Authorization": "Bearer " + accessToken})
}

func (s *HTTPSender) sendLancepilot(ctx context.Context, config map[string]any, to, text string) error {
	token := configString(config, "token")
	workspaceID := configString(config, "workspace_id")
	if token == "" || workspaceID == "" {
		return fmt.Errorf("lancepilot credential missing token/workspace_id: %w", registry.ErrChannelNotConfigured)
	}
	return s.post(ctx,
		fmt.Sprintf("%s/workspaces/%s/contacts/number/%s/messages/text", lancepilotBase, workspaceID, to),
		map[string]any{"text": map[string]string{"body": text}},
		map[string]string{"Authorization": "Bearer " + token})
}

func (s *HTTPSender) post(ctx context.Context, url string, payload map[string]any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding send payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error building send request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send failed with status %d", resp.StatusCode)
	}
	return nil
}
