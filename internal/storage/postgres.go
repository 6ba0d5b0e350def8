package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	UseInMemory    bool
	MaxOpenConns   int
	MaxIdleConns   int
	AcquireTimeout time.Duration
}

// PostgresStore is the durable Store implementation. The underlying
// pool is bounded; every call runs under the configured acquire timeout
// so callers fail fast instead of queueing behind a saturated pool.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zap.Logger
}

func NewPostgresStore(config DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	timeout := config.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &PostgresStore{db: db, timeout: timeout, logger: logger}

	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// --- tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	settings, err := marshalJSON(tenant.Settings)
	if err != nil {
		return fmt.Errorf("error encoding tenant settings: %v", err)
	}

	query := `
		INSERT INTO tenants (id, name, system_prompt, settings, legacy_api_url, legacy_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err = s.db.QueryRowContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.SystemPrompt,
		settings,
		nullString(tenant.LegacyAPIURL),
		nullString(tenant.LegacyToken),
	).Scan(&tenant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant %s: %w", tenant.ID, ErrDuplicate)
		}
		return fmt.Errorf("error creating tenant: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, name, system_prompt, settings, legacy_api_url, legacy_token, created_at
		FROM tenants
		WHERE id = $1`

	tenant, err := scanTenant(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying tenant: %v", err)
	}
	return tenant, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	var settings []byte
	var apiURL, token sql.NullString
	err := row.Scan(&tenant.ID, &tenant.Name, &tenant.SystemPrompt, &settings, &apiURL, &token, &tenant.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("error decoding tenant settings: %v", err)
		}
	}
	tenant.LegacyAPIURL = apiURL.String
	tenant.LegacyToken = token.String
	return tenant, nil
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	settings, err := marshalJSON(tenant.Settings)
	if err != nil {
		return fmt.Errorf("error encoding tenant settings: %v", err)
	}

	query := `
		UPDATE tenants
		SET name = $1, system_prompt = $2, settings = $3, legacy_api_url = $4, legacy_token = $5
		WHERE id = $6`

	result, err := s.db.ExecContext(ctx, query,
		tenant.Name,
		tenant.SystemPrompt,
		settings,
		nullString(tenant.LegacyAPIURL),
		nullString(tenant.LegacyToken),
		tenant.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating tenant: %v", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Dependent rows cascade via foreign keys.
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting tenant: %v", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, name, system_prompt, settings, legacy_api_url, legacy_token, created_at
		FROM tenants
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing tenants: %v", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning tenant: %v", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// --- credentials ---

func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *models.ProviderCredential) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	config, err := marshalJSON(cred.Config)
	if err != nil {
		return fmt.Errorf("error encoding credential config: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	if cred.Default {
		_, err = tx.ExecContext(ctx, `
			UPDATE provider_credentials
			SET is_default = FALSE
			WHERE tenant_id = $1 AND kind = $2`,
			cred.TenantID, cred.Kind)
		if err != nil {
			return fmt.Errorf("error clearing default credentials: %v", err)
		}
	}

	query := `
		INSERT INTO provider_credentials (id, tenant_id, kind, instance_label, config, active, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, kind, instance_label) DO UPDATE SET
			config = EXCLUDED.config,
			active = EXCLUDED.active,
			is_default = EXCLUDED.is_default,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		cred.ID,
		cred.TenantID,
		cred.Kind,
		cred.InstanceLabel,
		config,
		cred.Active,
		cred.Default,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting credential: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing credential upsert: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveCredentials(ctx context.Context, tenantID string, kind models.ProviderKind) ([]*models.ProviderCredential, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, kind, instance_label, config, active, is_default, created_at, updated_at
		FROM provider_credentials
		WHERE tenant_id = $1 AND kind = $2 AND active
		ORDER BY is_default DESC, instance_label`

	return s.queryCredentials(ctx, query, tenantID, kind)
}

func (s *PostgresStore) ListCredentials(ctx context.Context, tenantID string) ([]*models.ProviderCredential, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, kind, instance_label, config, active, is_default, created_at, updated_at
		FROM provider_credentials
		WHERE tenant_id = $1
		ORDER BY kind, instance_label`

	return s.queryCredentials(ctx, query, tenantID)
}

func (s *PostgresStore) queryCredentials(ctx context.Context, query string, args ...any) ([]*models.ProviderCredential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying credentials: %v", err)
	}
	defer rows.Close()

	var creds []*models.ProviderCredential
	for rows.Next() {
		cred := &models.ProviderCredential{}
		var config []byte
		err := rows.Scan(
			&cred.ID,
			&cred.TenantID,
			&cred.Kind,
			&cred.InstanceLabel,
			&config,
			&cred.Active,
			&cred.Default,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning credential: %v", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cred.Config); err != nil {
				return nil, fmt.Errorf("error decoding credential config: %v", err)
			}
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// --- conversation state ---

func (s *PostgresStore) GetConversationState(ctx context.Context, tenantID, conversationID string) (*models.ConversationState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT tenant_id, conversation_id, status, funnel_stage, last_role, last_message_at, context_summary, updated_at
		FROM conversation_states
		WHERE tenant_id = $1 AND conversation_id = $2`

	state := &models.ConversationState{}
	err := s.db.QueryRowContext(ctx, query, tenantID, conversationID).Scan(
		&state.TenantID,
		&state.ConversationID,
		&state.Status,
		&state.FunnelStage,
		&state.LastRole,
		&state.LastMessageAt,
		&state.ContextSummary,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s/%s: %w", tenantID, conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation state: %v", err)
	}
	return state, nil
}

func (s *PostgresStore) PutConversationState(ctx context.Context, state *models.ConversationState) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		INSERT INTO conversation_states (tenant_id, conversation_id, status, funnel_stage, last_role, last_message_at, context_summary, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, conversation_id) DO UPDATE SET
			status = EXCLUDED.status,
			funnel_stage = EXCLUDED.funnel_stage,
			last_role = EXCLUDED.last_role,
			last_message_at = EXCLUDED.last_message_at,
			context_summary = EXCLUDED.context_summary,
			updated_at = NOW()
		RETURNING updated_at`

	err := s.db.QueryRowContext(ctx, query,
		state.TenantID,
		state.ConversationID,
		state.Status,
		state.FunnelStage,
		state.LastRole,
		state.LastMessageAt,
		state.ContextSummary,
	).Scan(&state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting conversation state: %v", err)
	}
	return nil
}

func (s *PostgresStore) ListStaleConversations(ctx context.Context, before time.Time) ([]*models.ConversationState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT tenant_id, conversation_id, status, funnel_stage, last_role, last_message_at, context_summary, updated_at
		FROM conversation_states
		WHERE status = 'active' AND last_role = 'assistant' AND last_message_at < $1
		ORDER BY last_message_at`

	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("error querying stale conversations: %v", err)
	}
	defer rows.Close()

	var states []*models.ConversationState
	for rows.Next() {
		state := &models.ConversationState{}
		err := rows.Scan(
			&state.TenantID,
			&state.ConversationID,
			&state.Status,
			&state.FunnelStage,
			&state.LastRole,
			&state.LastMessageAt,
			&state.ContextSummary,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation state: %v", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// --- messages ---

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		INSERT INTO messages (tenant_id, conversation_id, role, content, media_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		msg.TenantID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		nullString(msg.MediaRef),
		nullTime(msg.CreatedAt),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("error saving message: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, conversation_id, role, content, COALESCE(media_ref, ''), created_at
		FROM (
			SELECT * FROM messages
			WHERE tenant_id = $1 AND conversation_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		) recent
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %v", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		err := rows.Scan(&msg.ID, &msg.TenantID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.MediaRef, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// --- event log ---

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.ConversationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("error encoding event payload: %v", err)
	}

	query := `
		INSERT INTO conversation_events (tenant_id, conversation_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		RETURNING seq, created_at`

	err = s.db.QueryRowContext(ctx, query,
		event.TenantID,
		event.ConversationID,
		event.Type,
		payload,
		nullTime(event.CreatedAt),
	).Scan(&event.Seq, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending event: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetEventsAfter(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*models.ConversationEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT seq, tenant_id, conversation_id, event_type, payload, created_at
		FROM conversation_events
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`

	return s.queryEvents(ctx, query, tenantID, afterSeq, limit)
}

func (s *PostgresStore) GetConversationEvents(ctx context.Context, tenantID, conversationID string) ([]*models.ConversationEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT seq, tenant_id, conversation_id, event_type, payload, created_at
		FROM conversation_events
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY seq`

	return s.queryEvents(ctx, query, tenantID, conversationID)
}

func (s *PostgresStore) GetEventsForDate(ctx context.Context, tenantID string, date time.Time) ([]*models.ConversationEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	day := Day(date)
	query := `
		SELECT seq, tenant_id, conversation_id, event_type, payload, created_at
		FROM conversation_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY seq`

	return s.queryEvents(ctx, query, tenantID, day, day.Add(24*time.Hour))
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]*models.ConversationEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %v", err)
	}
	defer rows.Close()

	var events []*models.ConversationEvent
	for rows.Next() {
		event := &models.ConversationEvent{}
		var payload []byte
		err := rows.Scan(&event.Seq, &event.TenantID, &event.ConversationID, &event.Type, &payload, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning event: %v", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("error decoding event payload: %v", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) LatestEventTime(ctx context.Context, tenantID, conversationID string, eventType models.EventType) (time.Time, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT created_at
		FROM conversation_events
		WHERE tenant_id = $1 AND conversation_id = $2 AND event_type = $3
		ORDER BY seq DESC
		LIMIT 1`

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, tenantID, conversationID, eventType).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("event %s for %s/%s: %w", eventType, tenantID, conversationID, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("error querying latest event: %v", err)
	}
	return createdAt, nil
}

func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error deleting old events: %v", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %v", err)
	}
	return removed, nil
}

// --- metrics ---

func (s *PostgresStore) UpsertDailyMetrics(ctx context.Context, metrics *models.DailyMetrics) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tools, err := marshalJSON(metrics.ToolsUsed)
	if err != nil {
		return fmt.Errorf("error encoding tools_used: %v", err)
	}

	query := `
		INSERT INTO metrics_daily (
			tenant_id, date,
			total_conversations, total_messages_in, total_messages_out,
			resolved_by_ai, resolved_by_human, human_takeovers,
			avg_response_time_ms, avg_resolution_time_ms,
			followups_sent, followups_converted,
			tools_used, total_cost_usd, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			total_conversations = EXCLUDED.total_conversations,
			total_messages_in = EXCLUDED.total_messages_in,
			total_messages_out = EXCLUDED.total_messages_out,
			resolved_by_ai = EXCLUDED.resolved_by_ai,
			resolved_by_human = EXCLUDED.resolved_by_human,
			human_takeovers = EXCLUDED.human_takeovers,
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			avg_resolution_time_ms = EXCLUDED.avg_resolution_time_ms,
			followups_sent = EXCLUDED.followups_sent,
			followups_converted = EXCLUDED.followups_converted,
			tools_used = EXCLUDED.tools_used,
			total_cost_usd = EXCLUDED.total_cost_usd,
			updated_at = NOW()
		RETURNING updated_at`

	err = s.db.QueryRowContext(ctx, query,
		metrics.TenantID,
		Day(metrics.Date),
		metrics.TotalConversations,
		metrics.TotalMessagesIn,
		metrics.TotalMessagesOut,
		metrics.ResolvedByAI,
		metrics.ResolvedByHuman,
		metrics.HumanTakeovers,
		metrics.AvgResponseTimeMs,
		metrics.AvgResolutionTimeMs,
		metrics.FollowupsSent,
		metrics.FollowupsConverted,
		tools,
		metrics.TotalCostUSD,
	).Scan(&metrics.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting daily metrics: %v", err)
	}
	return nil
}

func (s *PostgresStore) GetDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DailyMetrics, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT tenant_id, date,
			total_conversations, total_messages_in, total_messages_out,
			resolved_by_ai, resolved_by_human, human_takeovers,
			avg_response_time_ms, avg_resolution_time_ms,
			followups_sent, followups_converted,
			tools_used, total_cost_usd, updated_at
		FROM metrics_daily
		WHERE tenant_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, tenantID, Day(from), Day(to))
	if err != nil {
		return nil, fmt.Errorf("error querying daily metrics: %v", err)
	}
	defer rows.Close()

	var results []*models.DailyMetrics
	for rows.Next() {
		metrics := &models.DailyMetrics{}
		var tools []byte
		err := rows.Scan(
			&metrics.TenantID,
			&metrics.Date,
			&metrics.TotalConversations,
			&metrics.TotalMessagesIn,
			&metrics.TotalMessagesOut,
			&metrics.ResolvedByAI,
			&metrics.ResolvedByHuman,
			&metrics.HumanTakeovers,
			&metrics.AvgResponseTimeMs,
			&metrics.AvgResolutionTimeMs,
			&metrics.FollowupsSent,
			&metrics.FollowupsConverted,
			&tools,
			&metrics.TotalCostUSD,
			&metrics.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning daily metrics: %v", err)
		}
		if len(tools) > 0 {
			if err := json.Unmarshal(tools, &metrics.ToolsUsed); err != nil {
				return nil, fmt.Errorf("error decoding tools_used: %v", err)
			}
		}
		results = append(results, metrics)
	}
	return results, rows.Err()
}

// --- reminders ---

func (s *PostgresStore) CreateReminder(ctx context.Context, reminder *models.Reminder) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if reminder.Status == "" {
		reminder.Status = models.ReminderPending
	}

	query := `
		INSERT INTO reminders (id, tenant_id, conversation_id, message, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		reminder.ID,
		reminder.TenantID,
		reminder.ConversationID,
		reminder.Message,
		reminder.ScheduledAt,
		reminder.Status,
	).Scan(&reminder.CreatedAt, &reminder.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reminder %s: %w", reminder.ID, ErrDuplicate)
		}
		return fmt.Errorf("error creating reminder: %v", err)
	}
	return nil
}

func (s *PostgresStore) DuePendingReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, conversation_id, message, scheduled_at, status, COALESCE(notes, ''), created_at, updated_at
		FROM reminders
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %v", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder := &models.Reminder{}
		err := rows.Scan(
			&reminder.ID,
			&reminder.TenantID,
			&reminder.ConversationID,
			&reminder.Message,
			&reminder.ScheduledAt,
			&reminder.Status,
			&reminder.Notes,
			&reminder.CreatedAt,
			&reminder.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder: %v", err)
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}

func (s *PostgresStore) UpdateReminderStatus(ctx context.Context, id string, status models.ReminderStatus, notes string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = $1, notes = $2, updated_at = NOW()
		WHERE id = $3`,
		status, nullString(notes), id)
	if err != nil {
		return fmt.Errorf("error updating reminder: %v", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- watermarks ---

func (s *PostgresStore) GetWatermark(ctx context.Context, tenantID string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seq FROM aggregation_watermarks WHERE tenant_id = $1`, tenantID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error querying watermark: %v", err)
	}
	return seq, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, tenantID string, seq int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregation_watermarks (tenant_id, last_seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = NOW()`,
		tenantID, seq)
	if err != nil {
		return fmt.Errorf("error setting watermark: %v", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
