package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/chatflow/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-node development setups; the interface semantics (composite-key
// uniqueness, monotonic event sequence, upsert metrics) match the
// Postgres implementation exactly.
type MemoryStore struct {
	mu sync.RWMutex

	tenants     map[string]*models.Tenant
	credentials map[string]*models.ProviderCredential // tenant|kind|label
	states      map[string]*models.ConversationState  // tenant|conversation
	messages    []*models.Message
	events      []*models.ConversationEvent
	metrics     map[string]*models.DailyMetrics // tenant|date
	reminders   map[string]*models.Reminder
	watermarks  map[string]int64

	nextSeq   int64
	nextMsgID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*models.Tenant),
		credentials: make(map[string]*models.ProviderCredential),
		states:      make(map[string]*models.ConversationState),
		metrics:     make(map[string]*models.DailyMetrics),
		reminders:   make(map[string]*models.Reminder),
		watermarks:  make(map[string]int64),
	}
}

func convKey(tenantID, conversationID string) string {
	return tenantID + "|" + conversationID
}

func credKey(tenantID string, kind models.ProviderKind, label string) string {
	return tenantID + "|" + string(kind) + "|" + label
}

// --- tenants ---

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrDuplicate)
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now()
	}
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, exists := s.tenants[id]
	if !exists {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	copied := *tenant
	return &copied, nil
}

func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; !exists {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
	}
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[id]; !exists {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	delete(s.tenants, id)

	for key := range s.credentials {
		if strings.HasPrefix(key, id+"|") {
			delete(s.credentials, key)
		}
	}
	for key := range s.states {
		if strings.HasPrefix(key, id+"|") {
			delete(s.states, key)
		}
	}
	for key := range s.metrics {
		if strings.HasPrefix(key, id+"|") {
			delete(s.metrics, key)
		}
	}
	for key, reminder := range s.reminders {
		if reminder.TenantID == id {
			delete(s.reminders, key)
		}
	}
	delete(s.watermarks, id)

	kept := s.messages[:0]
	for _, msg := range s.messages {
		if msg.TenantID != id {
			kept = append(kept, msg)
		}
	}
	s.messages = kept

	keptEvents := s.events[:0]
	for _, event := range s.events {
		if event.TenantID != id {
			keptEvents = append(keptEvents, event)
		}
	}
	s.events = keptEvents
	return nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]*models.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		copied := *tenant
		tenants = append(tenants, &copied)
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].CreatedAt.Before(tenants[j].CreatedAt)
	})
	return tenants, nil
}

// --- credentials ---

func (s *MemoryStore) UpsertCredential(ctx context.Context, cred *models.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.Default {
		// Only one default per (tenant, kind).
		for key, other := range s.credentials {
			if other.TenantID == cred.TenantID && other.Kind == cred.Kind {
				other.Default = false
				s.credentials[key] = other
			}
		}
	}

	key := credKey(cred.TenantID, cred.Kind, cred.InstanceLabel)
	now := time.Now()
	if existing, exists := s.credentials[key]; exists {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	} else {
		if cred.CreatedAt.IsZero() {
			cred.CreatedAt = now
		}
	}
	cred.UpdatedAt = now
	copied := *cred
	s.credentials[key] = &copied
	return nil
}

func (s *MemoryStore) GetActiveCredentials(ctx context.Context, tenantID string, kind models.ProviderKind) ([]*models.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []*models.ProviderCredential
	for _, cred := range s.credentials {
		if cred.TenantID == tenantID && cred.Kind == kind && cred.Active {
			copied := *cred
			creds = append(creds, &copied)
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Default != creds[j].Default {
			return creds[i].Default
		}
		return creds[i].InstanceLabel < creds[j].InstanceLabel
	})
	return creds, nil
}

func (s *MemoryStore) ListCredentials(ctx context.Context, tenantID string) ([]*models.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []*models.ProviderCredential
	for _, cred := range s.credentials {
		if cred.TenantID == tenantID {
			copied := *cred
			creds = append(creds, &copied)
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Kind != creds[j].Kind {
			return creds[i].Kind < creds[j].Kind
		}
		return creds[i].InstanceLabel < creds[j].InstanceLabel
	})
	return creds, nil
}

// --- conversation state ---

func (s *MemoryStore) GetConversationState(ctx context.Context, tenantID, conversationID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[convKey(tenantID, conversationID)]
	if !exists {
		return nil, fmt.Errorf("conversation %s/%s: %w", tenantID, conversationID, ErrNotFound)
	}
	copied := *state
	return &copied, nil
}

func (s *MemoryStore) PutConversationState(ctx context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	copied := *state
	s.states[convKey(state.TenantID, state.ConversationID)] = &copied
	return nil
}

func (s *MemoryStore) ListStaleConversations(ctx context.Context, before time.Time) ([]*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*models.ConversationState
	for _, state := range s.states {
		if state.Status == models.StatusActive &&
			state.LastRole == models.RoleAssistant &&
			state.LastMessageAt.Before(before) {
			copied := *state
			stale = append(stale, &copied)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastMessageAt.Before(stale[j].LastMessageAt)
	})
	return stale, nil
}

// --- messages ---

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsgID++
	msg.ID = s.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	copied := *msg
	s.messages = append(s.messages, &copied)
	return nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []*models.Message
	for _, msg := range s.messages {
		if msg.TenantID == tenantID && msg.ConversationID == conversationID {
			copied := *msg
			msgs = append(msgs, &copied)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// --- event log ---

func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.ConversationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	event.Seq = s.nextSeq
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *MemoryStore) GetEventsAfter(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*models.ConversationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.ConversationEvent
	for _, event := range s.events {
		if event.TenantID == tenantID && event.Seq > afterSeq {
			copied := *event
			events = append(events, &copied)
			if limit > 0 && len(events) == limit {
				break
			}
		}
	}
	return events, nil
}

func (s *MemoryStore) GetConversationEvents(ctx context.Context, tenantID, conversationID string) ([]*models.ConversationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.ConversationEvent
	for _, event := range s.events {
		if event.TenantID == tenantID && event.ConversationID == conversationID {
			copied := *event
			events = append(events, &copied)
		}
	}
	return events, nil
}

func (s *MemoryStore) GetEventsForDate(ctx context.Context, tenantID string, date time.Time) ([]*models.ConversationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := Day(date)
	var events []*models.ConversationEvent
	for _, event := range s.events {
		if event.TenantID == tenantID && Day(event.CreatedAt).Equal(day) {
			copied := *event
			events = append(events, &copied)
		}
	}
	return events, nil
}

func (s *MemoryStore) LatestEventTime(ctx context.Context, tenantID, conversationID string, eventType models.EventType) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Events are stored in sequence order; scan backwards.
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if event.TenantID == tenantID && event.ConversationID == conversationID && event.Type == eventType {
			return event.CreatedAt, nil
		}
	}
	return time.Time{}, fmt.Errorf("event %s for %s/%s: %w", eventType, tenantID, conversationID, ErrNotFound)
}

func (s *MemoryStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, event := range s.events {
		if event.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return removed, nil
}

// --- metrics ---

func (s *MemoryStore) UpsertDailyMetrics(ctx context.Context, metrics *models.DailyMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.Date = Day(metrics.Date)
	metrics.UpdatedAt = time.Now()
	copied := *metrics
	s.metrics[metrics.TenantID+"|"+metrics.Date.Format("2006-01-02")] = &copied
	return nil
}

func (s *MemoryStore) GetDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = Day(from), Day(to)
	var rows []*models.DailyMetrics
	for _, metrics := range s.metrics {
		if metrics.TenantID != tenantID {
			continue
		}
		if metrics.Date.Before(from) || metrics.Date.After(to) {
			continue
		}
		copied := *metrics
		rows = append(rows, &copied)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date)
	})
	return rows, nil
}

// --- reminders ---

func (s *MemoryStore) CreateReminder(ctx context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reminders[reminder.ID]; exists {
		return fmt.Errorf("reminder %s: %w", reminder.ID, ErrDuplicate)
	}
	now := time.Now()
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = now
	}
	reminder.UpdatedAt = now
	if reminder.Status == "" {
		reminder.Status = models.ReminderPending
	}
	copied := *reminder
	s.reminders[reminder.ID] = &copied
	return nil
}

func (s *MemoryStore) DuePendingReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Reminder
	for _, reminder := range s.reminders {
		if reminder.Status == models.ReminderPending && !reminder.ScheduledAt.After(now) {
			copied := *reminder
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) UpdateReminderStatus(ctx context.Context, id string, status models.ReminderStatus, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, exists := s.reminders[id]
	if !exists {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	reminder.Status = status
	reminder.Notes = notes
	reminder.UpdatedAt = time.Now()
	return nil
}

// --- watermarks ---

func (s *MemoryStore) GetWatermark(ctx context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[tenantID], nil
}

func (s *MemoryStore) SetWatermark(ctx context.Context, tenantID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[tenantID] = seq
	return nil
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
