// Package buffer assembles rapid message fragments into coherent turns.
// Downstream reply generation is expensive, so nothing fires per
// fragment: only a quiet gap in the conversation signals that the user
// finished typing.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/syncutil"
)

// DefaultQuietPeriod is how long a conversation must stay silent before
// its buffered fragments are drained as one turn.
const DefaultQuietPeriod = 5 * time.Second

var ErrClosed = errors.New("debouncer closed")

// Turn is one logical unit of user input, assembled from the fragments
// submitted since the previous drain.
type Turn struct {
	TenantID       string
	ConversationID string
	Fragments      []string
	FirstAt        time.Time
	LastAt         time.Time
}

// Text joins the fragments into the single string handed to reply
// generation.
func (t Turn) Text() string {
	switch len(t.Fragments) {
	case 0:
		return ""
	case 1:
		return t.Fragments[0]
	}
	out := t.Fragments[0]
	for _, fragment := range t.Fragments[1:] {
		out += "\n" + fragment
	}
	return out
}

// TurnHandler consumes a completed turn.
type TurnHandler func(ctx context.Context, turn Turn)

// Debouncer accumulates fragments per (tenant, conversation) and drains
// them to the handler once the quiet period elapses without new input.
// A fragment arriving before the timer fires extends the turn and
// re-arms the timer. All buffer mutations for a key happen under that
// key's exclusive lock, so a drain and a concurrent submit never
// interleave.
type Debouncer struct {
	store   FragmentStore
	handler TurnHandler
	quiet   time.Duration
	logger  *zap.Logger

	keys *syncutil.KeyMutex

	mu     sync.Mutex
	timers map[string]*pendingTurn
	closed bool

	wg sync.WaitGroup
}

type pendingTurn struct {
	timer      *time.Timer
	generation uint64
	tenantID   string
	convID     string
	firstAt    time.Time
	lastAt     time.Time
}

func NewDebouncer(store FragmentStore, quiet time.Duration, handler TurnHandler, logger *zap.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{
		store:   store,
		handler: handler,
		quiet:   quiet,
		logger:  logger,
		keys:    syncutil.NewKeyMutex(),
		timers:  make(map[string]*pendingTurn),
	}
}

func turnKey(tenantID, conversationID string) string {
	return tenantID + "|" + conversationID
}

// Submit appends a fragment to the conversation's pending buffer and
// arms (or resets) its quiet-period timer.
func (d *Debouncer) Submit(ctx context.Context, tenantID, conversationID, fragment string, ts time.Time) error {
	key := turnKey(tenantID, conversationID)

	d.keys.Lock(key)
	defer d.keys.Unlock(key)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.mu.Unlock()

	if err := d.store.Append(ctx, key, fragment); err != nil {
		return err
	}

	d.mu.Lock()
	pending, ok := d.timers[key]
	if !ok {
		pending = &pendingTurn{tenantID: tenantID, convID: conversationID, firstAt: ts}
		d.timers[key] = pending
	}
	pending.lastAt = ts
	pending.generation++
	generation := pending.generation
	if pending.timer != nil {
		pending.timer.Stop()
	}
	pending.timer = time.AfterFunc(d.quiet, func() {
		d.fire(key, generation)
	})
	d.mu.Unlock()

	d.logger.Debug("Fragment buffered",
		zap.String("tenant_id", tenantID),
		zap.String("conversation_id", conversationID))
	return nil
}

// fire runs when a quiet period elapses. A submit that raced the timer
// bumps the generation, in which case this firing is stale and yields
// to the re-armed timer.
func (d *Debouncer) fire(key string, generation uint64) {
	d.keys.Lock(key)

	d.mu.Lock()
	pending, ok := d.timers[key]
	if !ok || pending.generation != generation || d.closed {
		d.mu.Unlock()
		d.keys.Unlock(key)
		return
	}
	delete(d.timers, key)
	d.mu.Unlock()

	turn, err := d.drainLocked(context.Background(), key, pending)
	d.keys.Unlock(key)

	if err != nil {
		d.logger.Error("Failed to drain buffer",
			zap.Error(err),
			zap.String("tenant_id", pending.tenantID),
			zap.String("conversation_id", pending.convID))
		return
	}
	if len(turn.Fragments) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handler(context.Background(), turn)
	}()
}

// Drain flushes the conversation's buffer immediately, returning the
// turn instead of invoking the handler. External triggers use it to
// force processing without waiting out the quiet period.
func (d *Debouncer) Drain(ctx context.Context, tenantID, conversationID string) (Turn, error) {
	key := turnKey(tenantID, conversationID)

	d.keys.Lock(key)
	defer d.keys.Unlock(key)

	d.mu.Lock()
	pending, ok := d.timers[key]
	if ok {
		pending.timer.Stop()
		delete(d.timers, key)
	} else {
		pending = &pendingTurn{tenantID: tenantID, convID: conversationID}
	}
	d.mu.Unlock()

	return d.drainLocked(ctx, key, pending)
}

// drainLocked snapshots and clears the buffer for key. Callers hold the
// key lock.
func (d *Debouncer) drainLocked(ctx context.Context, key string, pending *pendingTurn) (Turn, error) {
	fragments, err := d.store.Drain(ctx, key)
	if err != nil {
		return Turn{}, err
	}
	return Turn{
		TenantID:       pending.tenantID,
		ConversationID: pending.convID,
		Fragments:      fragments,
		FirstAt:        pending.firstAt,
		LastAt:         pending.lastAt,
	}, nil
}

// Close stops all timers, flushes every pending turn to the handler and
// waits for in-flight handlers to finish.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	remaining := make([]*pendingTurn, 0, len(d.timers))
	for key, pending := range d.timers {
		pending.timer.Stop()
		delete(d.timers, key)
		remaining = append(remaining, pending)
		_ = key
	}
	d.mu.Unlock()

	for _, pending := range remaining {
		key := turnKey(pending.tenantID, pending.convID)
		d.keys.Lock(key)
		turn, err := d.drainLocked(ctx, key, pending)
		d.keys.Unlock(key)
		if err != nil {
			d.logger.Error("Failed to flush buffer on close",
				zap.Error(err),
				zap.String("tenant_id", pending.tenantID),
				zap.String("conversation_id", pending.convID))
			continue
		}
		if len(turn.Fragments) > 0 {
			d.handler(ctx, turn)
		}
	}

	d.wg.Wait()
	return nil
}
