package buffer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type turnCollector struct {
	mu    sync.Mutex
	turns []Turn
}

func (c *turnCollector) handle(ctx context.Context, turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
}

func (c *turnCollector) snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *turnCollector) waitFor(t *testing.T, n int, timeout time.Duration) []Turn {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if turns := c.snapshot(); len(turns) >= n {
			return turns
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d turns within %s, got %d", n, timeout, len(c.snapshot()))
	return nil
}

func TestDebouncerFiresAfterQuietPeriod(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), 50*time.Millisecond, collector.handle, zap.NewNop())
	defer d.Close(context.Background())

	require.NoError(t, d.Submit(context.Background(), "t1", "c1", "hello", time.Now()))

	turns := collector.waitFor(t, 1, time.Second)
	require.Len(t, turns, 1)
	assert.Equal(t, "t1", turns[0].TenantID)
	assert.Equal(t, "c1", turns[0].ConversationID)
	assert.Equal(t, "hello", turns[0].Text())
}

func TestDebouncerCoalescesRapidFragments(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), 80*time.Millisecond, collector.handle, zap.NewNop())
	defer d.Close(context.Background())

	ctx := context.Background()
	now := time.Now()
	// Three fragments inside the quiet period merge into one turn.
	require.NoError(t, d.Submit(ctx, "t1", "c1", "I want", now))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Submit(ctx, "t1", "c1", "to book", now.Add(20*time.Millisecond)))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Submit(ctx, "t1", "c1", "a table", now.Add(40*time.Millisecond)))

	turns := collector.waitFor(t, 1, time.Second)
	require.Len(t, turns, 1)
	assert.Equal(t, []string{"I want", "to book", "a table"}, turns[0].Fragments)
	assert.Equal(t, "I want\nto book\na table", turns[0].Text())
}

func TestDebouncerKeepsConversationsSeparate(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), 50*time.Millisecond, collector.handle, zap.NewNop())
	defer d.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, d.Submit(ctx, "t1", "c1", "from c1", time.Now()))
	require.NoError(t, d.Submit(ctx, "t1", "c2", "from c2", time.Now()))
	require.NoError(t, d.Submit(ctx, "t2", "c1", "other tenant", time.Now()))

	turns := collector.waitFor(t, 3, time.Second)
	texts := make(map[string]string)
	for _, turn := range turns {
		texts[turn.TenantID+"/"+turn.ConversationID] = turn.Text()
	}
	assert.Equal(t, "from c1", texts["t1/c1"])
	assert.Equal(t, "from c2", texts["t1/c2"])
	assert.Equal(t, "other tenant", texts["t2/c1"])
}

func TestDrainFlushesImmediately(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), time.Hour, collector.handle, zap.NewNop())
	defer d.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, d.Submit(ctx, "t1", "c1", "now please", time.Now()))

	turn, err := d.Drain(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "now please", turn.Text())

	// The buffer is empty afterwards and the stopped timer never fires.
	turn, err = d.Drain(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, turn.Fragments)
	assert.Empty(t, collector.snapshot())
}

func TestCloseFlushesPendingTurns(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), time.Hour, collector.handle, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, d.Submit(ctx, "t1", "c1", "unfinished", time.Now()))
	require.NoError(t, d.Close(ctx))

	turns := collector.snapshot()
	require.Len(t, turns, 1)
	assert.Equal(t, "unfinished", turns[0].Text())

	assert.ErrorIs(t, d.Submit(ctx, "t1", "c1", "too late", time.Now()), ErrClosed)
}

func TestSubmitConcurrentWithFiring(t *testing.T) {
	collector := &turnCollector{}
	d := NewDebouncer(NewMemoryFragmentStore(), 10*time.Millisecond, collector.handle, zap.NewNop())

	ctx := context.Background()
	const total = 50
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = d.Submit(ctx, "t1", "c1", fmt.Sprintf("frag-%d", i), time.Now())
		}(i)
	}
	wg.Wait()
	require.NoError(t, d.Close(ctx))

	// Every fragment comes out exactly once, across however many turns
	// the timing produced.
	seen := make(map[string]int)
	for _, turn := range collector.snapshot() {
		for _, fragment := range turn.Fragments {
			seen[fragment]++
		}
	}
	assert.Len(t, seen, total)
	for fragment, count := range seen {
		assert.Equal(t, 1, count, "fragment %s", fragment)
	}
}
