package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityleague/league/internal/protocol"
)

func msg(id string, p Priority) Message {
	return Message{ID: id, Priority: p, Msg: protocol.Message{JSONRPC: protocol.Version, ID: id}}
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := New()

	require.NoError(t, q.Enqueue(msg("n1", Normal)))
	require.NoError(t, q.Enqueue(msg("h1", High)))
	require.NoError(t, q.Enqueue(msg("u1", Urgent)))
	require.NoError(t, q.Enqueue(msg("n2", Normal)))
	require.NoError(t, q.Enqueue(msg("u2", Urgent)))
	require.NoError(t, q.Enqueue(msg("h2", High)))

	want := []string{"u1", "u2", "h1", "h2", "n1", "n2"}
	for _, id := range want {
		m, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, m.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestDequeueFIFOWithinTier(t *testing.T) {
	q := New()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(msg(fmt.Sprintf("m%03d", i), High)))
	}
	for i := 0; i < 100; i++ {
		m, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%03d", i), m.ID)
	}
}

// Any interleaving of enqueues must dequeue all urgent before any high and
// all high before any normal.
func TestDequeueRandomInterleaving(t *testing.T) {
	q := New()
	counts := map[Priority]int{}
	for i := 0; i < 300; i++ {
		p := Priority(rand.IntN(3))
		counts[p]++
		require.NoError(t, q.Enqueue(msg(fmt.Sprintf("%s-%d", p, counts[p]), p)))
	}

	last := Urgent
	seen := map[Priority]int{}
	for q.Len() > 0 {
		m, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, m.Priority, last, "priority must not increase across dequeues")
		last = m.Priority
		seen[m.Priority]++
		// FIFO within tier: ids carry the per-tier sequence number.
		assert.Equal(t, fmt.Sprintf("%s-%d", m.Priority, seen[m.Priority]), m.ID)
	}
	assert.Equal(t, counts, seen)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()

	got := make(chan Message, 1)
	go func() {
		m, err := q.Dequeue(context.Background())
		if err == nil {
			got <- m
		}
	}()

	// Give the consumer a chance to block.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(msg("late", Normal)))

	select {
	case m := <-got:
		assert.Equal(t, "late", m.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestDequeueContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenRejects(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(msg("a", Normal)))
	q.Close()

	// Remaining messages drain after close.
	m, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", m.ID)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(msg("b", Normal)), ErrClosed)
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_ = q.Enqueue(msg(fmt.Sprintf("p%d-%d", i, j), Priority(j%3)))
			}
		}(i)
	}

	var mu sync.Mutex
	received := 0
	var cwg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				if _, err := q.Dequeue(ctx); err != nil {
					return
				}
				mu.Lock()
				received++
				done := received == producers*perProducer
				mu.Unlock()
				if done {
					cancel()
					return
				}
			}
		}()
	}

	wg.Wait()
	cwg.Wait()
	assert.Equal(t, producers*perProducer, received)
}
