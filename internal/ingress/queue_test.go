package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
)

func pkt(pts int64) *media.Packet {
	return &media.Packet{PTS: pts, Payload: []byte{byte(pts)}}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()
	for i := int64(0); i < 8; i++ {
		require.NoError(t, q.Send(ctx, pkt(i)))
	}
	require.Equal(t, 8, q.Len())
	for i := int64(0); i < 8; i++ {
		p := <-q.C()
		require.Equal(t, i, p.PTS)
	}
}

func TestQueueClampsCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, New(0).Cap())
	require.Equal(t, 1, New(-3).Cap())
}

func TestQueueSendBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := New(2)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, pkt(1)))
	require.NoError(t, q.Send(ctx, pkt(2)))

	sent := make(chan error, 1)
	go func() { sent <- q.Send(ctx, pkt(3)) }()

	select {
	case <-sent:
		t.Fatal("send on a full queue returned before a slot was freed")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, int64(1), (<-q.C()).PTS)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked send did not complete after a slot was freed")
	}

	require.Equal(t, int64(2), (<-q.C()).PTS)
	require.Equal(t, int64(3), (<-q.C()).PTS)
}

func TestQueueSendHonoursContext(t *testing.T) {
	t.Parallel()

	q := New(1)
	require.NoError(t, q.Send(context.Background(), pkt(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Send(ctx, pkt(2)), context.DeadlineExceeded)
	require.Equal(t, 1, q.Len())
}

func TestQueueCloseDrainsBufferedPackets(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, pkt(1)))
	require.NoError(t, q.Send(ctx, pkt(2)))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Send(ctx, pkt(3)), media.ErrClosed)

	var got []int64
	for p := range q.C() {
		got = append(got, p.PTS)
	}
	require.Equal(t, []int64{1, 2}, got)
}

func TestQueueCloseWaitsForInflightSend(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, pkt(1)))

	sent := make(chan error, 1)
	go func() { sent <- q.Send(ctx, pkt(2)) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	var got []int64
	for p := range q.C() {
		got = append(got, p.PTS)
	}
	require.NoError(t, <-sent)
	<-closed
	require.Equal(t, []int64{1, 2}, got)
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()

	const producers, each = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < each; i++ {
				_ = q.Send(ctx, pkt(base+i))
			}
		}(int64(p * 1000))
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	last := map[int64]int64{}
	n := 0
	for p := range q.C() {
		base := p.PTS / 1000 * 1000
		if prev, ok := last[base]; ok {
			require.Greater(t, p.PTS, prev, "per-producer order must hold")
		}
		last[base] = p.PTS
		n++
	}
	require.Equal(t, producers*each, n)
}
