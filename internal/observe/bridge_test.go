package observe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

func snapshot(id string, status tracker.Status, progress int) tracker.Job {
	return tracker.Job{ID: id, Status: status, Progress: progress}
}

func TestBridgeDeliversInOrderAndClosesOnTerminal(t *testing.T) {
	t.Parallel()

	b := NewBridge(Config{})
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	b.Publish(snapshot("job-1", tracker.StatusPending, 0))
	b.Publish(snapshot("job-1", tracker.StatusRunning, 45))
	b.Publish(snapshot("job-1", tracker.StatusRunning, 80))
	b.Publish(snapshot("job-1", tracker.StatusCompleted, 100))

	var got []tracker.Job
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, 4)
	last := -1
	for _, s := range got {
		require.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
	require.Equal(t, tracker.StatusCompleted, got[len(got)-1].Status)
}

func TestBridgeIsolatesJobIDs(t *testing.T) {
	t.Parallel()

	b := NewBridge(Config{})
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	ch1, cancel1 := b.Subscribe("job-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("job-2")
	defer cancel2()

	b.Publish(snapshot("job-1", tracker.StatusCompleted, 100))

	s := <-ch1
	require.Equal(t, "job-1", s.ID)
	_, open := <-ch1
	require.False(t, open)

	select {
	case s := <-ch2:
		t.Fatalf("job-2 subscriber received snapshot for %s", s.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeSlowSubscriberKeepsNewest(t *testing.T) {
	t.Parallel()

	b := NewBridge(Config{SubscriberBuffer: 2})
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	// Nobody reads while 10 snapshots arrive; the buffer holds 2.
	for i := 1; i <= 9; i++ {
		b.Publish(snapshot("job-1", tracker.StatusRunning, i*10))
	}
	b.Publish(snapshot("job-1", tracker.StatusCompleted, 100))

	var got []tracker.Job
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	require.Equal(t, tracker.StatusCompleted, got[len(got)-1].Status)
	require.Equal(t, 100, got[len(got)-1].Progress)
}

func TestBridgeSinksSeeEverySnapshot(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	b := NewBridge(Config{}, sink)

	b.Publish(snapshot("job-1", tracker.StatusRunning, 10))
	b.Publish(snapshot("job-1", tracker.StatusCompleted, 100))
	require.NoError(t, b.Close(context.Background()))

	require.Equal(t, 2, sink.count())
	require.True(t, sink.closed)
}

func TestBridgeDropClosesJobSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBridge(Config{})
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	ch1, cancel1 := b.Subscribe("job-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("job-2")
	defer cancel2()

	b.Drop("job-1")

	_, ok := <-ch1
	require.False(t, ok, "dropped job streams close without a snapshot")

	// Other job ids are untouched.
	b.Publish(snapshot("job-2", tracker.StatusRunning, 30))
	s, ok := <-ch2
	require.True(t, ok)
	require.Equal(t, 30, s.Progress)
}

func TestBridgePublishAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	b := NewBridge(Config{})
	ch, _ := b.Subscribe("job-1")
	require.NoError(t, b.Close(context.Background()))

	b.Publish(snapshot("job-1", tracker.StatusRunning, 10))
	_, open := <-ch
	require.False(t, open)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []tracker.Job
	closed    bool
}

func (s *recordingSink) Consume(_ context.Context, snapshot tracker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
