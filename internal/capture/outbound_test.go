package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hudlink/internal/capture"
	"github.com/MrWong99/hudlink/pkg/pcm"
	livemock "github.com/MrWong99/hudlink/pkg/provider/live/mock"
)

func blob(id string) pcm.Blob {
	return pcm.Blob{Data: id, MIMEType: pcm.InputMIMEType}
}

func payloads(blobs []pcm.Blob) []string {
	out := make([]string, len(blobs))
	for i, b := range blobs {
		out[i] = b.Data
	}
	return out
}

// waitSent blocks until sess has recorded n sends or the deadline passes.
func waitSent(t *testing.T, sess *livemock.Session, n int) []pcm.Blob {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := sess.Sent(); len(got) >= n {
			return got
		}
		select {
		case <-sess.SentSignal():
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d sends, got %d", n, len(sess.Sent()))
		}
	}
}

func runQueue(t *testing.T, q *capture.Outbound) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestOutbound_DefersUntilAttached(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound()
	runQueue(t, q)

	for _, id := range []string{"a", "b", "c"} {
		if !q.Submit(blob(id)) {
			t.Fatalf("Submit(%q) rejected", id)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d before attach, want 3", q.Len())
	}

	sess := livemock.NewSession(1)
	q.Attach(sess)
	got := waitSent(t, sess, 3)

	if diff := cmp.Diff([]string{"a", "b", "c"}, payloads(got)); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}
}

func TestOutbound_PreservesOrderUnderLoad(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound(capture.WithCapacity(1024))
	sess := livemock.NewSession(1)
	q.Attach(sess)
	runQueue(t, q)

	var want []string
	for i := range 500 {
		id := string(rune('A'+i%26)) + string(rune('0'+i/26%10)) + string(rune('a'+i/260))
		want = append(want, id)
		q.Submit(blob(id))
	}
	got := waitSent(t, sess, 500)
	if diff := cmp.Diff(want, payloads(got)); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}
}

func TestOutbound_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound(capture.WithCapacity(3))

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		q.Submit(blob(id))
	}
	st := q.Stats()
	if st.Queued != 3 || st.Dropped != 2 {
		t.Fatalf("Stats() = %+v, want 3 queued, 2 dropped", st)
	}

	sess := livemock.NewSession(1)
	q.Attach(sess)
	runQueue(t, q)
	got := waitSent(t, sess, 3)
	if diff := cmp.Diff([]string{"3", "4", "5"}, payloads(got)); diff != "" {
		t.Errorf("surviving blobs mismatch (-want +got):\n%s", diff)
	}
}

func TestOutbound_SubmitNeverBlocks(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound(capture.WithCapacity(2))

	// No Run, no sender: a blocking Submit would hang here.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			q.Submit(blob("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked")
	}
}

// blockingSender holds every send until released.
type blockingSender struct {
	mu      sync.Mutex
	release chan struct{}
	got     []string
}

func (b *blockingSender) SendRealtimeInput(ctx context.Context, blob pcm.Blob) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.got = append(b.got, blob.Data)
	b.mu.Unlock()
	return nil
}

func TestOutbound_SlowSenderDoesNotBlockSubmit(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound(capture.WithCapacity(4))
	s := &blockingSender{release: make(chan struct{})}
	q.Attach(s)
	runQueue(t, q)

	start := time.Now()
	for range 50 {
		q.Submit(blob("x"))
	}
	if time.Since(start) > time.Second {
		t.Error("Submit waited on a slow sender")
	}
	close(s.release)
}

func TestOutbound_SendErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound()
	sess := livemock.NewSession(1)
	sess.SendErr = errors.New("socket gone")
	q.Attach(sess)
	runQueue(t, q)

	q.Submit(blob("a"))
	q.Submit(blob("b"))
	got := waitSent(t, sess, 2)

	// Give a retry the chance to show up.
	time.Sleep(20 * time.Millisecond)
	if n := len(sess.Sent()); n != 2 {
		t.Errorf("sent %d times, want 2 (no retries)", n)
	}
	if diff := cmp.Diff([]string{"a", "b"}, payloads(got)); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}
	deadline := time.Now().Add(time.Second)
	for q.Stats().Failed != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if st := q.Stats(); st.Failed != 2 || st.Sent != 0 {
		t.Errorf("Stats() = %+v, want 2 failed, 0 sent", st)
	}
}

func TestOutbound_Close(t *testing.T) {
	t.Parallel()
	q := capture.NewOutbound()

	q.Submit(blob("a"))
	q.Submit(blob("b"))
	if n := q.Close(); n != 2 {
		t.Errorf("Close() discarded %d, want 2", n)
	}
	if q.Submit(blob("c")) {
		t.Error("Submit accepted after Close")
	}
	if n := q.Close(); n != 0 {
		t.Errorf("second Close() = %d, want 0", n)
	}

	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run on closed queue = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a closed queue")
	}
}
