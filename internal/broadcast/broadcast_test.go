package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

type flakySender struct {
	mu       sync.Mutex
	failFor  map[int64]bool
	received []int64
}

func (f *flakySender) SendText(_ context.Context, chatID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[chatID] {
		return errors.New("chat unavailable")
	}
	f.received = append(f.received, chatID)
	return nil
}

func TestRunCountsFailuresAndContinues(t *testing.T) {
	t.Parallel()
	sender := &flakySender{failFor: map[int64]bool{2: true}}
	svc := New(notify.New(sender, 1, logx.Nop()), 1000, 10, nil, logx.Nop())

	st := svc.Run(context.Background(), []int64{1, 2, 3}, "hello")
	if st.Total != 3 || st.Sent != 2 || st.Failed != 1 {
		t.Fatalf("status = %+v", st)
	}
	if len(sender.received) != 2 {
		t.Fatalf("delivered = %v", sender.received)
	}
	if got := svc.Last(); got.ID != st.ID {
		t.Fatalf("Last() = %+v, want run %s", got, st.ID)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	sender := &flakySender{}
	// 1 msg/sec: the second send has to wait, which is when cancel lands.
	svc := New(notify.New(sender, 1, logx.Nop()), 1, 1, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first (burst) send through, then cancel during the wait.
		for {
			sender.mu.Lock()
			n := len(sender.received)
			sender.mu.Unlock()
			if n >= 1 {
				cancel()
				return
			}
		}
	}()

	st := svc.Run(ctx, []int64{1, 2, 3, 4}, "hello")
	if st.Sent >= st.Total {
		t.Fatalf("cancel did not stop the run: %+v", st)
	}
}

func TestRunEmptyTargets(t *testing.T) {
	t.Parallel()
	svc := New(notify.New(&flakySender{}, 1, logx.Nop()), 100, 1, nil, logx.Nop())
	st := svc.Run(context.Background(), nil, "hello")
	if st.Total != 0 || st.Sent != 0 || st.Failed != 0 {
		t.Fatalf("status = %+v", st)
	}
}
