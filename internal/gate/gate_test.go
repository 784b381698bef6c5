package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mahdimizabiself-rgb/Self/internal/broadcast"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

const ownerID = int64(1)

type fakeProber struct {
	mu     sync.Mutex
	member map[string]bool // channel -> membership; missing key probes as error
	probes int
}

func (f *fakeProber) IsMember(_ context.Context, channel string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	m, ok := f.member[channel]
	if !ok {
		return false, errors.New("probe failed")
	}
	return m, nil
}

func (f *fakeProber) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type nullSender struct{}

func (nullSender) SendText(context.Context, int64, string) error { return nil }

func newGate(t *testing.T) (*Gate, *storage.Memory, *fakeProber) {
	t.Helper()
	mem := storage.NewMemory()
	prober := &fakeProber{member: map[string]bool{}}
	n := notify.New(nullSender{}, ownerID, logx.Nop())
	g := New(mem, prober, n, ownerID, nil, logx.Nop())
	return g, mem, prober
}

func enable(t *testing.T, g *Gate) {
	t.Helper()
	if err := g.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
}

func TestOwnerAlwaysAllowed(t *testing.T) {
	t.Parallel()
	g, _, prober := newGate(t)
	enable(t, g)
	if _, err := g.AddChannel(context.Background(), "@req"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	d, err := g.Check(context.Background(), ownerID)
	if err != nil || !d.Allowed {
		t.Fatalf("owner check: %+v, %v", d, err)
	}
	if prober.probeCount() != 0 {
		t.Fatal("owner must bypass probes")
	}
}

func TestDisabledGateAllowsEveryone(t *testing.T) {
	t.Parallel()
	g, _, prober := newGate(t)
	if _, err := g.AddChannel(context.Background(), "@req"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	d, err := g.Check(context.Background(), 50)
	if err != nil || !d.Allowed {
		t.Fatalf("check with disabled gate: %+v, %v", d, err)
	}
	if prober.probeCount() != 0 {
		t.Fatal("disabled gate must not probe")
	}
}

func TestBlockedListsUnmetChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, prober := newGate(t)
	enable(t, g)
	for _, ch := range []string{"@a", "@b", "@c"} {
		if _, err := g.AddChannel(ctx, ch); err != nil {
			t.Fatalf("AddChannel: %v", err)
		}
	}
	prober.member["@a"] = true
	prober.member["@b"] = false
	// @c probes as error: fail-closed, counts as unmet.

	d, err := g.Check(ctx, 50)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected blocked")
	}
	if len(d.Missing) != 2 || d.Missing[0] != "@b" || d.Missing[1] != "@c" {
		t.Fatalf("Missing = %v, want [@b @c]", d.Missing)
	}
}

func TestVersionFastPathSkipsProbes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, prober := newGate(t)
	enable(t, g)
	if _, err := g.AddChannel(ctx, "@a"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	prober.member["@a"] = true

	if d, err := g.Check(ctx, 50); err != nil || !d.Allowed {
		t.Fatalf("first check: %+v, %v", d, err)
	}
	probesAfterFirst := prober.probeCount()

	// Second check at the same version: no remote calls.
	if d, err := g.Check(ctx, 50); err != nil || !d.Allowed {
		t.Fatalf("second check: %+v, %v", d, err)
	}
	if prober.probeCount() != probesAfterFirst {
		t.Fatalf("fast path probed: %d -> %d", probesAfterFirst, prober.probeCount())
	}
}

func TestBumpForcesReverification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, mem, prober := newGate(t)
	enable(t, g)
	if _, err := g.AddChannel(ctx, "@a"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	prober.member["@a"] = true

	if d, _ := g.Check(ctx, 50); !d.Allowed {
		t.Fatal("first check should pass")
	}

	// Several unrelated bumps; the comparison is version equality against the
	// current counter, not "one behind".
	for i := 0; i < 3; i++ {
		if _, err := g.RemoveChannel(ctx, "@nonexistent"); err != nil {
			t.Fatalf("RemoveChannel: %v", err)
		}
	}

	before := prober.probeCount()
	d, err := g.Check(ctx, 50)
	if err != nil || !d.Allowed {
		t.Fatalf("re-check: %+v, %v", d, err)
	}
	if prober.probeCount() == before {
		t.Fatal("stale version must force fresh probes")
	}

	// Idempotent re-verification records the newest version.
	acct, _, err := mem.GetAccount(ctx, 50)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	v, _ := mem.GateVersion(ctx)
	if acct.GateVersion != v {
		t.Fatalf("recorded version = %d, want current %d", acct.GateVersion, v)
	}
}

func TestAddAndRemoveBothBumpVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, mem, _ := newGate(t)

	v1, err := g.AddChannel(ctx, "@a")
	if err != nil || v1 != 1 {
		t.Fatalf("AddChannel: v=%d err=%v", v1, err)
	}
	v2, err := g.RemoveChannel(ctx, "@a")
	if err != nil || v2 != 2 {
		t.Fatalf("RemoveChannel: v=%d err=%v", v2, err)
	}
	if chs, _ := mem.ListChannels(ctx); len(chs) != 0 {
		t.Fatalf("channels = %v", chs)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string // chat -> texts
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[int64][]string{}
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func (r *recordingSender) texts(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[chatID]
}

func TestAddChannelPromptsEveryAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, mem, _ := newGate(t)
	rec := &recordingSender{}
	n := notify.New(rec, ownerID, logx.Nop())
	g.SetAnnouncer(broadcast.New(n, 1000, 100, nil, logx.Nop()))

	for _, id := range []int64{42, 43} {
		if err := mem.UpsertAccount(ctx, storage.Account{ID: id, Active: true}); err != nil {
			t.Fatalf("UpsertAccount: %v", err)
		}
	}

	if _, err := g.AddChannel(ctx, "@newchan"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	for _, id := range []int64{42, 43} {
		got := rec.texts(id)
		if len(got) != 1 {
			t.Fatalf("account %d received %d prompts, want 1", id, len(got))
		}
		if !strings.Contains(got[0], "@newchan") {
			t.Errorf("prompt to %d does not name the channel: %q", id, got[0])
		}
	}

	// Removal invalidates quietly: no user fan-out.
	rec.mu.Lock()
	rec.sent = map[int64][]string{}
	rec.mu.Unlock()
	if _, err := g.RemoveChannel(ctx, "@newchan"); err != nil {
		t.Fatalf("RemoveChannel: %v", err)
	}
	if got := rec.texts(42); len(got) != 0 {
		t.Fatalf("account 42 prompted on removal: %v", got)
	}
}

func TestNoChannelsMeansAllowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newGate(t)
	enable(t, g)

	d, err := g.Check(ctx, 50)
	if err != nil || !d.Allowed {
		t.Fatalf("empty requirement set: %+v, %v", d, err)
	}
}

func TestBlockedUserDoesNotCacheVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, mem, prober := newGate(t)
	enable(t, g)
	if _, err := g.AddChannel(ctx, "@a"); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	prober.member["@a"] = false

	if d, _ := g.Check(ctx, 50); d.Allowed {
		t.Fatal("expected blocked")
	}
	// A blocked check must not record satisfaction.
	if acct, ok, _ := mem.GetAccount(ctx, 50); ok && acct.GateVersion != 0 {
		t.Fatalf("blocked user cached version %d", acct.GateVersion)
	}

	// User joins; next check passes and caches.
	prober.member["@a"] = true
	if d, _ := g.Check(ctx, 50); !d.Allowed {
		t.Fatal("check after joining should pass")
	}
	before := prober.probeCount()
	if d, _ := g.Check(ctx, 50); !d.Allowed {
		t.Fatal("cached check should pass")
	}
	if prober.probeCount() != before {
		t.Fatal("expected fast path after successful verification")
	}
}
