package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Both backends must behave identically; every test runs against each.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func TestAccountRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, ok, err := s.GetAccount(ctx, 42); err != nil || ok {
			t.Fatalf("GetAccount on empty store: ok=%v err=%v", ok, err)
		}

		a := Account{
			ID: 42, Phone: "+989120000000", AppID: 1001, AppHash: "h",
			Session: "blob", BaseName: "Ali", DigitStyle: 2, Active: true,
		}
		if err := s.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("UpsertAccount: %v", err)
		}
		got, ok, err := s.GetAccount(ctx, 42)
		if err != nil || !ok {
			t.Fatalf("GetAccount: ok=%v err=%v", ok, err)
		}
		if got != a {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, a)
		}

		// Upsert replaces.
		a.BaseName = "Reza"
		if err := s.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("UpsertAccount update: %v", err)
		}
		got, _, _ = s.GetAccount(ctx, 42)
		if got.BaseName != "Reza" {
			t.Fatalf("BaseName after update = %q", got.BaseName)
		}
	})
}

func TestListActiveConfiguredFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		full := Account{ID: 1, AppID: 1, AppHash: "h", Session: "s", BaseName: "b", DigitStyle: 0, Active: true}
		put := func(a Account) {
			if err := s.UpsertAccount(ctx, a); err != nil {
				t.Fatalf("upsert %d: %v", a.ID, err)
			}
		}
		put(full)

		inactive := full
		inactive.ID, inactive.Active = 2, false
		put(inactive)

		noSession := full
		noSession.ID, noSession.Session = 3, ""
		put(noSession)

		noStyle := full
		noStyle.ID, noStyle.DigitStyle = 4, StyleUnset
		put(noStyle)

		noApp := full
		noApp.ID, noApp.AppID = 5, 0
		put(noApp)

		got, err := s.ListActiveConfigured(ctx)
		if err != nil {
			t.Fatalf("ListActiveConfigured: %v", err)
		}
		if len(got) != 1 || got[0].ID != 1 {
			t.Fatalf("expected only account 1, got %+v", got)
		}
	})
}

func TestSetGateVersionUpserts(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		// No account row yet: SetGateVersion must create an inactive stub.
		if err := s.SetGateVersion(ctx, 7, 3); err != nil {
			t.Fatalf("SetGateVersion: %v", err)
		}
		a, ok, err := s.GetAccount(ctx, 7)
		if err != nil || !ok {
			t.Fatalf("GetAccount: ok=%v err=%v", ok, err)
		}
		if a.GateVersion != 3 {
			t.Fatalf("GateVersion = %d, want 3", a.GateVersion)
		}
		if a.Active {
			t.Fatal("gate-only stub must not be active")
		}

		// The stub must never appear in the scheduler's reconciliation set.
		list, err := s.ListActiveConfigured(ctx)
		if err != nil {
			t.Fatalf("ListActiveConfigured: %v", err)
		}
		if len(list) != 0 {
			t.Fatalf("stub leaked into active set: %+v", list)
		}
	})
}

func TestAppsAndDerivedUsage(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.UpsertApp(ctx, App{ID: 2002, Hash: "b", Active: true}); err != nil {
			t.Fatalf("UpsertApp: %v", err)
		}
		if err := s.UpsertApp(ctx, App{ID: 1001, Hash: "a", Active: true}); err != nil {
			t.Fatalf("UpsertApp: %v", err)
		}
		apps, err := s.ListApps(ctx)
		if err != nil {
			t.Fatalf("ListApps: %v", err)
		}
		if len(apps) != 2 || apps[0].ID != 1001 || apps[1].ID != 2002 {
			t.Fatalf("apps not in ascending id order: %+v", apps)
		}

		for i := int64(0); i < 3; i++ {
			err := s.UpsertAccount(ctx, Account{ID: 100 + i, AppID: 1001, DigitStyle: StyleUnset})
			if err != nil {
				t.Fatalf("UpsertAccount: %v", err)
			}
		}
		n, err := s.CountAccountsByApp(ctx, 1001)
		if err != nil || n != 3 {
			t.Fatalf("CountAccountsByApp(1001) = %d, %v", n, err)
		}
		n, err = s.CountAccountsByApp(ctx, 2002)
		if err != nil || n != 0 {
			t.Fatalf("CountAccountsByApp(2002) = %d, %v", n, err)
		}
	})
}

func TestChannels(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, ch := range []string{"@b", "@a", "@b"} { // duplicate add is a no-op
			if err := s.AddChannel(ctx, ch); err != nil {
				t.Fatalf("AddChannel(%s): %v", ch, err)
			}
		}
		got, err := s.ListChannels(ctx)
		if err != nil {
			t.Fatalf("ListChannels: %v", err)
		}
		if len(got) != 2 || got[0] != "@a" || got[1] != "@b" {
			t.Fatalf("channels = %v", got)
		}
		if err := s.RemoveChannel(ctx, "@a"); err != nil {
			t.Fatalf("RemoveChannel: %v", err)
		}
		got, _ = s.ListChannels(ctx)
		if len(got) != 1 || got[0] != "@b" {
			t.Fatalf("channels after remove = %v", got)
		}
	})
}

func TestSettingsSeededAndGateVersion(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if v, err := s.GetSetting(ctx, SettingGateEnabled); err != nil || v != "false" {
			t.Fatalf("gate_enabled seed = %q, %v", v, err)
		}
		if v, err := s.GateVersion(ctx); err != nil || v != 0 {
			t.Fatalf("initial gate version = %d, %v", v, err)
		}
		for want := int64(1); want <= 3; want++ {
			got, err := s.IncrementGateVersion(ctx)
			if err != nil || got != want {
				t.Fatalf("IncrementGateVersion = %d, %v (want %d)", got, err, want)
			}
		}
		if v, _ := s.GateVersion(ctx); v != 3 {
			t.Fatalf("gate version after bumps = %d", v)
		}
	})
}

func TestIncrementGateVersionConcurrent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const n = 20
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				if _, err := s.IncrementGateVersion(ctx); err != nil {
					t.Errorf("IncrementGateVersion: %v", err)
				}
			}()
		}
		wg.Wait()
		v, err := s.GateVersion(ctx)
		if err != nil {
			t.Fatalf("GateVersion: %v", err)
		}
		if v != n {
			t.Fatalf("lost updates: version = %d, want %d", v, n)
		}
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
