package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Memory is a map-backed Store. It backs the "memory" driver and the test
// suites of every service above this package.
type Memory struct {
	mu       sync.Mutex
	accounts map[int64]Account
	apps     map[int64]App
	channels map[string]struct{}
	settings map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		accounts: map[int64]Account{},
		apps:     map[int64]App{},
		channels: map[string]struct{}{},
		settings: map[string]string{
			SettingGateEnabled:   "false",
			SettingGateVersion:   "0",
			SettingPoolExhausted: "false",
		},
	}
}

func (m *Memory) GetAccount(_ context.Context, id int64) (Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

func (m *Memory) UpsertAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) SetAccountActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.Active = active
		m.accounts[id] = a
	}
	return nil
}

func (m *Memory) SetGateVersion(_ context.Context, id int64, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		a = Account{ID: id, DigitStyle: StyleUnset}
	}
	a.GateVersion = version
	m.accounts[id] = a
	return nil
}

func (m *Memory) ListActiveConfigured(_ context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Account
	for _, a := range m.accounts {
		if a.Active && a.Configured() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAccountIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.accounts))
	for id := range m.accounts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) CountAccounts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts), nil
}

func (m *Memory) ListApps(_ context.Context) ([]App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]App, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertApp(_ context.Context, a App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[a.ID] = a
	return nil
}

func (m *Memory) CountAccountsByApp(_ context.Context, appID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.AppID == appID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListChannels(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for c := range m.channels {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AddChannel(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = struct{}{}
	return nil
}

func (m *Memory) RemoveChannel(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
	return nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[key], nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) GateVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateVersionLocked(), nil
}

func (m *Memory) IncrementGateVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.gateVersionLocked() + 1
	m.settings[SettingGateVersion] = strconv.FormatInt(v, 10)
	return v, nil
}

func (m *Memory) gateVersionLocked() int64 {
	v, err := strconv.ParseInt(m.settings[SettingGateVersion], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
