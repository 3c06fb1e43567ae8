package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu     sync.Mutex
	state  map[string]bool
	errs   map[string]error
	probed []string
}

func (f *fakeGateway) IsConnected(_ context.Context, deviceToken, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, deviceToken)
	if err := f.errs[deviceToken]; err != nil {
		return false, err
	}
	return f.state[deviceToken], nil
}

type fakeLocal map[string]bool

func (f fakeLocal) IsConnected(id string) bool { return f[id] }

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open("file:" + filepath.Join(t.TempDir(), "mon.db") + "?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func addInstance(t *testing.T, st *storage.Store, token, provider, status string) *model.Instance {
	t.Helper()
	in := &model.Instance{Name: token, Phone: "55" + token, DeviceToken: token, Provider: provider, Status: status}
	require.NoError(t, st.CreateInstance(context.Background(), in))
	return in
}

func status(t *testing.T, st *storage.Store, id string) string {
	t.Helper()
	in, err := st.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return in.Status
}

func TestCheckAll(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	up := addInstance(t, st, "a", model.ProviderWPP, model.StatusDisconnected)
	down := addInstance(t, st, "b", model.ProviderBaileys, model.StatusConnected)
	same := addInstance(t, st, "c", model.ProviderWPP, model.StatusConnected)
	broken := addInstance(t, st, "d", model.ProviderWPP, model.StatusConnected)
	banned := addInstance(t, st, "e", model.ProviderWPP, model.StatusBanned)
	noDevice := &model.Instance{Name: "f", Phone: "1", Status: model.StatusConnected}
	require.NoError(t, st.CreateInstance(ctx, noDevice))

	gw := &fakeGateway{
		state: map[string]bool{"a": true, "b": false, "c": true},
		errs:  map[string]error{"d": errors.New("timeout")},
	}
	m := New(st, gw, nil, time.Minute, zap.NewNop())
	updates := m.CheckAll(ctx)

	sort.Slice(updates, func(i, j int) bool { return updates[i].Phone < updates[j].Phone })
	assert.Equal(t, []Update{
		{InstanceID: up.ID, Status: model.StatusConnected, Phone: "55a"},
		{InstanceID: down.ID, Status: model.StatusDisconnected, Phone: "55b"},
		{InstanceID: broken.ID, Status: model.StatusDisconnected, Phone: "55d"},
	}, updates)

	assert.Equal(t, model.StatusConnected, status(t, st, up.ID))
	assert.Equal(t, model.StatusDisconnected, status(t, st, down.ID))
	assert.Equal(t, model.StatusConnected, status(t, st, same.ID))
	assert.Equal(t, model.StatusDisconnected, status(t, st, broken.ID))
	assert.Equal(t, model.StatusBanned, status(t, st, banned.ID))
	assert.NotContains(t, gw.probed, "e")
	assert.Len(t, gw.probed, 4)
}

func TestCheckErrorOnDisconnectedIsQuiet(t *testing.T) {
	st := openStore(t)
	in := addInstance(t, st, "a", model.ProviderWPP, model.StatusDisconnected)
	gw := &fakeGateway{errs: map[string]error{"a": errors.New("boom")}}

	updates := New(st, gw, nil, 0, zap.NewNop()).CheckAll(context.Background())
	assert.Empty(t, updates)
	assert.Equal(t, model.StatusDisconnected, status(t, st, in.ID))
}

func TestLocalDevices(t *testing.T) {
	st := openStore(t)
	online := addInstance(t, st, "wa1", model.ProviderWhatsmeow, model.StatusDisconnected)
	pairing := addInstance(t, st, "wa2", model.ProviderWhatsmeow, model.StatusConnecting)
	gw := &fakeGateway{}

	m := New(st, gw, fakeLocal{online.ID: true}, 0, zap.NewNop())
	updates := m.CheckAll(context.Background())

	require.Len(t, updates, 1)
	assert.Equal(t, online.ID, updates[0].InstanceID)
	assert.Equal(t, model.StatusConnecting, status(t, st, pairing.ID))
	assert.Empty(t, gw.probed, "local devices never hit the gateway")
}

func TestRunStopsWithContext(t *testing.T) {
	st := openStore(t)
	addInstance(t, st, "a", model.ProviderWPP, model.StatusDisconnected)
	gw := &fakeGateway{state: map[string]bool{"a": true}}
	m := New(st, gw, nil, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.probed) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
