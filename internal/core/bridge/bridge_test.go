package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/blinkbridge/internal/config"
	"github.com/trymwestin/blinkbridge/internal/core/blink"
	"github.com/trymwestin/blinkbridge/internal/core/state"
)

type fakeClient struct {
	mu sync.Mutex

	loggedIn  bool
	loginErr  error
	verifyErr error
	hs        *blink.Homescreen
	hsErr     error
	hsErrOnce error

	loginCalls  int
	verifyCalls int
	armCalls    []bool
	thumbCalls  []int
	waitCalls   []int
	mediaPaths  []string
}

func (f *fakeClient) RestoreSession() error { return nil }

func (f *fakeClient) LoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeClient) Login(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		if errors.Is(f.loginErr, blink.ErrTwoFactorRequired) {
			// the partial session still carries a token
			f.loggedIn = true
		}
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeClient) VerifyPIN(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyErr
}

func (f *fakeClient) Homescreen(_ context.Context) (*blink.Homescreen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hsErrOnce != nil {
		err := f.hsErrOnce
		f.hsErrOnce = nil
		return nil, err
	}
	if f.hsErr != nil {
		return nil, f.hsErr
	}
	return f.hs, nil
}

func (f *fakeClient) SetArmed(_ context.Context, networkID int, armed bool) (*blink.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armCalls = append(f.armCalls, armed)
	for i := range f.hs.Networks {
		if f.hs.Networks[i].ID == networkID {
			f.hs.Networks[i].Armed = armed
		}
	}
	return &blink.Command{ID: 700 + networkID, NetworkID: networkID}, nil
}

func (f *fakeClient) RequestThumbnail(_ context.Context, cam blink.Camera) (*blink.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbCalls = append(f.thumbCalls, cam.ID)
	return &blink.Command{ID: 55, NetworkID: cam.NetworkID}, nil
}

func (f *fakeClient) WaitCommand(_ context.Context, _ int, commandID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls = append(f.waitCalls, commandID)
	return nil
}

func (f *fakeClient) DownloadMedia(_ context.Context, mediaPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaPaths = append(f.mediaPaths, mediaPath)
	return []byte("jpeg-bytes"), nil
}

func (f *fakeClient) set(fn func(*fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) counts() (logins, verifies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.verifyCalls
}

type fakeImages struct {
	mu     sync.Mutex
	writes map[string][]byte
}

func (f *fakeImages) Write(slug string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[slug] = data
	return "/images/" + slug + ".jpg", nil
}

func (f *fakeImages) get(slug string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.writes[slug]
	return data, ok
}

func testHomescreen(armed bool) *blink.Homescreen {
	temp := 72
	return &blink.Homescreen{
		Networks: []blink.Network{{ID: 10, Name: "Home", Armed: armed}},
		Cameras: []blink.Camera{{
			ID: 1, NetworkID: 10, Name: "Front Door", Serial: "CAM001",
			Status: "done", Battery: "ok", Thumbnail: "/media/thumb/1",
			Signals: &blink.Signals{Temp: &temp},
		}},
		Owls: []blink.Camera{{
			ID: 2, NetworkID: 10, Name: "Kitchen Mini", Serial: "OWL001",
			Status: "online", Thumbnail: "/media/thumb/2",
		}},
	}
}

func configuredCfg() config.Config {
	cfg := config.Defaults()
	cfg.BlinkEmail = "me@example.com"
	cfg.BlinkPassword = "hunter2"
	return cfg
}

func startSupervisor(t *testing.T, fc *fakeClient, cfg config.Config) (*Supervisor, *state.StateStore, *fakeImages) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	bus := state.NewEventBus(log)
	store := state.NewStateStore(bus, log)
	imgs := &fakeImages{writes: make(map[string][]byte)}

	sup := NewSupervisor(fc, imgs, store, cfg, log)
	sup.Timings = Timings{
		ErrorRetry:     10 * time.Millisecond,
		TwoFactorPoll:  10 * time.Millisecond,
		ConfigRecheck:  10 * time.Millisecond,
		RequestTimeout: time.Second,
	}

	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	return sup, store, imgs
}

func awaitLifecycle(t *testing.T, store *state.StateStore, want state.Lifecycle) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return store.Lifecycle() == want
	}, 2*time.Second, 5*time.Millisecond, "lifecycle never reached %s (now %s)", want, store.Lifecycle())
}

func TestConnectsAndRefreshes(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	_, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)

	st := store.Status()
	assert.False(t, st.Armed)
	require.Len(t, st.Cameras, 2)
	assert.Equal(t, "Front Door", st.Cameras[0].Name)
	assert.Equal(t, "front_door", st.Cameras[0].Slug())
	assert.True(t, st.Cameras[0].Online)
	require.NotNil(t, st.Cameras[0].Temperature)
	assert.Equal(t, 72, *st.Cameras[0].Temperature)
	assert.Nil(t, st.Cameras[1].Temperature)

	logins, _ := fc.counts()
	assert.Equal(t, 1, logins)
}

func TestConfigRequiredUntilCredentialsArrive(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	sup, store, _ := startSupervisor(t, fc, config.Defaults())

	awaitLifecycle(t, store, state.LifecycleConfigRequired)

	logins, _ := fc.counts()
	assert.Zero(t, logins)

	// commands are rejected while unconfigured
	err := sup.Arm(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, sup.ApplyConfig(context.Background(), configuredCfg()))
	awaitLifecycle(t, store, state.LifecycleConnected)
}

func TestTwoFactorFlow(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false), loginErr: blink.ErrTwoFactorRequired}
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleWaiting2FA)

	// a wrong pin keeps the bridge waiting
	fc.set(func(f *fakeClient) { f.verifyErr = blink.ErrInvalidPIN })
	err := sup.SubmitPIN(context.Background(), "000000")
	assert.ErrorIs(t, err, blink.ErrInvalidPIN)
	assert.Equal(t, state.LifecycleWaiting2FA, store.Lifecycle())

	// the right pin connects without another login
	fc.set(func(f *fakeClient) { f.verifyErr = nil })
	require.NoError(t, sup.SubmitPIN(context.Background(), "123456"))
	awaitLifecycle(t, store, state.LifecycleConnected)

	logins, verifies := fc.counts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 2, verifies)
}

func TestSubmitPINWhenNotWaiting(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)

	err := sup.SubmitPIN(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrNotWaitingVerification)
}

func TestErrorStateRetriesAndRecovers(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false), loginErr: errors.New("cloud down")}
	_, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleError)
	assert.Contains(t, store.Snapshot().LastError, "cloud down")

	fc.set(func(f *fakeClient) { f.loginErr = nil })
	awaitLifecycle(t, store, state.LifecycleConnected)
	assert.Empty(t, store.Snapshot().LastError)

	logins, _ := fc.counts()
	assert.GreaterOrEqual(t, logins, 2)
}

func TestStaleSessionTriggersRelogin(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{
		hs:        testHomescreen(false),
		loggedIn:  true,
		hsErrOnce: blink.ErrUnauthorized,
	}
	_, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)

	logins, _ := fc.counts()
	assert.Equal(t, 1, logins)
}

func TestArmRelaysToEveryNetworkAndRefreshes(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	fc.hs.Networks = append(fc.hs.Networks, blink.Network{ID: 11, Name: "Garage"})
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)
	require.False(t, store.Status().Armed)

	require.NoError(t, sup.Arm(context.Background(), true))
	assert.True(t, store.Status().Armed)

	fc.mu.Lock()
	armCalls := len(fc.armCalls)
	waitCalls := len(fc.waitCalls)
	fc.mu.Unlock()
	assert.Equal(t, 2, armCalls)
	assert.Equal(t, 2, waitCalls)

	require.NoError(t, sup.Arm(context.Background(), false))
	assert.False(t, store.Status().Armed)
}

func TestSnapshotDownloadsAndStores(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	sup, store, imgs := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)

	// slug form must resolve, it is what the MQTT topic carries
	require.NoError(t, sup.Snapshot(context.Background(), "front_door"))

	data, ok := imgs.get("front_door")
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	fc.mu.Lock()
	thumbs := append([]int(nil), fc.thumbCalls...)
	media := append([]string(nil), fc.mediaPaths...)
	fc.mu.Unlock()
	assert.Equal(t, []int{1}, thumbs)
	assert.Equal(t, []string{"/media/thumb/1"}, media)
}

func TestSnapshotUnknownCamera(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)

	err := sup.Snapshot(context.Background(), "No Such Cam")
	assert.ErrorIs(t, err, ErrUnknownCamera)
}

func TestRefreshFailureKeepsLastStatus(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(true)}
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)
	require.Len(t, store.Status().Cameras, 2)

	fc.set(func(f *fakeClient) { f.hsErr = errors.New("homescreen down") })
	err := sup.Refresh(context.Background())
	require.Error(t, err)

	awaitLifecycle(t, store, state.LifecycleError)

	// the last good status survives the outage
	st := store.Status()
	assert.True(t, st.Armed)
	assert.Len(t, st.Cameras, 2)
}

func TestCommandsAfterStop(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{hs: testHomescreen(false)}
	sup, store, _ := startSupervisor(t, fc, configuredCfg())

	awaitLifecycle(t, store, state.LifecycleConnected)
	require.NoError(t, sup.Stop(context.Background()))

	err := sup.Arm(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotRunning)
}
