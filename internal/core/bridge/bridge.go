// Package bridge runs the supervisor goroutine that owns the vendor
// session: login, two-factor hand-off, periodic refresh, and the
// arm/snapshot commands relayed from MQTT and the web UI.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trymwestin/blinkbridge/internal/config"
	"github.com/trymwestin/blinkbridge/internal/core/blink"
	"github.com/trymwestin/blinkbridge/internal/core/state"
)

// Errors callers branch on.
var (
	ErrNotRunning             = errors.New("bridge: supervisor not running")
	ErrNotConnected           = errors.New("bridge: not connected to vendor cloud")
	ErrUnknownCamera          = errors.New("bridge: unknown camera")
	ErrNotWaitingVerification = errors.New("bridge: not waiting for two-factor verification")
)

// VendorClient is the slice of the cloud API the supervisor drives.
// *blink.Client satisfies it.
type VendorClient interface {
	RestoreSession() error
	LoggedIn() bool
	Login(ctx context.Context, email, password string) error
	VerifyPIN(ctx context.Context, pin string) error
	Homescreen(ctx context.Context) (*blink.Homescreen, error)
	SetArmed(ctx context.Context, networkID int, armed bool) (*blink.Command, error)
	RequestThumbnail(ctx context.Context, cam blink.Camera) (*blink.Command, error)
	WaitCommand(ctx context.Context, networkID, commandID int) error
	DownloadMedia(ctx context.Context, mediaPath string) ([]byte, error)
}

// ImageWriter persists downloaded snapshots. *imagestore.Store satisfies it.
type ImageWriter interface {
	Write(slug string, data []byte) (string, error)
}

// Timings control the lifecycle cadence. Zero fields take the defaults.
// Only tests should need to shrink these.
type Timings struct {
	ErrorRetry     time.Duration
	TwoFactorPoll  time.Duration
	ConfigRecheck  time.Duration
	RequestTimeout time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.ErrorRetry == 0 {
		t.ErrorRetry = 30 * time.Second
	}
	if t.TwoFactorPoll == 0 {
		t.TwoFactorPoll = 5 * time.Second
	}
	if t.ConfigRecheck == 0 {
		t.ConfigRecheck = 2 * time.Second
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = 60 * time.Second
	}
	return t
}

type cmdKind int

const (
	cmdArm cmdKind = iota
	cmdSnapshot
	cmdPIN
	cmdRefresh
	cmdApplyConfig
)

type command struct {
	kind  cmdKind
	armed bool
	name  string
	pin   string
	cfg   *config.Config
	reply chan error
}

// Supervisor owns the vendor client. All client calls happen on its
// goroutine; other goroutines talk to it through the command channel.
type Supervisor struct {
	// Timings may be adjusted before Start.
	Timings Timings

	client VendorClient
	images ImageWriter
	store  *state.StateStore
	log    *slog.Logger

	cfgMu sync.Mutex
	cfg   config.Config

	cmds    chan command
	wakeCh  chan struct{}
	cancel  context.CancelFunc
	stopped chan struct{}
	running atomic.Bool

	// device caches, touched only by the run goroutine
	networks []blink.Network
	cameras  []blink.Camera
}

// NewSupervisor creates a supervisor for the given vendor client.
func NewSupervisor(
	client VendorClient,
	images ImageWriter,
	store *state.StateStore,
	cfg config.Config,
	log *slog.Logger,
) *Supervisor {
	return &Supervisor{
		Timings: Timings{}.withDefaults(),
		client:  client,
		images:  images,
		store:   store,
		cfg:     cfg,
		log:     log,
		cmds:    make(chan command),
		wakeCh:  make(chan struct{}, 1),
	}
}

// Start launches the supervisor goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("bridge: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running.Store(true)

	go s.run(ctx)
	return nil
}

// Stop halts the supervisor and waits for its goroutine to exit.
func (s *Supervisor) Stop(_ context.Context) error {
	if !s.running.Load() {
		return nil
	}
	s.cancel()
	<-s.stopped
	s.running.Store(false)
	return nil
}

// Wake skips whatever delay the loop is sleeping through.
func (s *Supervisor) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Config returns the supervisor's current configuration.
func (s *Supervisor) Config() config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// --- Command surface for MQTT and the HTTP API ---

// Arm arms or disarms every network on the account.
func (s *Supervisor) Arm(ctx context.Context, armed bool) error {
	return s.send(ctx, command{kind: cmdArm, armed: armed})
}

// Snapshot captures a fresh still from the named camera and stores it.
func (s *Supervisor) Snapshot(ctx context.Context, name string) error {
	return s.send(ctx, command{kind: cmdSnapshot, name: name})
}

// SubmitPIN relays a two-factor PIN from the web UI to the vendor.
func (s *Supervisor) SubmitPIN(ctx context.Context, pin string) error {
	return s.send(ctx, command{kind: cmdPIN, pin: pin})
}

// Refresh forces an immediate status refresh.
func (s *Supervisor) Refresh(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdRefresh})
}

// ApplyConfig swaps in a new configuration. An error or config-required
// lifecycle resets to starting so the new settings get tried right away.
func (s *Supervisor) ApplyConfig(ctx context.Context, cfg config.Config) error {
	return s.send(ctx, command{kind: cmdApplyConfig, cfg: &cfg})
}

func (s *Supervisor) send(ctx context.Context, cmd command) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Run loop ---

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.stopped)

	if err := s.client.RestoreSession(); err != nil {
		s.log.Warn("could not restore saved session", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := s.step(ctx)

		// Interruptible sleep — wake signals and commands cut it short
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case cmd := <-s.cmds:
			timer.Stop()
			cmd.reply <- s.handle(ctx, cmd)
		case <-timer.C:
		}
	}
}

// step performs one lifecycle evaluation and returns how long to sleep
// before the next one.
func (s *Supervisor) step(ctx context.Context) time.Duration {
	cfg := s.Config()

	switch s.store.Lifecycle() {
	case state.LifecycleStarting:
		return s.stepStarting(ctx, cfg)

	case state.LifecycleConfigRequired:
		if cfg.BlinkConfigured() {
			s.store.SetLifecycle(state.LifecycleStarting)
			return 0
		}
		return s.Timings.ConfigRecheck

	case state.LifecycleWaiting2FA:
		return s.Timings.TwoFactorPoll

	case state.LifecycleConnected:
		if err := s.refresh(ctx); err != nil {
			return s.fail("refresh", err)
		}
		return cfg.PollDuration()

	case state.LifecycleError:
		s.store.SetLifecycle(state.LifecycleStarting)
		return 0

	default:
		s.store.SetLifecycle(state.LifecycleStarting)
		return 0
	}
}

func (s *Supervisor) stepStarting(ctx context.Context, cfg config.Config) time.Duration {
	if !cfg.BlinkConfigured() {
		s.log.Info("vendor credentials missing, waiting for configuration")
		s.store.SetLifecycle(state.LifecycleConfigRequired)
		return s.Timings.ConfigRecheck
	}

	// A restored session skips login entirely until the token goes stale.
	if s.client.LoggedIn() {
		err := s.refresh(ctx)
		if err == nil {
			s.connected()
			return cfg.PollDuration()
		}
		if !errors.Is(err, blink.ErrUnauthorized) {
			return s.fail("refresh", err)
		}
		s.log.Info("saved session rejected, logging in again")
	}

	err := s.client.Login(ctx, cfg.BlinkEmail, cfg.BlinkPassword)
	switch {
	case errors.Is(err, blink.ErrTwoFactorRequired):
		s.log.Info("two-factor verification required, waiting for pin")
		s.store.SetLifecycle(state.LifecycleWaiting2FA)
		return s.Timings.TwoFactorPoll
	case err != nil:
		return s.fail("login", err)
	}

	if err := s.refresh(ctx); err != nil {
		return s.fail("refresh", err)
	}
	s.connected()
	return cfg.PollDuration()
}

func (s *Supervisor) connected() {
	s.store.SetLastError(nil)
	s.store.SetLifecycle(state.LifecycleConnected)
}

// fail records the error and drops the lifecycle to error state.
func (s *Supervisor) fail(op string, err error) time.Duration {
	s.log.Error("vendor "+op+" failed", "error", err, "retry_in", s.Timings.ErrorRetry)
	s.store.SetLastError(err)
	s.store.SetLifecycle(state.LifecycleError)
	return s.Timings.ErrorRetry
}

func (s *Supervisor) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdArm:
		return s.armAll(ctx, cmd.armed)
	case cmdSnapshot:
		return s.snapshot(ctx, cmd.name)
	case cmdPIN:
		return s.verifyPIN(ctx, cmd.pin)
	case cmdRefresh:
		if s.store.Lifecycle() != state.LifecycleConnected {
			return ErrNotConnected
		}
		if err := s.refresh(ctx); err != nil {
			s.fail("refresh", err)
			return err
		}
		return nil
	case cmdApplyConfig:
		s.applyConfig(*cmd.cfg)
		return nil
	default:
		return fmt.Errorf("bridge: unknown command %d", cmd.kind)
	}
}

// refresh pulls the homescreen and rebuilds the derived status. On
// failure the previous status stays in place.
func (s *Supervisor) refresh(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.Timings.RequestTimeout)
	defer cancel()

	hs, err := s.client.Homescreen(rctx)
	if err != nil {
		return err
	}

	s.networks = hs.Networks
	s.cameras = hs.AllCameras()
	s.store.SetStatus(statusFromHomescreen(hs))

	s.log.Debug("status refreshed",
		"armed", hs.Armed(),
		"networks", len(hs.Networks),
		"cameras", len(s.cameras),
	)
	return nil
}

func (s *Supervisor) armAll(ctx context.Context, armed bool) error {
	if s.store.Lifecycle() != state.LifecycleConnected {
		return ErrNotConnected
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timings.RequestTimeout)
	defer cancel()

	for _, n := range s.networks {
		cmd, err := s.client.SetArmed(cctx, n.ID, armed)
		if err != nil {
			return fmt.Errorf("bridge: arm network %d: %w", n.ID, err)
		}
		if cmd.ID != 0 {
			if err := s.client.WaitCommand(cctx, n.ID, cmd.ID); err != nil {
				return fmt.Errorf("bridge: arm network %d: %w", n.ID, err)
			}
		}
	}

	s.log.Info("arm state changed", "armed", armed, "networks", len(s.networks))
	return s.refresh(ctx)
}

func (s *Supervisor) snapshot(ctx context.Context, name string) error {
	if s.store.Lifecycle() != state.LifecycleConnected {
		return ErrNotConnected
	}

	cam, ok := s.findCamera(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timings.RequestTimeout)
	defer cancel()

	cmd, err := s.client.RequestThumbnail(cctx, cam)
	if err != nil {
		return fmt.Errorf("bridge: snapshot %s: %w", cam.Name, err)
	}
	if cmd.ID != 0 {
		if err := s.client.WaitCommand(cctx, cam.NetworkID, cmd.ID); err != nil {
			return fmt.Errorf("bridge: snapshot %s: %w", cam.Name, err)
		}
	}

	// the fresh thumbnail path only shows up on the next homescreen
	if err := s.refresh(cctx); err != nil {
		return fmt.Errorf("bridge: snapshot %s: %w", cam.Name, err)
	}

	cam, ok = s.findCamera(name)
	if !ok || cam.Thumbnail == "" {
		return fmt.Errorf("bridge: snapshot %s: no thumbnail advertised", name)
	}

	data, err := s.client.DownloadMedia(cctx, cam.Thumbnail)
	if err != nil {
		return fmt.Errorf("bridge: snapshot %s: %w", cam.Name, err)
	}

	path, err := s.images.Write(state.Slug(cam.Name), data)
	if err != nil {
		return fmt.Errorf("bridge: snapshot %s: %w", cam.Name, err)
	}

	s.log.Info("snapshot captured", "camera", cam.Name, "path", path, "bytes", len(data))
	return nil
}

func (s *Supervisor) verifyPIN(ctx context.Context, pin string) error {
	if s.store.Lifecycle() != state.LifecycleWaiting2FA {
		return ErrNotWaitingVerification
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timings.RequestTimeout)
	defer cancel()

	if err := s.client.VerifyPIN(cctx, pin); err != nil {
		s.store.SetLastError(err)
		return err
	}

	// verified: the session token is now valid, let the loop connect
	s.store.SetLastError(nil)
	s.store.SetLifecycle(state.LifecycleStarting)
	return nil
}

func (s *Supervisor) applyConfig(cfg config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.log.Info("configuration applied",
		"mqtt_broker", cfg.MQTTBroker,
		"poll_interval", cfg.PollInterval,
		"blink_configured", cfg.BlinkConfigured(),
	)

	switch s.store.Lifecycle() {
	case state.LifecycleError, state.LifecycleConfigRequired:
		s.store.SetLastError(nil)
		s.store.SetLifecycle(state.LifecycleStarting)
	}
}

// findCamera resolves a camera by exact name, falling back to slug
// comparison so topic segments match display names.
func (s *Supervisor) findCamera(name string) (blink.Camera, bool) {
	for _, cam := range s.cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	slug := state.Slug(name)
	for _, cam := range s.cameras {
		if state.Slug(cam.Name) == slug {
			return cam, true
		}
	}
	return blink.Camera{}, false
}

func statusFromHomescreen(hs *blink.Homescreen) state.Status {
	st := state.Status{
		Armed:     hs.Armed(),
		UpdatedAt: time.Now(),
	}
	for _, cam := range hs.AllCameras() {
		c := state.Camera{
			ID:        cam.ID,
			NetworkID: cam.NetworkID,
			Name:      cam.Name,
			Serial:    cam.Serial,
			Kind:      cam.Kind,
			Online:    cam.Online(),
			Battery:   cam.Battery,
			Thumbnail: cam.Thumbnail,
		}
		if temp, ok := cam.Temperature(); ok {
			t := temp
			c.Temperature = &t
		}
		st.Cameras = append(st.Cameras, c)
	}
	return st
}
