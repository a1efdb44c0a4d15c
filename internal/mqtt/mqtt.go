// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher
// (no-op) and a full HAPublisher that connects to an MQTT broker,
// publishes HA auto-discovery configs, relays arm and snapshot commands
// to the bridge, and forwards status updates from the EventBus.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/blinkbridge/internal/core/state"
)

// ---------------------------------------------------------------------------
// Topics and payloads
// ---------------------------------------------------------------------------

// The topic layout is fixed; it predates this daemon and existing Home
// Assistant setups depend on it.
const (
	topicPrefix       = "blink"
	commandTopic      = topicPrefix + "/command"
	stateTopic        = topicPrefix + "/state"
	availabilityTopic = topicPrefix + "/status"
	snapTopicFilter   = topicPrefix + "/camera/+/snap"

	birthTopic = "homeassistant/status"

	alarmDiscoveryTopic = "homeassistant/alarm_control_panel/blink_hub/config"
)

// Command payloads accepted on the command topic.
const (
	PayloadArm     = "ARM"
	PayloadArmAway = "ARM_AWAY"
	PayloadDisarm  = "DISARM"

	StateArmedAway = "armed_away"
	StateDisarmed  = "disarmed"
)

func sensorTempTopic(slug string) string {
	return fmt.Sprintf("%s/sensor/%s/temp", topicPrefix, slug)
}

func cameraSnapTopic(slug string) string {
	return fmt.Sprintf("%s/camera/%s/snap", topicPrefix, slug)
}

func armedPayload(armed bool) string {
	if armed {
		return StateArmedAway
	}
	return StateDisarmed
}

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends bridge state to an MQTT broker.
type Publisher interface {
	// Start connects and begins publishing events from the event bus.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when no broker is configured)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MQTT publisher configuration. An empty BrokerURL selects
// the stub.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	SWVersion string
}

// ---------------------------------------------------------------------------
// BridgeCommander – abstraction over bridge control methods
// ---------------------------------------------------------------------------

// BridgeCommander relays commands to the bridge without importing the
// bridge package directly.
type BridgeCommander interface {
	Arm(ctx context.Context, armed bool) error
	Snapshot(ctx context.Context, name string) error
}

// ---------------------------------------------------------------------------
// Discovery payloads
// ---------------------------------------------------------------------------

// Device is the HA device registry block shared by every entity this
// bridge announces.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// AlarmPanelConfig announces the alarm_control_panel entity.
type AlarmPanelConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	CommandTopic      string `json:"command_topic"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	PayloadDisarm     string `json:"payload_disarm"`
	PayloadArmAway    string `json:"payload_arm_away"`
	Device            Device `json:"device"`
}

// SensorConfig announces one per-camera temperature sensor.
type SensorConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
	DeviceClass       string `json:"device_class"`
	StateClass        string `json:"state_class"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            Device `json:"device"`
}

// ButtonConfig announces one per-camera snapshot button.
type ButtonConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	CommandTopic      string `json:"command_topic"`
	PayloadPress      string `json:"payload_press"`
	Icon              string `json:"icon"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            Device `json:"device"`
}

func hubDevice(swVersion string) Device {
	return Device{
		Identifiers:  []string{"blink_hub"},
		Name:         "Blink Hub",
		Manufacturer: "Blink",
		SWVersion:    swVersion,
	}
}

func alarmPanelConfig(swVersion string) AlarmPanelConfig {
	return AlarmPanelConfig{
		Name:              "Blink System",
		UniqueID:          "blink_hub_main",
		CommandTopic:      commandTopic,
		StateTopic:        stateTopic,
		AvailabilityTopic: availabilityTopic,
		PayloadDisarm:     PayloadDisarm,
		PayloadArmAway:    PayloadArmAway,
		Device:            hubDevice(swVersion),
	}
}

func cameraSensorConfig(cam state.Camera, swVersion string) (topic string, cfg SensorConfig) {
	slug := cam.Slug()
	topic = fmt.Sprintf("homeassistant/sensor/blink_%s_temp/config", slug)
	cfg = SensorConfig{
		Name:              fmt.Sprintf("%s Temperature", cam.Name),
		UniqueID:          fmt.Sprintf("blink_%s_temp", slug),
		StateTopic:        sensorTempTopic(slug),
		UnitOfMeasurement: "°F",
		DeviceClass:       "temperature",
		StateClass:        "measurement",
		AvailabilityTopic: availabilityTopic,
		Device:            hubDevice(swVersion),
	}
	return topic, cfg
}

func cameraButtonConfig(cam state.Camera, swVersion string) (topic string, cfg ButtonConfig) {
	slug := cam.Slug()
	topic = fmt.Sprintf("homeassistant/button/blink_%s_snap/config", slug)
	cfg = ButtonConfig{
		Name:              fmt.Sprintf("%s Snapshot", cam.Name),
		UniqueID:          fmt.Sprintf("blink_%s_snap", slug),
		CommandTopic:      cameraSnapTopic(slug),
		PayloadPress:      "SNAP",
		Icon:              "mdi:camera",
		AvailabilityTopic: availabilityTopic,
		Device:            hubDevice(swVersion),
	}
	return topic, cfg
}

// ---------------------------------------------------------------------------
// HAPublisher – full Home Assistant MQTT implementation
// ---------------------------------------------------------------------------

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes
// to the command topics and relays them to the bridge, and forwards
// status updates from the EventBus.
type HAPublisher struct {
	cfg       Config
	commander BridgeCommander
	store     state.Reader
	bus       *state.EventBus
	log       *slog.Logger

	client pahomqtt.Client

	mu        sync.Mutex
	announced map[string]bool // camera slugs with discovery published

	unsub func() // EventBus unsubscribe
	stopC chan struct{}
	wg    sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg Config, commander BridgeCommander, store state.Reader, bus *state.EventBus, log *slog.Logger) *HAPublisher {
	return &HAPublisher{
		cfg:       cfg,
		commander: commander,
		store:     store,
		bus:       bus,
		log:       log,
		announced: make(map[string]bool),
		stopC:     make(chan struct{}),
	}
}

// Start connects to the MQTT broker, publishes discovery configs,
// subscribes to command topics, publishes the current state, and starts
// listening on the EventBus for updates.
func (p *HAPublisher) Start(_ context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID("blinkbridge").
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availabilityTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	// With connect retry enabled the token only completes on success,
	// so bound the wait and let the retry loop finish the job.
	token := p.client.Connect()
	if token.WaitTimeout(10 * time.Second) {
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	} else {
		p.log.Warn("MQTT broker not reachable yet, retrying in background", "broker", p.cfg.BrokerURL)
	}

	evtCh, unsub := p.bus.Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.cfg.BrokerURL)
	return nil
}

// Stop gracefully disconnects from the MQTT broker and stops the event
// loop.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.log.Info("MQTT publisher stopping")

	close(p.stopC)

	if p.unsub != nil {
		p.unsub()
	}

	p.wg.Wait()

	if p.client != nil {
		if p.client.IsConnected() {
			// Tell HA we are going away before the LWT would.
			p.publish(availabilityTopic, "offline", true)
		}
		p.client.Disconnect(1000)
	}
	p.log.Info("MQTT publisher stopped")
	return nil
}

// onConnect runs on every (re)connect.
func (p *HAPublisher) onConnect() {
	p.publish(availabilityTopic, "online", true)
	p.publishDiscovery()
	p.subscribeCommands()

	// HA birth topic: re-announce whenever Home Assistant restarts.
	p.client.Subscribe(birthTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.forgetAnnounced()
			p.publishDiscovery()
			p.publishStatus(p.store.Status())
		}
	})

	p.publishStatus(p.store.Status())
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

func (p *HAPublisher) publishDiscovery() {
	p.publishJSON(alarmDiscoveryTopic, alarmPanelConfig(p.cfg.SWVersion))

	for _, cam := range p.store.Status().Cameras {
		p.announceCamera(cam)
	}
}

// announceCamera publishes per-camera discovery once per slug.
func (p *HAPublisher) announceCamera(cam state.Camera) {
	slug := cam.Slug()

	p.mu.Lock()
	if p.announced[slug] {
		p.mu.Unlock()
		return
	}
	p.announced[slug] = true
	p.mu.Unlock()

	if cam.Temperature != nil {
		topic, cfg := cameraSensorConfig(cam, p.cfg.SWVersion)
		p.publishJSON(topic, cfg)
	}
	topic, cfg := cameraButtonConfig(cam, p.cfg.SWVersion)
	p.publishJSON(topic, cfg)

	p.log.Info("camera announced to Home Assistant", "camera", cam.Name, "slug", slug)
}

func (p *HAPublisher) forgetAnnounced() {
	p.mu.Lock()
	p.announced = make(map[string]bool)
	p.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Command subscriptions
// ---------------------------------------------------------------------------

func (p *HAPublisher) subscribeCommands() {
	subs := map[string]pahomqtt.MessageHandler{
		commandTopic:    p.handleCommand,
		snapTopicFilter: p.handleSnap,
	}

	for t, h := range subs {
		token := p.client.Subscribe(t, 1, h)
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Error("failed to subscribe to command topic", "topic", t, "error", err)
		}
	}
}

func (p *HAPublisher) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))

	var armed bool
	switch payload {
	case PayloadArm, PayloadArmAway:
		armed = true
	case PayloadDisarm:
		armed = false
	default:
		p.log.Warn("unknown command payload", "payload", payload)
		return
	}

	p.log.Info("MQTT command: arm", "armed", armed)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.commander.Arm(ctx, armed); err != nil {
		p.log.Error("failed to change arm state", "armed", armed, "error", err)
	}
}

func (p *HAPublisher) handleSnap(_ pahomqtt.Client, msg pahomqtt.Message) {
	name, ok := cameraFromSnapTopic(msg.Topic())
	if !ok {
		p.log.Warn("malformed snapshot topic", "topic", msg.Topic())
		return
	}

	p.log.Info("MQTT command: snapshot", "camera", name)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := p.commander.Snapshot(ctx, name); err != nil {
		p.log.Error("failed to take snapshot", "camera", name, "error", err)
	}
}

// cameraFromSnapTopic extracts the camera segment of blink/camera/+/snap.
func cameraFromSnapTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != topicPrefix || parts[1] != "camera" || parts[3] != "snap" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// ---------------------------------------------------------------------------
// State publishing
// ---------------------------------------------------------------------------

func (p *HAPublisher) publishStatus(st state.Status) {
	p.publish(stateTopic, armedPayload(st.Armed), true)

	for _, cam := range st.Cameras {
		p.announceCamera(cam)
		if cam.Temperature != nil {
			p.publish(sensorTempTopic(cam.Slug()), strconv.Itoa(*cam.Temperature), true)
		}
	}
}

// ---------------------------------------------------------------------------
// EventBus loop
// ---------------------------------------------------------------------------

func (p *HAPublisher) eventLoop(ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *HAPublisher) handleEvent(evt state.Event) {
	switch evt.Type {
	case state.EventStatus:
		st, ok := evt.Data.(state.Status)
		if !ok {
			p.log.Warn("unexpected data type for status event")
			return
		}
		p.publishStatus(st)

	case state.EventLifecycle:
		// availability tracks the process, not the vendor session
		p.log.Debug("lifecycle event", "lifecycle", evt.Data)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (p *HAPublisher) publishJSON(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal discovery config", "topic", topic, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

// publish is a convenience wrapper that publishes a message and logs
// errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Service – restartable publisher holder
// ---------------------------------------------------------------------------

// Service owns the active publisher and rebuilds it when the broker
// configuration changes (the config form saves while running).
type Service struct {
	commander BridgeCommander
	store     state.Reader
	bus       *state.EventBus
	log       *slog.Logger

	mu  sync.Mutex
	pub Publisher
}

// NewService creates a service that builds publishers on demand.
func NewService(commander BridgeCommander, store state.Reader, bus *state.EventBus, log *slog.Logger) *Service {
	return &Service{
		commander: commander,
		store:     store,
		bus:       bus,
		log:       log,
	}
}

// newPublisher picks the stub when no broker is configured.
func (s *Service) newPublisher(cfg Config) Publisher {
	if cfg.BrokerURL == "" {
		return NewStubPublisher(s.log)
	}
	return NewHAPublisher(cfg, s.commander, s.store, s.bus, s.log)
}

// Start builds and starts a publisher for cfg.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil {
		return fmt.Errorf("mqtt: service already started")
	}

	pub := s.newPublisher(cfg)
	if err := pub.Start(ctx); err != nil {
		return err
	}
	s.pub = pub
	return nil
}

// Restart tears down the running publisher and starts a fresh one with
// the new configuration.
func (s *Service) Restart(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil {
		if err := s.pub.Stop(ctx); err != nil {
			s.log.Warn("stopping previous MQTT publisher", "error", err)
		}
		s.pub = nil
	}

	pub := s.newPublisher(cfg)
	if err := pub.Start(ctx); err != nil {
		return err
	}
	s.pub = pub
	return nil
}

// Stop halts the running publisher, if any.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub == nil {
		return nil
	}
	err := s.pub.Stop(ctx)
	s.pub = nil
	return err
}
