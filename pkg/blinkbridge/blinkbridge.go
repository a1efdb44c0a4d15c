// Package blinkbridge provides a public facade re-exporting core types
// for external consumers of this module.
package blinkbridge

import (
	"github.com/trymwestin/blinkbridge/internal/config"
	"github.com/trymwestin/blinkbridge/internal/core/auth"
	"github.com/trymwestin/blinkbridge/internal/core/blink"
	"github.com/trymwestin/blinkbridge/internal/core/bridge"
	"github.com/trymwestin/blinkbridge/internal/core/state"
)

// Re-export core types for external use.
type (
	// Config is the bridge's flat configuration document.
	Config = config.Config
	// Credentials holds the persisted vendor identity and session.
	Credentials = auth.Credentials
	// Client is the Blink cloud REST client.
	Client = blink.Client
	// Homescreen is the account overview payload.
	Homescreen = blink.Homescreen
	// Supervisor owns the vendor session and serializes cloud access.
	Supervisor = bridge.Supervisor
	// Lifecycle identifies the bridge's coarse connection state.
	Lifecycle = state.Lifecycle
	// Camera is the bridge's view of one vendor device.
	Camera = state.Camera
	// Status is the armed flag plus the camera list.
	Status = state.Status
	// Snapshot combines lifecycle and status.
	Snapshot = state.Snapshot
	// Event represents a state change event.
	Event = state.Event
	// EventType identifies event categories.
	EventType = state.EventType
)

// Lifecycle constants.
const (
	LifecycleStarting       = state.LifecycleStarting
	LifecycleConfigRequired = state.LifecycleConfigRequired
	LifecycleWaiting2FA     = state.LifecycleWaiting2FA
	LifecycleConnected      = state.LifecycleConnected
	LifecycleError          = state.LifecycleError
)

// Event type constants.
const (
	EventLifecycle = state.EventLifecycle
	EventStatus    = state.EventStatus
)

// Sentinel errors for errors.Is checks against client operations.
var (
	ErrTwoFactorRequired = blink.ErrTwoFactorRequired
	ErrInvalidPIN        = blink.ErrInvalidPIN
	ErrUnauthorized      = blink.ErrUnauthorized
)

// Constructors for embedding the bridge in another program.
var (
	NewFileStore  = auth.NewFileStore
	NewClient     = blink.NewClient
	NewSupervisor = bridge.NewSupervisor
	NewEventBus   = state.NewEventBus
	NewStateStore = state.NewStateStore
	LoadConfig    = config.Load
)
