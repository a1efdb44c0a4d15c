// Package blink is a thin client for the slice of the Blink cloud API
// this bridge needs: login with two-factor relay, the homescreen device
// listing, arm/disarm, and thumbnail capture. It is not a general API
// binding.
package blink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/trymwestin/blinkbridge/internal/core/auth"
)

// DefaultTier is the API tier used before the first login reveals the
// account's real one.
const DefaultTier = "prod"

// Sentinel errors the supervisor branches on.
var (
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	ErrInvalidPIN        = errors.New("invalid verification pin")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotLoggedIn       = errors.New("not logged in")
)

// Client talks to the Blink cloud API. It is not safe for concurrent
// use; the supervisor goroutine owns it.
type Client struct {
	// BaseURL overrides the tier-derived host when set.
	BaseURL string

	http  *http.Client
	store auth.Store
	creds auth.Credentials
	log   *slog.Logger
}

// NewClient creates a Blink API client persisting its session through
// store.
func NewClient(store auth.Store, log *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.Logger = nil
	rc.HTTPClient.Timeout = 30 * time.Second

	return &Client{
		http:  rc.StandardClient(),
		store: store,
		log:   log,
	}
}

// RestoreSession loads persisted credentials so a previously verified
// session can resume without a fresh login (and without re-triggering
// two-factor).
func (c *Client) RestoreSession() error {
	creds, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("blink: load credentials: %w", err)
	}
	c.creds = creds
	return nil
}

// LoggedIn reports whether the client holds a session token.
func (c *Client) LoggedIn() bool {
	return c.creds.LoggedIn()
}

// Credentials returns a copy of the current session state.
func (c *Client) Credentials() auth.Credentials {
	return c.creds
}

// Login authenticates with the vendor. On success the session is
// persisted. Returns ErrTwoFactorRequired when the vendor wants this
// client verified with an emailed or texted PIN; the partial session is
// persisted in that case too, since the PIN verify call needs its token.
func (c *Client) Login(ctx context.Context, email, password string) error {
	creds, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("blink: load credentials: %w", err)
	}
	creds.Bootstrap(email)
	c.creds = creds

	body := loginRequest{
		Email:            email,
		Password:         password,
		UniqueID:         c.creds.UniqueID,
		DeviceIdentifier: c.creds.DeviceID,
		ClientName:       c.creds.DeviceID,
		Reauth:           true,
	}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v5/account/login", body, &resp, false); err != nil {
		return err
	}

	c.creds.Token = resp.Auth.Token
	c.creds.AccountID = resp.Account.AccountID
	c.creds.ClientID = resp.Account.ClientID
	if resp.Account.Tier != "" {
		c.creds.Tier = resp.Account.Tier
	}
	c.creds.Host = fmt.Sprintf("rest-%s.immedia-semi.com", c.tier())

	if err := c.store.Save(c.creds); err != nil {
		return fmt.Errorf("blink: save credentials: %w", err)
	}

	c.log.Info("logged in to blink cloud",
		"account_id", c.creds.AccountID,
		"tier", c.tier(),
		"verification_required", resp.Account.ClientVerificationRequired,
	)

	if resp.Account.ClientVerificationRequired {
		return ErrTwoFactorRequired
	}
	return nil
}

// VerifyPIN submits the two-factor PIN for this client.
func (c *Client) VerifyPIN(ctx context.Context, pin string) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	p := fmt.Sprintf("/api/v4/account/%d/client/%d/pin/verify", c.creds.AccountID, c.creds.ClientID)
	var resp pinVerifyResponse
	if err := c.do(ctx, http.MethodPost, p, pinVerifyRequest{PIN: pin}, &resp, true); err != nil {
		return err
	}
	if !resp.Valid {
		if resp.Message != "" {
			return fmt.Errorf("%w: %s", ErrInvalidPIN, resp.Message)
		}
		return ErrInvalidPIN
	}
	c.log.Info("two-factor pin accepted", "client_id", c.creds.ClientID)
	return nil
}

// Homescreen fetches the device listing for the account.
func (c *Client) Homescreen(ctx context.Context) (*Homescreen, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var hs Homescreen
	p := fmt.Sprintf("/api/v3/accounts/%d/homescreen", c.creds.AccountID)
	if err := c.do(ctx, http.MethodGet, p, nil, &hs, true); err != nil {
		return nil, err
	}
	return &hs, nil
}

// SetArmed arms or disarms one network. The returned command completes
// asynchronously; pass it to WaitCommand.
func (c *Client) SetArmed(ctx context.Context, networkID int, armed bool) (*Command, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	action := "disarm"
	if armed {
		action = "arm"
	}
	p := fmt.Sprintf("/api/v1/accounts/%d/networks/%d/state/%s", c.creds.AccountID, networkID, action)
	var cmd Command
	if err := c.do(ctx, http.MethodPost, p, nil, &cmd, true); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// RequestThumbnail asks the camera to capture a fresh still. Classic
// cameras use the legacy network path; minis and doorbells use the
// account-scoped one.
func (c *Client) RequestThumbnail(ctx context.Context, cam Camera) (*Command, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var p string
	switch cam.Kind {
	case KindOwl:
		p = fmt.Sprintf("/api/v1/accounts/%d/networks/%d/owls/%d/thumbnail", c.creds.AccountID, cam.NetworkID, cam.ID)
	case KindDoorbell:
		p = fmt.Sprintf("/api/v1/accounts/%d/networks/%d/doorbells/%d/thumbnail", c.creds.AccountID, cam.NetworkID, cam.ID)
	default:
		p = fmt.Sprintf("/network/%d/camera/%d/thumbnail", cam.NetworkID, cam.ID)
	}
	var cmd Command
	if err := c.do(ctx, http.MethodPost, p, nil, &cmd, true); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// WaitCommand polls the vendor until the command completes, the command
// reports failure, or ctx expires.
func (c *Client) WaitCommand(ctx context.Context, networkID, commandID int) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	p := fmt.Sprintf("/network/%d/command/%d", networkID, commandID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var cmd Command
		if err := c.do(ctx, http.MethodGet, p, nil, &cmd, true); err != nil {
			return err
		}
		if cmd.Complete {
			if cmd.Status != 0 {
				msg := cmd.StatusMsg
				if msg == "" {
					msg = "unknown error"
				}
				return fmt.Errorf("blink: command %d failed (status %d): %s", commandID, cmd.Status, msg)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadMedia fetches a media asset (thumbnail) by the path the
// homescreen payload advertises. Older firmware omits the extension.
func (c *Client) DownloadMedia(ctx context.Context, mediaPath string) ([]byte, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if !strings.Contains(path.Base(mediaPath), ".") {
		mediaPath += ".jpg"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host()+mediaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("blink: media request: %w", err)
	}
	req.Header.Set("TOKEN_AUTH", c.creds.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blink: GET %s: %w", mediaPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("blink: GET %s: %w", mediaPath, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blink: GET %s: HTTP %d", mediaPath, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blink: read media %s: %w", mediaPath, err)
	}
	return data, nil
}

func (c *Client) tier() string {
	if c.creds.Tier != "" {
		return c.creds.Tier
	}
	return DefaultTier
}

func (c *Client) host() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("https://rest-%s.immedia-semi.com", c.tier())
}

// do performs one JSON API call. A 401 from any endpoint surfaces
// ErrUnauthorized so the supervisor can fall back to a fresh login.
func (c *Client) do(ctx context.Context, method, p string, body, out any, authed bool) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("blink: marshal %s %s: %w", method, p, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host()+p, rd)
	if err != nil {
		return fmt.Errorf("blink: %s %s: %w", method, p, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("TOKEN_AUTH", c.creds.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("blink: %s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("blink: %s %s: %w", method, p, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("blink: %s %s: HTTP %d: %s", method, p, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("blink: decode %s %s: %w", method, p, err)
		}
	}
	return nil
}
