package blink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/blinkbridge/internal/core/auth"
)

type memStore struct {
	creds auth.Credentials
	saves int
}

func (m *memStore) Load() (auth.Credentials, error) { return m.creds, nil }

func (m *memStore) Save(c auth.Credentials) error {
	m.creds = c
	m.saves++
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *memStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := &memStore{}
	c := NewClient(store, slog.New(slog.DiscardHandler))
	c.BaseURL = srv.URL
	return c, store
}

func loginBody(verificationRequired bool) string {
	v := "false"
	if verificationRequired {
		v = "true"
	}
	return `{
		"account": {"account_id": 1234, "client_id": 5678, "tier": "u011",
			"client_verification_required": ` + v + `},
		"auth": {"token": "tok-abc"}
	}`
}

func TestLogin(t *testing.T) {
	t.Parallel()

	var gotBody loginRequest
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v5/account/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(loginBody(false)))
	}))

	err := c.Login(context.Background(), "me@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "me@example.com", gotBody.Email)
	assert.Equal(t, "hunter2", gotBody.Password)
	assert.NotEmpty(t, gotBody.UniqueID)
	assert.True(t, gotBody.Reauth)

	assert.True(t, c.LoggedIn())
	creds := c.Credentials()
	assert.Equal(t, "tok-abc", creds.Token)
	assert.Equal(t, 1234, creds.AccountID)
	assert.Equal(t, 5678, creds.ClientID)
	assert.Equal(t, "u011", creds.Tier)
	assert.Equal(t, "rest-u011.immedia-semi.com", creds.Host)

	// session persisted, identity stable
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, gotBody.UniqueID, store.creds.UniqueID)
}

func TestLoginTwoFactorRequired(t *testing.T) {
	t.Parallel()

	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(loginBody(true)))
	}))

	err := c.Login(context.Background(), "me@example.com", "hunter2")
	require.ErrorIs(t, err, ErrTwoFactorRequired)

	// the partial session must survive: pin verify needs its token
	assert.Equal(t, "tok-abc", store.creds.Token)
	assert.True(t, c.LoggedIn())
}

func TestLoginUnauthorized(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid credentials"}`, http.StatusUnauthorized)
	}))

	err := c.Login(context.Background(), "me@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.LoggedIn())
}

func TestVerifyPIN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"accepted", `{"valid": true, "message": "success"}`, nil},
		{"rejected", `{"valid": false, "message": "pin mismatch"}`, ErrInvalidPIN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/v4/account/1234/client/5678/pin/verify", r.URL.Path)
				require.Equal(t, "tok-abc", r.Header.Get("TOKEN_AUTH"))

				var body pinVerifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				require.Equal(t, "123456", body.PIN)

				w.Write([]byte(tt.reply))
			}))
			c.creds = auth.Credentials{Token: "tok-abc", AccountID: 1234, ClientID: 5678}

			err := c.VerifyPIN(context.Background(), "123456")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyPINNotLoggedIn(t *testing.T) {
	t.Parallel()

	c := NewClient(&memStore{}, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, c.VerifyPIN(context.Background(), "123456"), ErrNotLoggedIn)
}

const homescreenBody = `{
	"networks": [
		{"id": 10, "name": "Home", "armed": true},
		{"id": 11, "name": "Garage", "armed": false}
	],
	"sync_modules": [
		{"id": 100, "network_id": 10, "name": "sm1", "serial": "SM001", "status": "online"}
	],
	"cameras": [
		{"id": 1, "network_id": 10, "name": "Front Door", "serial": "CAM001",
		 "status": "done", "battery": "ok", "thumbnail": "/media/thumb/cam1",
		 "signals": {"wifi": 5, "temp": 72, "battery": 3}}
	],
	"owls": [
		{"id": 2, "network_id": 10, "name": "Kitchen Mini", "serial": "OWL001",
		 "status": "online", "thumbnail": "/media/thumb/owl1.jpg"}
	],
	"doorbells": [
		{"id": 3, "network_id": 11, "name": "Porch", "serial": "DB001",
		 "status": "offline", "battery": "low", "thumbnail": "/media/thumb/db1"}
	]
}`

func TestHomescreen(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/accounts/1234/homescreen", r.URL.Path)
		require.Equal(t, "tok-abc", r.Header.Get("TOKEN_AUTH"))
		w.Write([]byte(homescreenBody))
	}))
	c.creds = auth.Credentials{Token: "tok-abc", AccountID: 1234}

	hs, err := c.Homescreen(context.Background())
	require.NoError(t, err)

	assert.True(t, hs.Armed())

	cams := hs.AllCameras()
	require.Len(t, cams, 3)
	assert.Equal(t, KindCamera, cams[0].Kind)
	assert.Equal(t, KindOwl, cams[1].Kind)
	assert.Equal(t, KindDoorbell, cams[2].Kind)

	assert.True(t, cams[0].Online())
	assert.True(t, cams[1].Online())
	assert.False(t, cams[2].Online())

	temp, ok := cams[0].Temperature()
	require.True(t, ok)
	assert.Equal(t, 72, temp)

	_, ok = cams[1].Temperature()
	assert.False(t, ok, "minis report no temperature")
}

func TestHomescreenUnauthorized(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	c.creds = auth.Credentials{Token: "stale", AccountID: 1234}

	_, err := c.Homescreen(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSetArmed(t *testing.T) {
	t.Parallel()

	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		w.Write([]byte(`{"id": 777, "network_id": 10}`))
	}))
	c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

	cmd, err := c.SetArmed(context.Background(), 10, true)
	require.NoError(t, err)
	assert.Equal(t, 777, cmd.ID)
	assert.Equal(t, "/api/v1/accounts/1234/networks/10/state/arm", gotPath)

	_, err = c.SetArmed(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/accounts/1234/networks/10/state/disarm", gotPath)
}

func TestRequestThumbnailPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want string
	}{
		{KindCamera, "/network/10/camera/1/thumbnail"},
		{KindOwl, "/api/v1/accounts/1234/networks/10/owls/1/thumbnail"},
		{KindDoorbell, "/api/v1/accounts/1234/networks/10/doorbells/1/thumbnail"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var gotPath string
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.Write([]byte(`{"id": 42, "network_id": 10}`))
			}))
			c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

			cmd, err := c.RequestThumbnail(context.Background(), Camera{ID: 1, NetworkID: 10, Kind: tt.kind})
			require.NoError(t, err)
			assert.Equal(t, 42, cmd.ID)
			assert.Equal(t, tt.want, gotPath)
		})
	}
}

func TestWaitCommand(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/network/10/command/42", r.URL.Path)
			w.Write([]byte(`{"id": 42, "complete": true, "status": 0}`))
		}))
		c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

		assert.NoError(t, c.WaitCommand(context.Background(), 10, 42))
	})

	t.Run("reports failure", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id": 42, "complete": true, "status": 702, "status_msg": "camera busy"}`))
		}))
		c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

		err := c.WaitCommand(context.Background(), 10, 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "camera busy")
	})

	t.Run("honors context deadline", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id": 42, "complete": false}`))
		}))
		c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := c.WaitCommand(ctx, 10, 42)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDownloadMedia(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// extension appended when the homescreen path omits it
		require.Equal(t, "/media/thumb/cam1.jpg", r.URL.Path)
		require.Equal(t, "tok", r.Header.Get("TOKEN_AUTH"))
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	c.creds = auth.Credentials{Token: "tok", AccountID: 1234}

	data, err := c.DownloadMedia(context.Background(), "/media/thumb/cam1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
}

func TestNotLoggedInGuards(t *testing.T) {
	t.Parallel()

	c := NewClient(&memStore{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, err := c.Homescreen(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = c.SetArmed(ctx, 1, true)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = c.RequestThumbnail(ctx, Camera{})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	err = c.WaitCommand(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = c.DownloadMedia(ctx, "/media/x")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestRestoreSession(t *testing.T) {
	t.Parallel()

	store := &memStore{creds: auth.Credentials{Token: "tok", AccountID: 9}}
	c := NewClient(store, slog.New(slog.DiscardHandler))

	require.NoError(t, c.RestoreSession())
	assert.True(t, c.LoggedIn())
	assert.Equal(t, 9, c.Credentials().AccountID)
}
