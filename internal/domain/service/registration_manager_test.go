package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/internal/infrastructure/clock"
	"github.com/edgeweave/devicecore/internal/infrastructure/memstore"
	"github.com/edgeweave/devicecore/internal/infrastructure/taskrunner"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// fakeDoer stubs repository.HTTPDoer with a canned response keyed by
// substring match against the request URL, so each test only needs to
// describe the handful of endpoints it cares about.
type fakeDoer struct {
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	for substr, resp := range f.responses {
		if strings.Contains(req.URL.String()+req.URL.Path, substr) {
			return &http.Response{
				StatusCode: resp.status,
				Body:       io.NopCloser(bytes.NewBufferString(resp.body)),
			}, nil
		}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString("{}"))}, nil
}

// countingDoer counts completed requests so tests can assert how many
// actual HTTP round trips a batch of calls produced.
type countingDoer struct {
	mu    sync.Mutex
	calls int
	resp  fakeResponse
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return &http.Response{StatusCode: d.resp.status, Body: io.NopCloser(bytes.NewBufferString(d.resp.body))}, nil
}

func (d *countingDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestRegistrationManager(t *testing.T, doer repository.HTTPDoer, settings models.RegistrationSettings) (RegistrationManager, *memstore.Store, *taskrunner.Runner) {
	t.Helper()
	runner := taskrunner.New()
	t.Cleanup(runner.Stop)

	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1700000000, 0))
	queue := NewCommandQueue(runner, logger.Noop())
	components := NewComponentManager(queue, fakeClock, logger.Noop())
	auth := NewAuthManager([]byte("0123456789abcdef0123456789abcdef"), []byte("fingerprint"))

	mgr := NewRegistrationManager(doer, store, runner, fakeClock, queue, components, auth, "device-1", "model-1", settings, logger.Noop())
	return mgr, store, runner
}

func waitFor(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registration callback")
		return nil
	}
}

func TestRegistrationManager_RefreshAccessTokenSuccess(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"oauth/token": {status: 200, body: `{"access_token":"at","refresh_token":"rt2","expires_in":3600}`},
	}}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		OAuthURL:     "https://oauth.example.com/oauth/",
		ServiceURL:   "https://service.example.com/",
		RefreshToken: "rt1",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	done := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done <- err })

	require.NoError(t, waitFor(t, done))
	assert.Equal(t, models.StateConnected, mgr.State())
}

func TestRegistrationManager_RefreshAccessTokenInvalidGrant(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"oauth/token": {status: 400, body: `{"error":"invalid_grant"}`},
	}}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		OAuthURL:     "https://oauth.example.com/oauth/",
		ServiceURL:   "https://service.example.com/",
		RefreshToken: "rt1",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	done := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done <- err })

	require.Error(t, waitFor(t, done))
	assert.Equal(t, models.StateInvalidCredentials, mgr.State())
}

func TestRegistrationManager_RefreshAccessTokenNoRefreshToken(t *testing.T) {
	doer := &fakeDoer{}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{})

	done := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done <- err })

	err := <-done
	require.Error(t, err)
}

// TestRegistrationManager_RefreshAccessTokenDedupesConcurrentCallers
// asserts the singleflight guard around RefreshAccessToken: two callers
// racing a refresh against the same manager produce exactly one OAuth
// round trip, and both receive its result.
func TestRegistrationManager_RefreshAccessTokenDedupesConcurrentCallers(t *testing.T) {
	doer := &countingDoer{resp: fakeResponse{status: 200, body: `{"access_token":"at","refresh_token":"rt2","expires_in":3600}`}}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		OAuthURL:     "https://oauth.example.com/oauth/",
		ServiceURL:   "https://service.example.com/",
		RefreshToken: "rt1",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done1 <- err })
	mgr.RefreshAccessToken(context.Background(), func(err error) { done2 <- err })

	require.NoError(t, waitFor(t, done1))
	require.NoError(t, waitFor(t, done2))
	assert.Equal(t, 1, doer.count())
}

func TestRegistrationManager_DeregisterClearsSettingsAndState(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"oauth/token": {status: 200, body: `{"access_token":"at","refresh_token":"rt2","expires_in":3600}`},
	}}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		OAuthURL:     "https://oauth.example.com/oauth/",
		ServiceURL:   "https://service.example.com/",
		RefreshToken: "rt1",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	done := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done <- err })
	require.NoError(t, waitFor(t, done))
	require.Equal(t, models.StateConnected, mgr.State())

	require.NoError(t, mgr.Deregister())
	assert.Equal(t, models.StateUnconfigured, mgr.State())
}

func TestRegistrationManager_RegisterDeviceRejectsEndpointOverrideWhenDisallowed(t *testing.T) {
	doer := &fakeDoer{}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		ServiceURL:             "https://service.example.com/",
		OAuthURL:               "https://oauth.example.com/oauth/",
		AllowEndpointsOverride: false,
	})

	done := make(chan error, 1)
	mgr.RegisterDevice(context.Background(), RegistrationRequest{
		TicketID: "ticket-1",
		OAuthURL: "https://attacker.example.com/oauth/",
	}, func(err error) { done <- err })

	err := <-done
	require.Error(t, err)
}

func TestRegistrationManager_RegisterDeviceAlreadyRegistered(t *testing.T) {
	doer := &fakeDoer{}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		CloudID:      "cloud-1",
		RefreshToken: "rt1",
	})

	done := make(chan error, 1)
	mgr.RegisterDevice(context.Background(), RegistrationRequest{TicketID: "ticket-1"}, func(err error) { done <- err })

	err := <-done
	require.Error(t, err)
}

func TestRegistrationManager_OnStateChangedFires(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"oauth/token": {status: 200, body: `{"access_token":"at","refresh_token":"rt2","expires_in":3600}`},
	}}
	mgr, _, _ := newTestRegistrationManager(t, doer, models.RegistrationSettings{
		OAuthURL:     "https://oauth.example.com/oauth/",
		ServiceURL:   "https://service.example.com/",
		RefreshToken: "rt1",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	states := make(chan models.GcdState, 4)
	mgr.OnStateChanged(func(s models.GcdState) { states <- s })

	done := make(chan error, 1)
	mgr.RefreshAccessToken(context.Background(), func(err error) { done <- err })
	require.NoError(t, waitFor(t, done))

	select {
	case s := <-states:
		assert.Equal(t, models.StateConnected, s)
	case <-time.After(2 * time.Second):
		t.Fatal("state change listener was never invoked")
	}
}
