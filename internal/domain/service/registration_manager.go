package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// refreshGuard is subtracted from the OAuth server's expires_in so the
// next refresh fires comfortably before the access token actually
// expires.
const refreshGuard = 60 * time.Second

const maxRefreshBackoff = 5 * time.Minute

// registrationManager implements C7: the unconfigured/connecting/
// connected/invalid-credentials state machine, the claim-ticket
// registration dance, OAuth token refresh and command publishing.
type registrationManager struct {
	http       repository.HTTPDoer
	store      repository.ConfigStore
	runner     repository.TaskRunner
	clock      repository.Clock
	queue      CommandQueue
	components ComponentManager
	auth       AuthManager
	log        logger.Logger

	deviceID string
	modelID  string
	defaults models.RegistrationSettings

	settings  models.RegistrationSettings
	state     models.GcdState
	listeners []func(models.GcdState)

	refreshToken    repository.CancelToken
	refreshBackoff  *backoff.ExponentialBackOff
	refreshFlight   singleflight.Group
}

// NewRegistrationManager constructs C7 against its HTTP/store/scheduler
// collaborators and the C5/C6 managers it publishes commands and device
// drafts through.
func NewRegistrationManager(
	httpDoer repository.HTTPDoer,
	store repository.ConfigStore,
	runner repository.TaskRunner,
	clock repository.Clock,
	queue CommandQueue,
	components ComponentManager,
	auth AuthManager,
	deviceID, modelID string,
	defaults models.RegistrationSettings,
	log logger.Logger,
) RegistrationManager {
	m := &registrationManager{
		http:       httpDoer,
		store:      store,
		runner:     runner,
		clock:      clock,
		queue:      queue,
		components: components,
		auth:       auth,
		log:        log,
		deviceID:   deviceID,
		modelID:    modelID,
		defaults:   defaults,
		settings:   defaults,
		state:      models.StateUnconfigured,
	}
	queue.OnAdded(m.publishCommand)
	m.restoreSettings(context.Background())
	return m
}

// restoreSettings hydrates settings from the config store at construction
// time, so a process restart resumes as connecting/invalid-credentials
// rather than forgetting a prior registration. ConfigStore.Load is
// synchronous, so this runs inline before the manager is handed out.
func (m *registrationManager) restoreSettings(ctx context.Context) {
	raw, err := m.store.Load(ctx, "settings")
	if err != nil {
		m.log.Error("loading registration settings failed", err)
		return
	}
	if len(raw) == 0 {
		return
	}
	var dto settingsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		m.log.Error("decoding registration settings failed", err)
		return
	}
	m.settings.CloudID = dto.CloudID
	m.settings.RefreshToken = dto.RefreshToken
	m.settings.RobotAccountEmail = dto.RobotAccount
	if dto.DeviceID != "" {
		m.deviceID = dto.DeviceID
	}
	if m.settings.Registered() {
		m.state = models.StateConnecting
	}
}

func (m *registrationManager) State() models.GcdState { return m.state }

func (m *registrationManager) OnStateChanged(fn func(models.GcdState)) {
	m.listeners = append(m.listeners, fn)
}

func (m *registrationManager) setState(s models.GcdState) {
	if m.state == s {
		return
	}
	m.state = s
	m.log.Info("registration state changed", logger.String("state", string(s)))
	for _, fn := range m.listeners {
		fn(s)
	}
}

// RegisterDevice implements spec.md §4.7's register_device: endpoint
// override admission, then the three-step claim-ticket dance.
func (m *registrationManager) RegisterDevice(ctx context.Context, req RegistrationRequest, done func(error)) {
	if m.settings.Registered() {
		done(errors.New(errors.AlreadyRegistered, "device already holds cloud credentials"))
		return
	}

	merged, err := m.mergeOverrides(req)
	if err != nil {
		done(err)
		return
	}

	m.runner.PostTask(func() {
		m.runRegistrationDance(ctx, req.TicketID, merged, done)
	})
}

// mergeOverrides implements spec.md §4.7 step 2: endpoint-like fields
// are only accepted from the caller when allow_endpoints_override is
// true; otherwise a non-empty override is invalidParams and no state is
// mutated.
func (m *registrationManager) mergeOverrides(req RegistrationRequest) (models.RegistrationSettings, error) {
	merged := m.defaults
	overrides := []struct {
		value string
		set   func(string)
	}{
		{req.OAuthURL, func(v string) { merged.OAuthURL = v }},
		{req.ServiceURL, func(v string) { merged.ServiceURL = v }},
		{req.APIKey, func(v string) { merged.APIKey = v }},
		{req.ClientID, func(v string) { merged.ClientID = v }},
		{req.ClientSecret, func(v string) { merged.ClientSecret = v }},
		{req.XMPPEndpoint, func(v string) { merged.XMPPEndpoint = v }},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		if !m.defaults.AllowEndpointsOverride {
			return models.RegistrationSettings{}, errors.New(errors.InvalidParams, "endpoint overrides are not permitted")
		}
		o.set(o.value)
	}
	return merged, nil
}

// runRegistrationDance performs the blocking HTTP steps synchronously
// (it already runs inside a task posted to the runner, off the caller's
// stack) but hands the final persistence step to the asynchronous
// ConfigStore contract, invoking done only once that callback fires.
func (m *registrationManager) runRegistrationDance(ctx context.Context, ticketID string, cfg models.RegistrationSettings, done func(error)) {
	draft := map[string]interface{}{
		"modelId":    m.modelID,
		"components": m.components.Snapshot(),
		"channel":    map[string]interface{}{"supportedType": "pull"},
	}
	ticketURL := serviceURL(cfg.ServiceURL, "registrationTickets/"+ticketID, url.Values{"key": {cfg.APIKey}})
	if err := m.doJSON(ctx, http.MethodPatch, ticketURL, draft, "", nil); err != nil {
		done(err)
		return
	}

	var finalizeResp struct {
		RobotAccountEmail             string `json:"robotAccountEmail"`
		RobotAccountAuthorizationCode string `json:"robotAccountAuthorizationCode"`
		DeviceDraft                   struct {
			ID string `json:"id"`
		} `json:"deviceDraft"`
	}
	finalizeURL := serviceURL(cfg.ServiceURL, "registrationTickets/"+ticketID+"/finalize", url.Values{"key": {cfg.APIKey}})
	if err := m.doJSON(ctx, http.MethodPost, finalizeURL, nil, "", &finalizeResp); err != nil {
		done(err)
		return
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {finalizeResp.RobotAccountAuthorizationCode},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"redirect_uri":  {"oob"},
	}
	var tokenResp oauthTokenResponse
	if err := m.doForm(ctx, cfg.OAuthURL+"token", form, &tokenResp); err != nil {
		done(err)
		return
	}

	cloudID := finalizeResp.DeviceDraft.ID
	upsertBody := map[string]interface{}{
		"localAuthInfo": map[string]interface{}{
			"certFingerprint": base64.StdEncoding.EncodeToString(m.auth.CertificateFingerprint()),
			"localId":         m.deviceID,
			"clientToken":     tokenResp.AccessToken,
		},
	}
	upsertURL := serviceURL(cfg.ServiceURL, "devices/"+cloudID+"/upsertLocalAuthInfo", nil)
	if err := m.doJSON(ctx, http.MethodPost, upsertURL, upsertBody, tokenResp.AccessToken, nil); err != nil {
		done(err)
		return
	}

	cfg.CloudID = cloudID
	cfg.RobotAccountEmail = finalizeResp.RobotAccountEmail
	cfg.RefreshToken = tokenResp.RefreshToken
	m.settings = cfg

	m.persistSettings(ctx, func(err error) {
		if err != nil {
			done(err)
			return
		}
		m.setState(models.StateConnecting)
		m.scheduleRefresh(time.Duration(tokenResp.ExpiresIn) * time.Second)
		done(nil)
	})
}

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
}

// RefreshAccessToken implements spec.md §4.7's refresh_access_token. A
// scheduled auto-refresh and a caller-triggered refresh can legitimately
// land close together; refreshFlight collapses concurrent callers onto a
// single in-flight OAuth round trip rather than issuing one per caller,
// grounded on the teacher's kms.MgrKeyFetcher thundering-herd guard
// (internal/infrastructure/kms/mgr_key_fetcher.go's singleflight.Group.Do
// around its Vault fetch).
func (m *registrationManager) RefreshAccessToken(ctx context.Context, done func(error)) {
	if m.settings.RefreshToken == "" {
		done(errors.New(errors.InvalidState, "no refresh token on file"))
		return
	}
	resultCh := m.refreshFlight.DoChan("refresh", func() (interface{}, error) {
		errCh := make(chan error, 1)
		m.runner.PostTask(func() {
			m.doRefreshWork(ctx, func(err error) { errCh <- err })
		})
		return nil, <-errCh
	})
	go func() {
		res := <-resultCh
		// done is delivered back through the runner, not this bare
		// goroutine, so a caller whose callback touches manager/domain
		// state still only ever runs on the cooperative execution
		// context spec.md §5 requires.
		m.runner.PostTask(func() { done(res.Err) })
	}()
}

// doRefreshWork performs the actual OAuth refresh-token round trip and
// its follow-on state transitions. It mutates manager state, so it must
// only ever run on the task runner's single goroutine: callers already
// running there (scheduleRefresh's delayed task, retryRefreshWithBackoff)
// call it directly; RefreshAccessToken reaches it through PostTask.
func (m *registrationManager) doRefreshWork(ctx context.Context, done func(error)) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.settings.RefreshToken},
		"client_id":     {m.settings.ClientID},
		"client_secret": {m.settings.ClientSecret},
	}
	var resp oauthTokenResponse
	err := m.doForm(ctx, m.settings.OAuthURL+"token", form, &resp)
	if err != nil {
		if errors.Is(err, errors.InvalidGrant) {
			m.setState(models.StateInvalidCredentials)
		} else {
			m.setState(models.StateConnecting)
			m.retryRefreshWithBackoff(ctx)
		}
		done(err)
		return
	}
	if resp.RefreshToken != "" {
		m.settings.RefreshToken = resp.RefreshToken
	}
	m.refreshBackoff = nil
	m.persistSettings(ctx, func(persistErr error) {
		if persistErr != nil {
			m.log.Error("persisting refreshed token failed", persistErr)
		}
	})
	m.setState(models.StateConnected)
	m.scheduleRefresh(time.Duration(resp.ExpiresIn) * time.Second)
	done(nil)
}

func (m *registrationManager) scheduleRefresh(expiresIn time.Duration) {
	if m.refreshToken != nil {
		m.refreshToken.Cancel()
	}
	delay := expiresIn - refreshGuard
	if delay <= 0 {
		delay = time.Second
	}
	m.refreshToken = m.runner.PostDelayedTask(delay, func() {
		m.doRefreshWork(context.Background(), func(error) {})
	})
}

// retryRefreshWithBackoff schedules a retry after a bounded exponential
// backoff interval for transient (non invalid_grant) refresh failures,
// per spec.md §7's "transient network errors are retried by C7 with
// bounded exponential backoff". The policy instance is kept across
// consecutive failures so the interval actually grows, and is reset on
// the next successful refresh.
func (m *registrationManager) retryRefreshWithBackoff(ctx context.Context) {
	if m.refreshBackoff == nil {
		m.refreshBackoff = backoff.NewExponentialBackOff()
		m.refreshBackoff.InitialInterval = 2 * time.Second
		m.refreshBackoff.MaxInterval = maxRefreshBackoff
		m.refreshBackoff.MaxElapsedTime = 0
	}
	delay := m.refreshBackoff.NextBackOff()
	if delay > maxRefreshBackoff {
		delay = maxRefreshBackoff
	}
	if m.refreshToken != nil {
		m.refreshToken.Cancel()
	}
	m.refreshToken = m.runner.PostDelayedTask(delay, func() {
		m.doRefreshWork(ctx, func(error) {})
	})
}

// Deregister clears locally-held credentials, returning the manager to
// unconfigured. Cloud-side deprovisioning is out of scope for the core.
func (m *registrationManager) Deregister() error {
	if m.refreshToken != nil {
		m.refreshToken.Cancel()
		m.refreshToken = nil
	}
	m.refreshBackoff = nil
	m.settings.Clear()
	m.setState(models.StateUnconfigured)
	return nil
}

// publishCommand is the C5 on_added callback: it serializes the new
// command as a PATCH to commands/<id> and marks it for delayed removal
// once the state is terminal (spec.md §4.7: "Command publishing").
func (m *registrationManager) publishCommand(cmd *models.CommandInstance) {
	if cmd.Origin != models.OriginLocal {
		return
	}
	if m.settings.CloudID == "" {
		return
	}
	patch := map[string]interface{}{
		"state":    cmd.State,
		"progress": cmd.Progress,
		"results":  cmd.Results,
	}
	commandsURL := serviceURL(m.settings.ServiceURL, "commands/"+cmd.ID, nil)
	m.runner.PostTask(func() {
		if err := m.doJSON(context.Background(), http.MethodPatch, commandsURL, patch, "", nil); err != nil {
			m.log.Error("publishing command update failed", err, logger.String("command_id", cmd.ID))
			return
		}
		if cmd.State.IsTerminal() {
			m.queue.DelayedRemove(cmd.ID, 30*time.Second)
		}
	})
}

// persistSettings writes the current settings to the config store.
// ConfigStore.Save's completion callback may fire synchronously or be
// posted back through the task runner (spec.md §5); either way this
// never blocks the caller, it only forwards the outcome to done.
func (m *registrationManager) persistSettings(ctx context.Context, done func(error)) {
	raw, err := json.Marshal(settingsDTO{
		Version:      1,
		CloudID:      m.settings.CloudID,
		DeviceID:     m.deviceID,
		RefreshToken: m.settings.RefreshToken,
		RobotAccount: m.settings.RobotAccountEmail,
	})
	if err != nil {
		done(errors.Wrap(err, errors.InvalidFormat, "encoding registration settings"))
		return
	}
	m.store.Save(ctx, "settings", raw, func(err error) {
		if err != nil {
			done(errors.Wrap(err, errors.NetworkError, "persisting registration settings"))
			return
		}
		done(nil)
	})
}

type settingsDTO struct {
	Version      int    `json:"version"`
	CloudID      string `json:"cloud_id,omitempty"`
	DeviceID     string `json:"device_id"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RobotAccount string `json:"robot_account,omitempty"`
}

// serviceURL implements spec.md §4.7's get_service_url/get_oauth_url:
// concatenate suffix and append the URL-encoded query params. The params
// are encoded with url.Values.Encode, so they come out sorted by key;
// the caller's insertion order is not kept.
func serviceURL(base, suffix string, params url.Values) string {
	u := base + suffix
	if len(params) == 0 {
		return u
	}
	return u + "?" + params.Encode()
}

func (m *registrationManager) doForm(ctx context.Context, rawURL string, form url.Values, out *oauthTokenResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, "building oauth request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return m.execute(req, out)
}

func (m *registrationManager) doJSON(ctx context.Context, method, rawURL string, body interface{}, bearer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.InvalidFormat, "encoding request body")
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return m.execute(req, out)
}

func (m *registrationManager) execute(req *http.Request, out interface{}) error {
	resp, err := m.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, "cloud request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, "reading cloud response")
	}

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &payload)
		if payload.Error == "invalid_grant" {
			return errors.New(errors.InvalidGrant, "cloud rejected credentials")
		}
		if resp.StatusCode >= 500 {
			return errors.Newf(errors.NetworkError, "cloud returned %d", resp.StatusCode)
		}
		return errors.Newf(errors.UnableToAuthenticate, "cloud returned %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, errors.InvalidFormat, "decoding cloud response")
	}
	return nil
}
