// File: internal/infra/adapters/panel/remnawave_client.go
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ adapter.ProvisioningAdapter = (*RemnawaveClient)(nil)

const adapterName = "remnawave"

// RemnawaveClient provisions access grants as panel users. Each grant is
// attached to the configured internal squads, or to every squad the panel
// reports when none are configured.
type RemnawaveClient struct {
	baseURL    string
	token      string
	userPrefix string
	client     *http.Client
	logger     *zerolog.Logger

	mu           sync.Mutex
	squads       []string
	squadsLoaded bool
}

func NewRemnawaveClient(baseURL, token, userPrefix string, squads []string, timeout time.Duration, logger *zerolog.Logger) (*RemnawaveClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("remnawave: invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if userPrefix == "" {
		userPrefix = "user"
	}
	l := logger.With().Str("component", "remnawave").Logger()
	return &RemnawaveClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		userPrefix:   userPrefix,
		client:       &http.Client{Timeout: timeout},
		logger:       &l,
		squads:       squads,
		squadsLoaded: len(squads) > 0,
	}, nil
}

type rwUser struct {
	UUID            string    `json:"uuid"`
	ShortUUID       string    `json:"shortUuid"`
	Username        string    `json:"username"`
	Status          string    `json:"status"`
	ExpireAt        time.Time `json:"expireAt"`
	SubscriptionURL string    `json:"subscriptionUrl"`
	TelegramID      *int64    `json:"telegramId"`
}

func (u rwUser) snapshot() *model.GrantSnapshot {
	s := &model.GrantSnapshot{
		CorrelationID: u.UUID,
		ShortID:       u.ShortUUID,
		DisplayName:   u.Username,
		Status:        model.GrantStatus(strings.ToUpper(u.Status)),
		ExpiresAt:     u.ExpireAt.UTC(),
		AccessURL:     u.SubscriptionURL,
	}
	if u.TelegramID != nil {
		s.ExternalUserID = *u.TelegramID
	}
	return s
}

// Username derives a panel username; the panel requires them unique.
func (c *RemnawaveClient) Username(req adapter.GrantRequest) string {
	if req.Name != "" {
		return req.Name
	}
	return fmt.Sprintf("%s_%d_%d", c.userPrefix, req.ExternalUserID, time.Now().Unix())
}

func (c *RemnawaveClient) CreateGrant(ctx context.Context, req adapter.GrantRequest) (*model.GrantSnapshot, error) {
	squads, err := c.internalSquads(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"username":             c.Username(req),
		"telegramId":           req.ExternalUserID,
		"description":          fmt.Sprintf("Bot user, tg_id: %d", req.ExternalUserID),
		"expireAt":             req.ExpiresAt.UTC().Format(time.RFC3339),
		"activeInternalSquads": squads,
	}
	var out struct {
		Response rwUser `json:"response"`
	}
	if err := c.do(ctx, "create_grant", http.MethodPost, "/api/users", body, &out); err != nil {
		return nil, err
	}
	if out.Response.UUID == "" {
		return nil, errors.New("remnawave: create user returned no uuid")
	}
	return out.Response.snapshot(), nil
}

// ExtendGrant moves the expiry and re-enables the grant when the new expiry
// lies in the future.
func (c *RemnawaveClient) ExtendGrant(ctx context.Context, correlationID string, expiresAt time.Time) (*model.GrantSnapshot, error) {
	body := map[string]any{
		"uuid":     correlationID,
		"expireAt": expiresAt.UTC().Format(time.RFC3339),
	}
	if expiresAt.After(time.Now()) {
		body["status"] = string(model.GrantStatusActive)
	}
	var out struct {
		Response rwUser `json:"response"`
	}
	if err := c.do(ctx, "extend_grant", http.MethodPatch, "/api/users", body, &out); err != nil {
		return nil, err
	}
	return out.Response.snapshot(), nil
}

func (c *RemnawaveClient) FetchGrant(ctx context.Context, correlationID string) (*model.GrantSnapshot, error) {
	var out struct {
		Response rwUser `json:"response"`
	}
	if err := c.do(ctx, "fetch_grant", http.MethodGet, "/api/users/"+url.PathEscape(correlationID), nil, &out); err != nil {
		return nil, err
	}
	return out.Response.snapshot(), nil
}

func (c *RemnawaveClient) internalSquads(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.squadsLoaded {
		squads := c.squads
		c.mu.Unlock()
		return squads, nil
	}
	c.mu.Unlock()

	// Racing first callers may each list; the result is the same.
	var out struct {
		Response struct {
			InternalSquads []struct {
				UUID string `json:"uuid"`
				Name string `json:"name"`
			} `json:"internalSquads"`
		} `json:"response"`
	}
	if err := c.do(ctx, "list_squads", http.MethodGet, "/api/internal-squads", nil, &out); err != nil {
		return nil, err
	}
	squads := make([]string, 0, len(out.Response.InternalSquads))
	for _, s := range out.Response.InternalSquads {
		squads = append(squads, s.UUID)
	}
	if len(squads) == 0 {
		c.logger.Warn().Msg("panel reports no internal squads; grants will carry no zones")
	}
	c.mu.Lock()
	c.squads, c.squadsLoaded = squads, true
	c.mu.Unlock()
	return squads, nil
}

func (c *RemnawaveClient) do(ctx context.Context, op, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAdapterCall(adapterName, op, time.Since(start).Milliseconds(), err == nil || errors.Is(err, domain.ErrNotFound))
	}()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("remnawave: %s: %w", path, domain.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remnawave: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseWebhook decodes a panel webhook body:
// {"event":"user.expired","timestamp":"...","data":{<user>}}
func ParseWebhook(body []byte) (model.GrantEvent, error) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return model.GrantEvent{}, fmt.Errorf("remnawave: decode webhook: %w", err)
	}
	if env.Event == "" {
		return model.GrantEvent{}, errors.New("remnawave: webhook without event name")
	}
	ev := model.GrantEvent{Name: env.Event, Kind: model.ParseGrantEventKind(env.Event)}
	if ev.Kind == model.GrantEventUnknown {
		return ev, nil
	}
	var u rwUser
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return model.GrantEvent{}, fmt.Errorf("remnawave: decode webhook data: %w", err)
	}
	if u.UUID == "" {
		return model.GrantEvent{}, errors.New("remnawave: webhook data without uuid")
	}
	ev.Snapshot = *u.snapshot()
	return ev, nil
}
