// Package recordstore is the client for the system of record: the REST API
// over the relational database that holds durable state. Every request
// carries the persisted bearer token; a single 401 triggers exactly one
// silent refresh-and-retry before the session is wiped and the caller is
// forced to re-authenticate.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"signalement-service/models"
)

var (
	// ErrAuthExpired means the token could not be refreshed; all local
	// session state has been cleared and the user must log in again.
	ErrAuthExpired = errors.New("record store: authentication expired")

	// ErrNotFound is returned for a missing resource.
	ErrNotFound = errors.New("record store: not found")

	// ErrUnavailable marks transport-level failures.
	ErrUnavailable = errors.New("record store unavailable")
)

// ValidationError carries a store-side rejection of caller-supplied data,
// surfaced verbatim and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SessionStore persists the bearer token, refresh token and last-known user
// profile. It is cleared entirely on logout or unrecoverable auth failure.
type SessionStore interface {
	Tokens(ctx context.Context) (access, refresh string, err error)
	SaveSession(ctx context.Context, access, refresh string, user models.User) error
	SaveAccessToken(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

type Client struct {
	baseURL  string
	sessions SessionStore
	http     *http.Client
}

func NewClient(baseURL string, sessions SessionStore) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: sessions,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Login authenticates against the record store and persists the returned
// session.
func (c *Client) Login(ctx context.Context, email, password string) (*models.TokenResponse, error) {
	payload := map[string]string{"email": email, "password": password}

	var dto loginDTO
	if err := c.do(ctx, http.MethodPost, "/auth/login", payload, &dto); err != nil {
		return nil, err
	}

	user := dto.Utilisateur.canonical()
	if err := c.sessions.SaveSession(ctx, dto.Token, dto.RefreshToken, user); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	return &models.TokenResponse{
		Token:        dto.Token,
		RefreshToken: dto.RefreshToken,
		ExpiresIn:    dto.ExpiresIn,
		User:         &user,
	}, nil
}

func (c *Client) ListReports(ctx context.Context) ([]models.Report, error) {
	var dtos []reportDTO
	if err := c.do(ctx, http.MethodGet, "/signalements", nil, &dtos); err != nil {
		return nil, err
	}
	reports := make([]models.Report, 0, len(dtos))
	for _, d := range dtos {
		reports = append(reports, d.canonical())
	}
	return reports, nil
}

func (c *Client) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	var dto reportDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/signalements/%d", id), nil, &dto); err != nil {
		return nil, err
	}
	report := dto.canonical()
	return &report, nil
}

func (c *Client) CreateReport(ctx context.Context, report models.Report) (*models.Report, error) {
	var dto reportDTO
	if err := c.do(ctx, http.MethodPost, "/signalements", newReportDTO(report), &dto); err != nil {
		return nil, err
	}
	created := dto.canonical()
	return &created, nil
}

func (c *Client) UpdateReport(ctx context.Context, id int64, report models.Report) (*models.Report, error) {
	var dto reportDTO
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/signalements/%d", id), newReportDTO(report), &dto); err != nil {
		return nil, err
	}
	updated := dto.canonical()
	return &updated, nil
}

func (c *Client) DeleteReport(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/signalements/%d", id), nil, nil)
}

// SetReportReplicaKey records the replica child key minted for a report
// during reconciliation.
func (c *Client) SetReportReplicaKey(ctx context.Context, id int64, key string) error {
	payload := map[string]string{"firebaseId": key}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/signalements/%d/replica", id), payload, nil)
}

func (c *Client) History(ctx context.Context, id int64) ([]models.HistoryEntry, error) {
	var dtos []historyDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/signalements/%d/historique", id), nil, &dtos); err != nil {
		return nil, err
	}
	entries := make([]models.HistoryEntry, 0, len(dtos))
	for _, d := range dtos {
		entries = append(entries, d.canonical())
	}
	return entries, nil
}

func (c *Client) Statistics(ctx context.Context) (*models.Statistics, error) {
	var dto statisticsDTO
	if err := c.do(ctx, http.MethodGet, "/signalements/statistiques", nil, &dto); err != nil {
		return nil, err
	}
	stats := dto.canonical()
	return &stats, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var dtos []userDTO
	if err := c.do(ctx, http.MethodGet, "/utilisateurs", nil, &dtos); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(dtos))
	for _, d := range dtos {
		users = append(users, d.canonical())
	}
	return users, nil
}

// SetUserReplicaKey records the replica child key minted for a user during
// reconciliation.
func (c *Client) SetUserReplicaKey(ctx context.Context, id int64, key string) error {
	payload := map[string]string{"firebaseUid": key}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/utilisateurs/%d/replica", id), payload, nil)
}

func (c *Client) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var dtos []companyDTO
	if err := c.do(ctx, http.MethodGet, "/entreprises", nil, &dtos); err != nil {
		return nil, err
	}
	companies := make([]models.Company, 0, len(dtos))
	for _, d := range dtos {
		companies = append(companies, d.canonical())
	}
	return companies, nil
}

// do performs one authenticated request. On 401 it attempts exactly one
// token refresh and retry; a second 401 clears the session.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	access, refresh, err := c.sessions.Tokens(ctx)
	if err != nil {
		access, refresh = "", ""
	}

	resp, err := c.send(ctx, method, path, body, access)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		access, err = c.refresh(ctx, refresh)
		if err != nil {
			return err
		}

		resp, err = c.send(ctx, method, path, body, access)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			c.clearSession(ctx)
			return ErrAuthExpired
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Message: readErrorMessage(resp.Body)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("record store returned status %d for %s %s: %s",
			resp.StatusCode, method, path, readErrorMessage(resp.Body))
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// refresh exchanges the refresh token for a new access token. Any failure
// wipes the session and forces re-authentication.
func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		c.clearSession(ctx)
		return "", ErrAuthExpired
	}

	payload := map[string]string{"refreshToken": refreshToken}
	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh", payload, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.clearSession(ctx)
		return "", ErrAuthExpired
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	var dto struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &dto); err != nil || dto.Token == "" {
		c.clearSession(ctx)
		return "", ErrAuthExpired
	}

	if err := c.sessions.SaveAccessToken(ctx, dto.Token); err != nil {
		log.Warnf("Failed to persist refreshed token: %v", err)
	}
	return dto.Token, nil
}

func (c *Client) clearSession(ctx context.Context) {
	if err := c.sessions.Clear(ctx); err != nil {
		log.Warnf("Failed to clear session state: %v", err)
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func readErrorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 512))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
