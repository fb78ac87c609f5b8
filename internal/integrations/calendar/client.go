// Package calendar is a Google Calendar backend using service-account auth.
package calendar

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/types"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	tokenLifetime   = 55 * time.Minute // refresh before the 1 hour expiry
	calendarScope   = "https://www.googleapis.com/auth/calendar.events"
	requestTimeout  = 30 * time.Second
)

// ErrNotFound is returned when the API reports a missing event
var ErrNotFound = errors.New("event not found")

// Client is a Google Calendar API client for a single calendar
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokenURL    string
	calendarID  string
	credentials *serviceAccountCredentials

	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

// serviceAccountCredentials holds the service account JSON key
type serviceAccountCredentials struct {
	Type        string `json:"type"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// Config holds calendar client configuration
type Config struct {
	CredentialsFile string // path to service account JSON file
	CalendarID      string // calendar to access (usually an email address)
	BaseURL         string // API root, defaults to Google's
}

// NewClient creates a client from a service account key file
func NewClient(cfg Config) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds serviceAccountCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Type != "service_account" {
		return nil, fmt.Errorf("credentials file must be a service account key (got %s)", creds.Type)
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar ID is required")
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:    creds.TokenURI,
		calendarID:  cfg.CalendarID,
		credentials: &creds,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.tokenURL == "" {
		c.tokenURL = defaultTokenURL
	}
	return c, nil
}

// CalendarID returns the configured calendar ID
func (c *Client) CalendarID() string {
	return c.calendarID
}

// getAccessToken returns a valid access token, refreshing if needed
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		token := c.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// re-check under the write lock
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	now := time.Now()
	jwt, err := c.signJWT(map[string]any{
		"iss":   c.credentials.ClientEmail,
		"scope": calendarScope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", jwt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = now.Add(tokenLifetime)
	logging.Debug("calendar", "Refreshed access token for %s", c.credentials.ClientEmail)
	return c.accessToken, nil
}

// signJWT creates a signed RS256 JWT assertion
func (c *Client) signJWT(claims map[string]any) (string, error) {
	block, _ := pem.Decode([]byte(c.credentials.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("failed to parse PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not RSA")
	}

	headerJSON, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	hash := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(nil, rsaKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// request makes an authenticated request to the Calendar API
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("calendar API error (%d): %s", errResp.Error.Code, errResp.Error.Message)
		}
		return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// googleEvent is the Google Calendar API event format
type googleEvent struct {
	ID                 string          `json:"id,omitempty"`
	Summary            string          `json:"summary"`
	Description        string          `json:"description,omitempty"`
	Location           string          `json:"location,omitempty"`
	Status             string          `json:"status,omitempty"`
	Updated            string          `json:"updated,omitempty"`
	Start              *googleDateTime `json:"start,omitempty"`
	End                *googleDateTime `json:"end,omitempty"`
	ExtendedProperties *extendedProps  `json:"extendedProperties,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type extendedProps struct {
	Private map[string]string `json:"private,omitempty"`
}

type eventsResponse struct {
	Items []googleEvent `json:"items"`
}

// projectProperty stores the project grouping in the event's private properties
const projectProperty = "bud_project"

func (c *Client) eventsPath() string {
	return fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
}

func (c *Client) eventPath(id string) string {
	return c.eventsPath() + "/" + url.PathEscape(id)
}

// ListEvents retrieves single (expanded) events in [from, to)
func (c *Client) ListEvents(ctx context.Context, from, to time.Time, query string) ([]types.Event, error) {
	params := url.Values{}
	params.Set("timeMin", from.Format(time.RFC3339))
	params.Set("timeMax", to.Format(time.RFC3339))
	params.Set("maxResults", "250")
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	if query != "" {
		params.Set("q", query)
	}

	data, err := c.request(ctx, http.MethodGet, c.eventsPath()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp eventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}

	events := make([]types.Event, 0, len(resp.Items))
	for i := range resp.Items {
		ev, err := convertEvent(&resp.Items[i])
		if err != nil {
			logging.Debug("calendar", "Skipping malformed event %s: %v", resp.Items[i].ID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEvent retrieves a specific event by ID
func (c *Client) GetEvent(ctx context.Context, id string) (types.Event, error) {
	data, err := c.request(ctx, http.MethodGet, c.eventPath(id), nil)
	if err != nil {
		return types.Event{}, err
	}
	return decodeEvent(data)
}

// CreateEvent inserts a new event
func (c *Client) CreateEvent(ctx context.Context, ev types.Event) (types.Event, error) {
	data, err := c.request(ctx, http.MethodPost, c.eventsPath(), toGoogle(ev))
	if err != nil {
		return types.Event{}, err
	}
	return decodeEvent(data)
}

// UpdateEvent patches an existing event with ev's fields
func (c *Client) UpdateEvent(ctx context.Context, ev types.Event) (types.Event, error) {
	if ev.ID == "" {
		return types.Event{}, fmt.Errorf("update event: missing ID")
	}
	data, err := c.request(ctx, http.MethodPatch, c.eventPath(ev.ID), toGoogle(ev))
	if err != nil {
		return types.Event{}, err
	}
	return decodeEvent(data)
}

// DeleteEvent removes an event
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	_, err := c.request(ctx, http.MethodDelete, c.eventPath(id), nil)
	return err
}

func decodeEvent(data []byte) (types.Event, error) {
	var item googleEvent
	if err := json.Unmarshal(data, &item); err != nil {
		return types.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return convertEvent(&item)
}

func toGoogle(ev types.Event) googleEvent {
	g := googleEvent{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
	end := ev.End
	if end.IsZero() || !end.After(ev.Start) {
		end = ev.Start.Add(time.Hour)
	}
	if ev.AllDay {
		g.Start = &googleDateTime{Date: ev.Start.Format("2006-01-02")}
		g.End = &googleDateTime{Date: ev.Start.AddDate(0, 0, 1).Format("2006-01-02")}
	} else if !ev.Start.IsZero() {
		g.Start = &googleDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Start.Location().String()}
		g.End = &googleDateTime{DateTime: end.Format(time.RFC3339), TimeZone: end.Location().String()}
	}
	if ev.ProjectID != "" {
		g.ExtendedProperties = &extendedProps{Private: map[string]string{projectProperty: ev.ProjectID}}
	}
	return g
}

// convertEvent converts a Google Calendar event to the shared event model
func convertEvent(item *googleEvent) (types.Event, error) {
	ev := types.Event{
		ID:          item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
	}

	var err error
	if item.Start != nil {
		if ev.Start, ev.AllDay, err = parseGoogleTime(item.Start); err != nil {
			return types.Event{}, fmt.Errorf("parse start: %w", err)
		}
	}
	if item.End != nil {
		if ev.End, _, err = parseGoogleTime(item.End); err != nil {
			return types.Event{}, fmt.Errorf("parse end: %w", err)
		}
	}
	if item.Updated != "" {
		ev.UpdatedAt, _ = time.Parse(time.RFC3339, item.Updated)
	}
	if item.ExtendedProperties != nil {
		ev.ProjectID = item.ExtendedProperties.Private[projectProperty]
	}
	return ev, nil
}

func parseGoogleTime(g *googleDateTime) (time.Time, bool, error) {
	if g.DateTime != "" {
		t, err := time.Parse(time.RFC3339, g.DateTime)
		return t, false, err
	}
	if g.Date != "" {
		t, err := time.Parse("2006-01-02", g.Date)
		return t, true, err
	}
	return time.Time{}, false, nil
}
