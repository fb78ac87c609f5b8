package calendar

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/budintel/internal/types"
)

type fakeGoogle struct {
	tokenRequests atomic.Int32
	lastMethod    string
	lastPath      string
	lastBody      map[string]any
}

func newFakeGoogle(t *testing.T) (*fakeGoogle, *httptest.Server) {
	t.Helper()
	f := &fakeGoogle{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.Len(t, strings.Split(r.Form.Get("assertion"), "."), 3)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/calendars/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f.lastMethod = r.Method
		f.lastPath = r.URL.Path
		f.lastBody = nil
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			json.Unmarshal(body, &f.lastBody)
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events"):
			w.Write([]byte(`{"items":[
				{"id":"e1","summary":"Design review","start":{"dateTime":"2026-04-06T10:00:00Z"},"end":{"dateTime":"2026-04-06T11:00:00Z"},
				 "extendedProperties":{"private":{"bud_project":"web"}}},
				{"id":"e2","summary":"Offsite","start":{"date":"2026-04-08"},"end":{"date":"2026-04-09"}},
				{"id":"bad","summary":"Broken","start":{"dateTime":"not a time"}}
			]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(`{"id":"e9","summary":"Kickoff","status":"confirmed","updated":"2026-04-06T09:00:00Z",
				"start":{"dateTime":"2026-04-07T14:00:00Z"},"end":{"dateTime":"2026-04-07T15:00:00Z"}}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeCredentials(t *testing.T, tokenURI string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	data, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"private_key":  string(pemKey),
		"client_email": "bud@example.iam.gserviceaccount.com",
		"token_uri":    tokenURI,
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func newTestClient(t *testing.T) (*Client, *fakeGoogle) {
	f, srv := newFakeGoogle(t)
	c, err := NewClient(Config{
		CredentialsFile: writeCredentials(t, srv.URL+"/token"),
		CalendarID:      "owner@example.com",
		BaseURL:         srv.URL,
	})
	require.NoError(t, err)
	return c, f
}

func TestNewClientRejectsBadCredentials(t *testing.T) {
	_, err := NewClient(Config{CredentialsFile: filepath.Join(t.TempDir(), "none.json"), CalendarID: "x"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0600))
	_, err = NewClient(Config{CredentialsFile: path, CalendarID: "x"})
	assert.ErrorContains(t, err, "service account")

	_, err = NewClient(Config{CredentialsFile: writeCredentials(t, ""), CalendarID: ""})
	assert.ErrorContains(t, err, "calendar ID")
}

func TestClientHasRequestTimeout(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, requestTimeout, c.httpClient.Timeout)
}

func TestListEventsConvertsAndSkipsMalformed(t *testing.T) {
	c, f := newTestClient(t)

	from := time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(t.Context(), from, from.AddDate(0, 0, 7), "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Design review", events[0].Summary)
	assert.Equal(t, "web", events[0].ProjectID)
	assert.False(t, events[0].AllDay)
	assert.Equal(t, time.Hour, events[0].End.Sub(events[0].Start))

	assert.True(t, events[1].AllDay)
	assert.Equal(t, 8, events[1].Start.Day())

	// token is cached across calls
	_, err = c.ListEvents(t.Context(), from, from.AddDate(0, 0, 1), "review")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenRequests.Load())
	assert.Equal(t, "/calendars/owner@example.com/events", f.lastPath)
}

func TestCreateUpdateDelete(t *testing.T) {
	c, f := newTestClient(t)
	start := time.Date(2026, 4, 7, 14, 0, 0, 0, time.UTC)

	created, err := c.CreateEvent(t.Context(), types.Event{Summary: "Kickoff", Start: start, ProjectID: "web"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, f.lastMethod)
	assert.Equal(t, "e9", created.ID)
	assert.Equal(t, "confirmed", created.Status)
	assert.False(t, created.UpdatedAt.IsZero())

	// missing end defaults to one hour
	end := f.lastBody["end"].(map[string]any)
	assert.Equal(t, "2026-04-07T15:00:00Z", end["dateTime"])
	props := f.lastBody["extendedProperties"].(map[string]any)["private"].(map[string]any)
	assert.Equal(t, "web", props[projectProperty])

	_, err = c.UpdateEvent(t.Context(), types.Event{ID: "e9", Summary: "Kickoff (moved)", Start: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, f.lastMethod)
	assert.Equal(t, "/calendars/owner@example.com/events/e9", f.lastPath)

	_, err = c.UpdateEvent(t.Context(), types.Event{Summary: "no id"})
	assert.Error(t, err)

	require.NoError(t, c.DeleteEvent(t.Context(), "e9"))
	assert.Equal(t, http.MethodDelete, f.lastMethod)
}

func TestMissingEventIsNotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetEvent(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.DeleteEvent(t.Context(), "missing"), ErrNotFound)
}
