package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linkforty/linkforty-core/internal/attribution"
	"github.com/linkforty/linkforty-core/internal/config"
	"github.com/linkforty/linkforty-core/internal/eventbus"
	"github.com/linkforty/linkforty-core/internal/geo"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/recorder"
	"github.com/linkforty/linkforty-core/internal/resolver"
	"github.com/linkforty/linkforty-core/internal/store"
	"github.com/linkforty/linkforty-core/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestServer builds a Server wired entirely against in-memory stores,
// mirroring NewServer's in-memory branch without requiring Postgres/Redis —
// the same assembly, minus the outer middleware chain, so handlers can be
// exercised directly.
func newTestServer(t *testing.T) (*Server, *store.InMemoryLinkStore) {
	t.Helper()
	links := store.NewInMemoryLinkStore()
	events := store.NewInMemoryEventStore(links)
	webhooks := store.NewInMemoryWebhookStore()
	deliveries := store.NewInMemoryWebhookDeliveryStore()

	logger := zap.NewNop()
	m := metrics.NewMetrics("httpserver_test_" + sanitize(t.Name()))

	bus := eventbus.New()
	dispatcher := webhook.NewDispatcher(webhooks, deliveries, logger, m, 30*time.Second)
	res := resolver.New(links, store.NewInMemoryTemplateStore(), nil, geo.NoopProvider{}, logger, m)
	rec := recorder.New(events.AsClickStore(), events.AsFingerprintStore(), bus, dispatcher, geo.NoopProvider{}, logger, m)
	attr := attribution.New(events.AsClickStore(), events.AsInstallStore(), events.AsInAppEventStore(), dispatcher, attribution.Config{
		DefaultWindowHours: 168,
		MaxWindowHours:     2160,
		CandidateLimit:     1000,
		ScoreThreshold:     70,
	}, logger, m)

	s := &Server{
		resolver:    res,
		recorder:    rec,
		attribution: attr,
		dispatcher:  dispatcher,
		bus:         bus,
		links:       links,
		installs:    events.AsInstallStore(),
		webhooks:    webhooks,
		logger:      logger,
		config:      &config.Config{},
		metrics:     m,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	return s, links
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(s)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestHandleRedirect_UnknownCodeIs404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.SetPathValue("code", "nope")
	w := httptest.NewRecorder()
	s.handleRedirect(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRedirect_KnownCodeRedirects(t *testing.T) {
	s, links := newTestServer(t)
	require.NoError(t, links.Create(context.Background(), &models.Link{
		ID: "link-1", ShortCode: "abc123", OriginURL: "https://example.com",
		WebFallbackURL: "https://example.com/web", IsActive: true, AttributionWindowH: 72,
	}))

	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	req.SetPathValue("code", "abc123")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	w := httptest.NewRecorder()
	s.handleRedirect(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("Location"))
}

func TestHandlePreview_RendersOGHTML(t *testing.T) {
	s, links := newTestServer(t)
	require.NoError(t, links.Create(context.Background(), &models.Link{
		ID: "link-1", ShortCode: "abc123", OriginURL: "https://example.com", IsActive: true,
		OG: models.OGPreview{Title: "My Link"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/abc123/preview", nil)
	req.SetPathValue("code", "abc123")
	w := httptest.NewRecorder()
	s.handlePreview(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "My Link")
}

func TestHandleSDKResolve_ReturnsJSON(t *testing.T) {
	s, links := newTestServer(t)
	require.NoError(t, links.Create(context.Background(), &models.Link{
		ID: "link-1", ShortCode: "abc123", OriginURL: "https://example.com", IsActive: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sdk/v1/resolve/abc123", nil)
	req.SetPathValue("code", "abc123")
	w := httptest.NewRecorder()
	s.handleSDKResolve(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "redirect_url")
}

func TestHandleSDKInstall_RequiresFingerprintHash(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sdk/v1/install", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleSDKInstall(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSDKInstall_MalformedBodyIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sdk/v1/install", strings.NewReader(`not json`))
	w := httptest.NewRecorder()
	s.handleSDKInstall(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSDKInstall_RecordsInstallAndAttributionResponds(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"fingerprint_hash":"deadbeef","owner_id":"owner-1","ip":"1.2.3.4","user_agent":"ua"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sdk/v1/install", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSDKInstall(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "confidence_score")

	// The install should now be queryable by fingerprint hash.
	req2 := httptest.NewRequest(http.MethodGet, "/api/sdk/v1/attribution/deadbeef", nil)
	req2.SetPathValue("fingerprint_hex", "deadbeef")
	w2 := httptest.NewRecorder()
	s.handleSDKAttribution(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestHandleSDKAttribution_RequiresHash(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sdk/v1/attribution/", nil)
	w := httptest.NewRecorder()
	s.handleSDKAttribution(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSDKAttribution_UnknownHashIs404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sdk/v1/attribution/unknownhash", nil)
	req.SetPathValue("fingerprint_hex", "unknownhash")
	w := httptest.NewRecorder()
	s.handleSDKAttribution(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSDKEvent_RequiresInstallIDAndName(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sdk/v1/event", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleSDKEvent(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSDKEvent_Accepted(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"install_id":"install-1","event_name":"purchase"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sdk/v1/event", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSDKEvent(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestGetClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 1.1.1.1")
	assert.Equal(t, "9.9.9.9", getClientIP(req))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "5.5.5.5:1234"
	assert.Equal(t, "5.5.5.5", getClientIP(req2))
}

func TestHandleDebugLive_UpgradesAndStreamsClickEvents(t *testing.T) {
	s, links := newTestServer(t)
	require.NoError(t, links.Create(context.Background(), &models.Link{
		ID: "link-1", ShortCode: "abc123", OriginURL: "https://example.com", IsActive: true,
	}))

	srv := httptest.NewServer(http.HandlerFunc(s.handleDebugLive))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?owner_id="
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered inside the handler goroutine right
	// after the upgrade; give it a moment before publishing so the event
	// isn't dropped by a subscriber that hasn't registered yet.
	var evt eventbus.ClickEvent
	require.Eventually(t, func() bool {
		s.bus.Publish(eventbus.ClickEvent{LinkID: "link-1", ShortCode: "abc123"})
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		return conn.ReadJSON(&evt) == nil
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, "abc123", evt.ShortCode)
}
