// Package httpserver assembles the core's HTTP surface (spec §6), grounded
// on the teacher's internal/httpserver/server.go wiring idiom: a
// Dependencies struct injected into NewServer, repositories swapped for
// Postgres or in-memory depending on what's configured, and a
// net/http.ServeMux built up in one place.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/attribution"
	"github.com/linkforty/linkforty-core/internal/cache"
	"github.com/linkforty/linkforty-core/internal/config"
	"github.com/linkforty/linkforty-core/internal/database"
	"github.com/linkforty/linkforty-core/internal/eventbus"
	"github.com/linkforty/linkforty-core/internal/geo"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/middleware"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/recorder"
	"github.com/linkforty/linkforty-core/internal/resolver"
	"github.com/linkforty/linkforty-core/internal/store"
	"github.com/linkforty/linkforty-core/internal/webhook"
	"go.uber.org/zap"
)

// Dependencies holds every external dependency the server needs to build
// its handler graph.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wires the resolver, click recorder, attribution engine and webhook
// dispatcher behind an HTTP mux.
type Server struct {
	resolver    *resolver.Resolver
	recorder    *recorder.Recorder
	attribution *attribution.Engine
	dispatcher  *webhook.Dispatcher
	bus         *eventbus.Bus
	links       store.LinkStore
	installs    store.InstallStore
	webhooks    store.WebhookStore
	logger      *zap.Logger
	config      *config.Config
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
}

// NewServer constructs the full HTTP handler graph for deps.
func NewServer(deps *Dependencies) http.Handler {
	var links store.LinkStore
	var templates store.TemplateStore
	var clicks store.ClickStore
	var fingerprints store.FingerprintStore
	var installs store.InstallStore
	var inApp store.InAppEventStore
	var webhooks store.WebhookStore
	var deliveries store.WebhookDeliveryStore

	if deps.DB != nil {
		links = store.NewPostgresLinkStore(deps.DB.Pool)
		templates = store.NewPostgresTemplateStore(deps.DB.Pool)
		clicks = store.NewPostgresClickStore(deps.DB.Pool)
		fingerprints = store.NewPostgresFingerprintStore(deps.DB.Pool)
		installs = store.NewPostgresInstallStore(deps.DB.Pool)
		inApp = store.NewPostgresInAppEventStore(deps.DB.Pool)
		webhooks = store.NewPostgresWebhookStore(deps.DB.Pool)
		deliveries = store.NewPostgresWebhookDeliveryStore(deps.DB.Pool)
	} else {
		memLinks := store.NewInMemoryLinkStore()
		memEvents := store.NewInMemoryEventStore(memLinks)
		links = memLinks
		templates = store.NewInMemoryTemplateStore()
		clicks = memEvents.AsClickStore()
		fingerprints = memEvents.AsFingerprintStore()
		installs = memEvents.AsInstallStore()
		inApp = memEvents.AsInAppEventStore()
		webhooks = store.NewInMemoryWebhookStore()
		deliveries = store.NewInMemoryWebhookDeliveryStore()
	}

	var geoProvider geo.Provider = geo.NoopProvider{}
	if deps.Config.Geo.Enabled {
		mm, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geoip provider, geo lookups disabled", zap.Error(err))
		} else {
			geoProvider = geo.NewCachedProvider(mm, deps.Config.Geo.CacheSize, deps.Config.Geo.CacheTTL)
		}
	}

	linkTTLSeconds := int(deps.Config.Cache.LinkTTL.Seconds())
	var linkCache *cache.LinkCache
	if deps.Redis != nil {
		linkCache = cache.New(deps.Redis.Client, linkTTLSeconds, deps.Logger)
	} else {
		linkCache = cache.New(nil, linkTTLSeconds, deps.Logger)
	}

	bus := eventbus.New()
	dispatcher := webhook.NewDispatcher(webhooks, deliveries, deps.Logger, deps.Metrics, deps.Config.Webhook.MaxBackoff)

	res := resolver.New(links, templates, linkCache, geoProvider, deps.Logger, deps.Metrics)
	rec := recorder.New(clicks, fingerprints, bus, dispatcher, geoProvider, deps.Logger, deps.Metrics)
	attr := attribution.New(clicks, installs, inApp, dispatcher, attribution.Config{
		DefaultWindowHours: deps.Config.Attribution.DefaultWindowHours,
		MaxWindowHours:     deps.Config.Attribution.MaxWindowHours,
		CandidateLimit:     deps.Config.Attribution.CandidateLimit,
		ScoreThreshold:     deps.Config.Attribution.ScoreThreshold,
	}, deps.Logger, deps.Metrics)

	s := &Server{
		resolver:    res,
		recorder:    rec,
		attribution: attr,
		dispatcher:  dispatcher,
		bus:         bus,
		links:       links,
		installs:    installs,
		webhooks:    webhooks,
		logger:      deps.Logger,
		config:      deps.Config,
		metrics:     deps.Metrics,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// SDK API (spec §6)
	mux.HandleFunc("POST /api/sdk/v1/install", s.handleSDKInstall)
	mux.HandleFunc("GET /api/sdk/v1/attribution/{fingerprint_hex}", s.handleSDKAttribution)
	mux.HandleFunc("POST /api/sdk/v1/event", s.handleSDKEvent)
	mux.HandleFunc("GET /api/sdk/v1/resolve/{code}", s.handleSDKResolve)
	mux.HandleFunc("GET /api/sdk/v1/resolve/{slug}/{code}", s.handleSDKResolveTemplate)

	// Debug live stream (spec §4.5, §6)
	mux.HandleFunc("GET /api/debug/live", s.handleDebugLive)

	// Public redirect surface (spec §6) — registered last since it's the
	// catch-all path shape.
	mux.HandleFunc("GET /{code}/preview", s.handlePreview)
	mux.HandleFunc("GET /{slug}/{code}", s.handleRedirectTemplate)
	mux.HandleFunc("GET /{code}", s.handleRedirect)

	rateLimiter := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
	rateLimiter.SetMetrics(deps.Metrics)
	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	logging := middleware.NewLoggingMiddleware(deps.Logger)
	metricsMW := middleware.NewMetricsMiddleware(deps.Metrics)

	var handler http.Handler = mux
	handler = rateLimiter.HandlerPerIP(handler)
	handler = rateLimiter.Handler(handler)
	handler = metricsMW.Handler(handler)
	handler = logging.Handler(handler)
	handler = recovery.Handler(handler)

	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRedirect serves GET /{code} — the untemplated short link surface.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	s.resolveAndServe(w, r, "", r.PathValue("code"), false)
}

// handleRedirectTemplate serves GET /{slug}/{code} — a short link under an
// owner-scoped template namespace.
func (s *Server) handleRedirectTemplate(w http.ResponseWriter, r *http.Request) {
	s.resolveAndServe(w, r, r.PathValue("slug"), r.PathValue("code"), false)
}

// handlePreview serves GET /{code}/preview — always the OG/scraper branch,
// used by link owners to check how their link previews without triggering
// a real click or redirect.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	link, err := s.links.GetByCode(r.Context(), "", r.PathValue("code"))
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	html := s.resolver.PreviewHTML(link)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleSDKResolve(w http.ResponseWriter, r *http.Request) {
	s.resolveAndServe(w, r, "", r.PathValue("code"), true)
}

func (s *Server) handleSDKResolveTemplate(w http.ResponseWriter, r *http.Request) {
	s.resolveAndServe(w, r, r.PathValue("slug"), r.PathValue("code"), true)
}

// resolveAndServe is the shared implementation behind the public redirect
// surface and the SDK resolve surface (spec §4.1).
func (s *Server) resolveAndServe(w http.ResponseWriter, r *http.Request, slug, code string, sdk bool) {
	ip := getClientIP(r)
	ua := r.UserAgent()

	req := resolver.Request{
		TemplateSlug: slug,
		Code:         code,
		IP:           ip,
		UserAgent:    ua,
		CountryCode:  s.resolver.GeoCountryCode(ip),
		SDKResolve:   sdk,
	}

	result, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	if sdk {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"redirect_url": result.RedirectURL,
			"reason":       result.Reason,
		})
		return
	}

	// A click is recorded for every branch except the scraper/OG preview,
	// which must not pollute click analytics (spec §4.1).
	if result.Reason != resolver.ReasonScraperPreview {
		q := r.URL.Query()
		s.recorder.Record(recorder.Input{
			Link:          result.Link,
			IP:            ip,
			UserAgent:     ua,
			Referer:       r.Header.Get("Referer"),
			RedirectURL:   result.RedirectURL,
			Reason:        result.Reason,
			TargetingOK:   result.TargetingOK,
			ClientSignals: recorder.SignalsFromRequest(r),
			RequestUTM: models.UTMParams{
				Source:   q.Get("utm_source"),
				Medium:   q.Get("utm_medium"),
				Campaign: q.Get("utm_campaign"),
				Term:     q.Get("utm_term"),
				Content:  q.Get("utm_content"),
			},
		})
	}

	if result.HTML != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(result.HTML))
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// sdkInstallRequest is the body of POST /api/sdk/v1/install (spec §6).
type sdkInstallRequest struct {
	FingerprintHash string `json:"fingerprint_hash"`
	OwnerID         string `json:"owner_id"`
	IP              string `json:"ip,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	Language        string `json:"language,omitempty"`
	ScreenWidth     int    `json:"screen_width,omitempty"`
	ScreenHeight    int    `json:"screen_height,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	AttributionWindowHours int `json:"attribution_window_hours,omitempty"`
}

type sdkInstallResponse struct {
	Matched         bool                   `json:"matched"`
	ConfidenceScore int                    `json:"confidence_score"`
	DeepLinkPayload map[string]interface{} `json:"deep_link_data,omitempty"`
}

func (s *Server) handleSDKInstall(w http.ResponseWriter, r *http.Request) {
	var req sdkInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, &apierror.ValidationError{Fields: []apierror.FieldError{{Field: "body", Message: "invalid JSON"}}})
		return
	}
	if req.FingerprintHash == "" {
		apierror.WriteJSON(w, &apierror.ValidationError{Fields: []apierror.FieldError{{Field: "fingerprint_hash", Message: "required"}}})
		return
	}

	if req.IP == "" {
		req.IP = getClientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	install, matched, err := s.attribution.RecordInstall(r.Context(), req.OwnerID, attribution.InstallReport{
		FingerprintHash: req.FingerprintHash,
		DeviceID:        req.DeviceID,
		WindowOverrideH: req.AttributionWindowHours,
		Signals: models.FingerprintSignals{
			IP:              req.IP,
			UserAgent:       req.UserAgent,
			Timezone:        req.Timezone,
			Language:        req.Language,
			ScreenWidth:     req.ScreenWidth,
			ScreenHeight:    req.ScreenHeight,
			Platform:        req.Platform,
			PlatformVersion: req.PlatformVersion,
		},
	})
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sdkInstallResponse{
		Matched:         matched,
		ConfidenceScore: install.ConfidenceScore,
		DeepLinkPayload: install.DeepLinkPayload,
	})
}

// handleSDKAttribution serves GET
// /api/sdk/v1/attribution/{fingerprint_hex} — a device re-querying the
// deep-link payload it was already attributed (spec §6).
func (s *Server) handleSDKAttribution(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("fingerprint_hex")
	if hash == "" {
		apierror.WriteJSON(w, &apierror.ValidationError{Fields: []apierror.FieldError{{Field: "fingerprint_hex", Message: "required"}}})
		return
	}

	install, err := s.installs.GetByFingerprintHash(r.Context(), hash)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sdkInstallResponse{
		Matched:         install.Attributed(),
		ConfidenceScore: install.ConfidenceScore,
		DeepLinkPayload: install.DeepLinkPayload,
	})
}

// sdkEventRequest is the body of POST /api/sdk/v1/event (spec §6).
type sdkEventRequest struct {
	InstallID  string                 `json:"install_id"`
	OwnerID    string                 `json:"owner_id"`
	Name       string                 `json:"event_name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

func (s *Server) handleSDKEvent(w http.ResponseWriter, r *http.Request) {
	var req sdkEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, &apierror.ValidationError{Fields: []apierror.FieldError{{Field: "body", Message: "invalid JSON"}}})
		return
	}
	if req.InstallID == "" || req.Name == "" {
		apierror.WriteJSON(w, &apierror.ValidationError{Fields: []apierror.FieldError{{Field: "install_id/event_name", Message: "required"}}})
		return
	}

	event := &models.InAppEvent{
		ID:         uuid.New().String(),
		InstallID:  req.InstallID,
		Name:       req.Name,
		Properties: req.Properties,
		OccurredAt: time.Now(),
	}
	if err := s.attribution.RecordInAppEvent(r.Context(), req.OwnerID, event); err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleDebugLive serves GET /api/debug/live — a WebSocket stream of click
// events filtered by owner_id/link_id query params (spec §4.5, §6),
// grounded on gorilla/websocket's standard upgrade-then-write-loop idiom.
func (s *Server) handleDebugLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	filter := eventbus.Filter{
		OwnerID: r.URL.Query().Get("owner_id"),
		LinkID:  r.URL.Query().Get("link_id"),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cancelSub := s.bus.Subscribe(filter, func(e eventbus.ClickEvent) {
		if err := conn.WriteJSON(e); err != nil {
			cancel()
		}
	})
	defer cancelSub()

	if s.metrics != nil {
		s.metrics.EventBusSubscribers.Inc()
		defer s.metrics.EventBusSubscribers.Dec()
	}

	// Block until the client disconnects or a write fails; gorilla's
	// connection must still be read from to process control frames
	// (ping/pong/close).
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()
	<-ctx.Done()
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

