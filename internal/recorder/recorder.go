// Package recorder implements the Click Recorder (spec §4.2): fire-and-forget
// enrichment and persistence of every redirect so the hot path never waits
// on it. Grounded on the teacher's internal/dsp/tracking.go RegisterClick,
// which parses the User-Agent, geolocates the IP, and writes a click row —
// generalized here into a background job decoupled entirely from the
// request/response cycle (spec §5: "fire-and-forget async work tied to
// process lifetime, not request context").
package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty-core/internal/eventbus"
	"github.com/linkforty/linkforty-core/internal/geo"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/store"
	"github.com/linkforty/linkforty-core/internal/useragent"
	"github.com/linkforty/linkforty-core/internal/webhook"
	"go.uber.org/zap"
)

// Input is everything the recorder needs about one completed resolution,
// gathered by the HTTP layer before it responds to the client.
type Input struct {
	Link        *models.Link
	IP          string
	UserAgent   string
	Referer     string
	RedirectURL string
	Reason      string
	TargetingOK bool

	// RequestUTM carries the utm_* query parameters from the inbound
	// request itself (spec §3/§4.2) — the real per-click campaign
	// attribution, distinct from the link's own configured outbound UTM
	// (models.Link.UTM), which is only ever appended to the destination
	// URL, never recorded on the click.
	RequestUTM models.UTMParams

	// ClientSignals carries the optional fp_* query-param overrides a
	// caller may supply (timezone, language, screen size); spec §9 leaves
	// trusting these to client override as an open question — this build
	// trusts them only to fill in what the server side cannot observe
	// (timezone/language/screen), never to override IP or User-Agent.
	ClientSignals models.FingerprintSignals
}

// Recorder enriches and persists clicks asynchronously.
type Recorder struct {
	clicks       store.ClickStore
	fingerprints store.FingerprintStore
	geo          geo.Provider
	bus          *eventbus.Bus
	dispatcher   *webhook.Dispatcher
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

func New(clicks store.ClickStore, fingerprints store.FingerprintStore, bus *eventbus.Bus, dispatcher *webhook.Dispatcher, geoProvider geo.Provider, logger *zap.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		clicks:       clicks,
		fingerprints: fingerprints,
		geo:          geoProvider,
		bus:          bus,
		dispatcher:   dispatcher,
		logger:       logger,
		metrics:      m,
	}
}

// Record spawns the background job and returns immediately; the caller
// must not wait on it (spec §4.2, §5). Every failure inside the job is
// logged and swallowed — a click recording failure must never surface to
// the redirected user.
func (rec *Recorder) Record(in Input) {
	go rec.record(in)
}

func (rec *Recorder) record(in Input) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	parsed := useragent.Parse(in.UserAgent)

	var info *geo.Info
	if rec.geo != nil {
		lookupStart := time.Now()
		var err error
		info, err = rec.geo.Lookup(in.IP)
		if err != nil {
			rec.logger.Warn("geo lookup failed", zap.String("ip", in.IP), zap.Error(err))
			info = nil
		}
		if rec.metrics != nil {
			rec.metrics.RecordGeoLookup(false, time.Since(lookupStart))
		}
	}

	click := &models.ClickEvent{
		ID:          uuid.New().String(),
		LinkID:      in.Link.ID,
		ClickedAt:   time.Now(),
		IP:          in.IP,
		UserAgent:   in.UserAgent,
		DeviceClass: parsed.DeviceClass,
		Platform:    parsed.Platform,
		UTMSource:   in.RequestUTM.Source,
		UTMMedium:   in.RequestUTM.Medium,
		UTMCampaign: in.RequestUTM.Campaign,
		UTMTerm:     in.RequestUTM.Term,
		UTMContent:  in.RequestUTM.Content,
		Referer:     in.Referer,
		RedirectURL: in.RedirectURL,
		ReasonCode:  in.Reason,
	}
	if info != nil {
		click.GeoCountryCode = info.CountryCode
		click.GeoCountryName = info.CountryName
		click.GeoRegion = info.Region
		click.GeoCity = info.City
		click.GeoLat = info.Latitude
		click.GeoLong = info.Longitude
		click.GeoTimezone = info.Timezone
	}

	if err := rec.clicks.Insert(ctx, click); err != nil {
		rec.logger.Error("failed to insert click", zap.String("link_id", in.Link.ID), zap.Error(err))
		return
	}
	if rec.metrics != nil {
		rec.metrics.RecordClick(parsed.DeviceClass)
	}

	signals := models.FingerprintSignals{
		IP:              in.IP,
		UserAgent:       in.UserAgent,
		Timezone:        in.ClientSignals.Timezone,
		Language:        in.ClientSignals.Language,
		ScreenWidth:     in.ClientSignals.ScreenWidth,
		ScreenHeight:    in.ClientSignals.ScreenHeight,
		Platform:        parsed.Platform,
		PlatformVersion: parsed.PlatformVersion,
	}
	fp := &models.DeviceFingerprint{
		ID:                  uuid.New().String(),
		ClickID:             click.ID,
		Hash:                fingerprintHash(signals),
		FingerprintSignals:  signals,
		CreatedAt:           time.Now(),
	}
	if err := rec.fingerprints.Insert(ctx, fp); err != nil {
		rec.logger.Error("failed to insert device fingerprint", zap.String("click_id", click.ID), zap.Error(err))
	}

	if rec.bus != nil {
		rec.bus.Publish(eventbus.ClickEvent{
			EventID:          click.ID,
			Timestamp:        click.ClickedAt,
			LinkID:           click.LinkID,
			ShortCode:        in.Link.ShortCode,
			OwnerID:          in.Link.OwnerID,
			IP:               click.IP,
			UserAgent:        click.UserAgent,
			Country:          click.GeoCountryCode,
			City:             click.GeoCity,
			DeviceClass:      click.DeviceClass,
			Platform:         click.Platform,
			RedirectURL:      click.RedirectURL,
			Reason:           click.ReasonCode,
			TargetingMatched: in.TargetingOK,
			UTMSource:        click.UTMSource,
			Referer:          click.Referer,
			Language:         signals.Language,
		})
	}

	if rec.dispatcher != nil && in.Link.OwnerID != "" {
		rec.dispatcher.Enqueue(in.Link.OwnerID, models.EventClick, click)
	}
}

// fingerprintHash computes the canonical SHA-256 fingerprint hash: the
// lowercase-hex digest of "ip|ua|tz|lang|sw|sh|platform|platform_version",
// empty string for any missing component (spec §4.2/§4.3).
func fingerprintHash(s models.FingerprintSignals) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%s|%s",
		s.IP, s.UserAgent, s.Timezone, s.Language, s.ScreenWidth, s.ScreenHeight, s.Platform, s.PlatformVersion)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SignalsFromRequest extracts the fp_* client-override query parameters
// (spec §9 open question, resolved here: trusted only to supplement
// signals the server cannot itself observe).
func SignalsFromRequest(r *http.Request) models.FingerprintSignals {
	q := r.URL.Query()
	var s models.FingerprintSignals
	s.Timezone = q.Get("fp_tz")
	s.Language = q.Get("fp_lang")
	if w := q.Get("fp_sw"); w != "" {
		fmt.Sscanf(w, "%d", &s.ScreenWidth)
	}
	if h := q.Get("fp_sh"); h != "" {
		fmt.Sscanf(h, "%d", &s.ScreenHeight)
	}
	return s
}
