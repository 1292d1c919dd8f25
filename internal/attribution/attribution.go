// Package attribution implements the Attribution Engine (spec §4.3):
// probabilistic fingerprint matching between an SDK install report and the
// recent clicks recorded by the Click Recorder. Grounded on the teacher's
// internal/dsp/bid_service.go candidate-scan-then-score-then-select shape
// (query a bounded candidate set, score each, pick a winner above
// threshold), generalized from OpenRTB line-item selection to fingerprint
// matching.
package attribution

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/store"
	"github.com/linkforty/linkforty-core/internal/useragent"
	"github.com/linkforty/linkforty-core/internal/webhook"
	"go.uber.org/zap"
)

// Score weights for each matched factor (spec §4.3); total possible is 100.
const (
	WeightIP     = 40
	WeightUA     = 30
	WeightTZ     = 10
	WeightLang   = 10
	WeightScreen = 10
)

// Config bounds the candidate scan and the match decision.
type Config struct {
	DefaultWindowHours int
	MaxWindowHours     int
	CandidateLimit     int
	ScoreThreshold     int
}

// InstallReport is the SDK's install-open report (spec §6).
type InstallReport struct {
	FingerprintHash string
	Signals         models.FingerprintSignals
	DeviceID        string
	WindowOverrideH int // 0 means "use each candidate link's own window"
}

// Engine scores and matches install reports against recent clicks.
type Engine struct {
	clicks     store.ClickStore
	installs   store.InstallStore
	inApp      store.InAppEventStore
	dispatcher *webhook.Dispatcher
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func New(clicks store.ClickStore, installs store.InstallStore, inApp store.InAppEventStore, dispatcher *webhook.Dispatcher, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 1000
	}
	if cfg.MaxWindowHours <= 0 {
		cfg.MaxWindowHours = 2160
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 70
	}
	return &Engine{clicks: clicks, installs: installs, inApp: inApp, dispatcher: dispatcher, cfg: cfg, logger: logger, metrics: m}
}

// RecordInstall scores every recent candidate click against report, keeps
// the install regardless of outcome, and fans out an install_event webhook
// on a match (spec §4.3). Store errors are the only case that propagates to
// the caller as a 500; webhook delivery never blocks this call.
func (e *Engine) RecordInstall(ctx context.Context, ownerID string, report InstallReport) (*models.InstallEvent, bool, error) {
	maxAge := time.Duration(e.cfg.MaxWindowHours) * time.Hour
	candidates, err := e.clicks.RecentCandidates(ctx, e.cfg.CandidateLimit, maxAge)
	if err != nil {
		return nil, false, fmt.Errorf("query attribution candidates: %w", err)
	}

	best, bestScore, matchedFactors := selectBest(candidates, report, e.cfg.DefaultWindowHours)
	matched := best != nil && bestScore >= e.cfg.ScoreThreshold

	now := time.Now()
	install := &models.InstallEvent{
		ID:                 uuid.New().String(),
		FingerprintHash:    report.FingerprintHash,
		ConfidenceScore:    bestScore,
		InstalledAt:        now,
		FirstOpenAt:        now,
		DeviceID:           report.DeviceID,
		FingerprintSignals: report.Signals,
	}

	if matched {
		install.LinkID = best.Click.LinkID
		install.ClickID = best.Click.ID
		install.MatchedFactors = matchedFactors
		install.AttributionWindowH = windowFor(best, report.WindowOverrideH, e.cfg.DefaultWindowHours)
		install.DeepLinkPayload = map[string]interface{}{
			"link_id":    best.Click.LinkID,
			"short_code": best.LinkShortCode,
		}
	}

	if err := e.installs.Insert(ctx, install); err != nil {
		return nil, false, fmt.Errorf("persist install event: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordAttribution(matched, bestScore)
	}

	if matched && e.dispatcher != nil && ownerID != "" {
		e.dispatcher.Enqueue(ownerID, models.EventInstall, install)
	}

	return install, matched, nil
}

// RecordInAppEvent persists an in-app event and, when ownerID is set, fans
// out a conversion_event webhook to that owner's subscribers (spec §4.3).
// It does not look up the install: neither its existence nor whether it was
// attributed is checked.
func (e *Engine) RecordInAppEvent(ctx context.Context, ownerID string, event *models.InAppEvent) error {
	if err := e.inApp.Insert(ctx, event); err != nil {
		return fmt.Errorf("persist in-app event: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordInAppEvent(event.Name)
	}
	if e.dispatcher != nil && ownerID != "" {
		e.dispatcher.Enqueue(ownerID, models.EventConversion, event)
	}
	return nil
}

// selectBest scores every candidate and returns the highest-scoring one,
// breaking ties by most recent click (spec §4.3).
func selectBest(candidates []store.CandidateClick, report InstallReport, defaultWindowHours int) (*store.CandidateClick, int, []string) {
	var best *store.CandidateClick
	bestScore := 0
	var bestFactors []string

	for i := range candidates {
		c := &candidates[i]
		window := windowFor(c, report.WindowOverrideH, defaultWindowHours)
		if time.Since(c.Click.ClickedAt) > time.Duration(window)*time.Hour {
			continue
		}

		score, factors := score(c.Fingerprint, report.Signals)
		if best == nil || score > bestScore || (score == bestScore && c.Click.ClickedAt.After(best.Click.ClickedAt)) {
			best, bestScore, bestFactors = c, score, factors
		}
	}
	return best, bestScore, bestFactors
}

// windowFor bounds the window actually used for one candidate click to the
// intersection of the link's own attribution window and any caller-supplied
// override (spec §4.3's discard rule: "now() - clicked_at > link.
// attribution_window_hours OR > caller-supplied override"). The override can
// narrow the window but never widen it past what the link itself allows —
// required by invariant P4.
func windowFor(c *store.CandidateClick, override, fallback int) int {
	linkWindow := c.LinkAttributionWindowH
	if linkWindow <= 0 {
		linkWindow = fallback
	}
	if override > 0 && override < linkWindow {
		return override
	}
	return linkWindow
}

// score compares a click's recorded fingerprint against the install
// report's signals and returns the total weighted score plus the list of
// factors that matched (spec §4.3's scoring table).
func score(candidate, report models.FingerprintSignals) (int, []string) {
	total := 0
	var factors []string

	if normalizeIP(candidate.IP) != "" && normalizeIP(candidate.IP) == normalizeIP(report.IP) {
		total += WeightIP
		factors = append(factors, "ip")
	}
	if useragent.NormalizeForMatch(candidate.UserAgent) != "|" && useragent.NormalizeForMatch(candidate.UserAgent) == useragent.NormalizeForMatch(report.UserAgent) {
		total += WeightUA
		factors = append(factors, "user_agent")
	}
	if candidate.Timezone != "" && strings.EqualFold(candidate.Timezone, report.Timezone) {
		total += WeightTZ
		factors = append(factors, "timezone")
	}
	if candidate.Language != "" && strings.EqualFold(candidate.Language, report.Language) {
		total += WeightLang
		factors = append(factors, "language")
	}
	if candidate.ScreenWidth != 0 && candidate.ScreenWidth == report.ScreenWidth && candidate.ScreenHeight == report.ScreenHeight {
		total += WeightScreen
		factors = append(factors, "screen")
	}

	return total, factors
}

// normalizeIP reduces an IP to its coarse network prefix for matching
// (spec §4.3): the first 3 octets for IPv4, the first 4 groups for IPv6.
// Carrier-grade NAT and mobile network IP churn mean exact-IP matching
// would miss legitimate installs, so only the network prefix is compared.
func normalizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}
	parts := strings.Split(ip, ":")
	if len(parts) < 4 {
		return ip
	}
	return strings.Join(parts[:4], ":")
}
