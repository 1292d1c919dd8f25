// Package resolver implements link resolution (spec §4.1): turning a short
// code into a destination URL or an interstitial/OG page, evaluating
// targeting rules and device class along the way. Grounded on the teacher's
// internal/dsp/bid_service.go request-evaluation pipeline (validate, filter
// by targeting, select, decorate) generalized from auction bidding to
// single-candidate link resolution.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/cache"
	"github.com/linkforty/linkforty-core/internal/geo"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/store"
	"github.com/linkforty/linkforty-core/internal/useragent"
	"go.uber.org/zap"
)

// Reason codes attached to every resolution, published on the event bus and
// used in metrics (spec §4.1/§4.5).
const (
	ReasonRedirectIOS     = "redirect_ios"
	ReasonRedirectAndroid = "redirect_android"
	ReasonRedirectWeb     = "redirect_web"
	ReasonInterstitial    = "interstitial"
	ReasonScraperPreview  = "scraper_preview"
	ReasonSDKResolve      = "sdk_resolve"
	ReasonNotFound        = "not_found"
	ReasonTargetedOut     = "targeted_out"
	ReasonExpired         = "expired"
)

// Request is the inbound resolution request, gathered by the HTTP layer
// from the incoming redirect request.
type Request struct {
	TemplateSlug string
	Code         string
	IP           string
	UserAgent    string
	CountryCode  string // from geo lookup, empty if unavailable
	SDKResolve   bool   // true for the JSON-returning SDK resolve endpoint
}

// Result is what the Resolver hands back to the HTTP layer: either a
// redirect, or inline HTML to serve directly.
type Result struct {
	Link          *models.Link
	Reason        string
	RedirectURL   string // set when the caller should issue an HTTP redirect
	HTML          string // set when the caller should serve this HTML body
	TargetingOK   bool
	DeviceClass   string
}

// Resolver looks up, filters and resolves links.
type Resolver struct {
	links     store.LinkStore
	templates store.TemplateStore
	cache     *cache.LinkCache
	geo       geo.Provider
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func New(links store.LinkStore, templates store.TemplateStore, linkCache *cache.LinkCache, geoProvider geo.Provider, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{links: links, templates: templates, cache: linkCache, geo: geoProvider, logger: logger, metrics: m}
}

// Resolve is the Resolver's single entry point, covering both the public
// redirect path and the SDK resolve path (spec §4.1, §6). SDK resolve skips
// targeting enforcement and never generates scraper/interstitial HTML.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	link, err := r.lookupLink(ctx, req.TemplateSlug, req.Code)
	if err != nil {
		reason := ReasonNotFound
		if !errors.Is(err, apierror.ErrNotFound) {
			reason = "error"
		}
		if r.metrics != nil {
			r.metrics.RecordResolve(reason, time.Since(start))
		}
		return nil, err
	}

	device := useragent.DeviceClass(req.UserAgent)
	result := &Result{Link: link, DeviceClass: device, TargetingOK: true}

	if req.SDKResolve {
		result.Reason = ReasonSDKResolve
		result.RedirectURL = r.destination(link, device)
		if r.metrics != nil {
			r.metrics.RecordResolve(result.Reason, time.Since(start))
		}
		return result, nil
	}

	if useragent.IsScraper(req.UserAgent) {
		result.Reason = ReasonScraperPreview
		result.HTML = r.ogHTML(link)
		if r.metrics != nil {
			r.metrics.RecordResolve(result.Reason, time.Since(start))
		}
		return result, nil
	}

	if ok, rule := r.evaluateTargeting(link, req.CountryCode, device); !ok {
		result.TargetingOK = false
		result.Reason = ReasonTargetedOut
		if r.metrics != nil {
			r.metrics.RecordTargetingReject(rule)
			r.metrics.RecordResolve(result.Reason, time.Since(start))
		}
		return nil, apierror.ErrNotFound
	}

	dest := r.destination(link, device)
	result.RedirectURL = dest

	if device == useragent.ClassIOS && useragent.IsInAppBrowser(req.UserAgent) {
		if appURL := r.appendParams(r.schemeURL(link), link); appURL != "" {
			result.Reason = ReasonInterstitial
			result.HTML = r.interstitialHTML(link, appURL, r.appendParams(r.storeFallbackURL(link), link))
			if r.metrics != nil {
				r.metrics.RecordResolve(result.Reason, time.Since(start))
			}
			return result, nil
		}
	}

	switch device {
	case useragent.ClassIOS:
		result.Reason = ReasonRedirectIOS
	case useragent.ClassAndroid:
		result.Reason = ReasonRedirectAndroid
	default:
		result.Reason = ReasonRedirectWeb
	}

	if r.metrics != nil {
		r.metrics.RecordResolve(result.Reason, time.Since(start))
	}
	return result, nil
}

// lookupLink checks the cache first, falling back to the store and
// re-populating the cache on a miss (spec §4.1, P9: cache TTL bounds
// staleness to 300s).
func (r *Resolver) lookupLink(ctx context.Context, templateSlug, code string) (*models.Link, error) {
	key := cache.Key(templateSlug, code)
	if link, ok := r.cache.Get(ctx, key); ok {
		if r.metrics != nil {
			r.metrics.RecordCacheHit("link")
		}
		if !link.Live(time.Now()) {
			return nil, apierror.ErrNotFound
		}
		return link, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss("link")
	}

	link, err := r.links.GetByCode(ctx, templateSlug, code)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, key, link)
	return link, nil
}

// evaluateTargeting applies the link's country and device restrictions
// (spec §4.1); an empty rule list means "no restriction" for that dimension.
// A request with an unknown (empty) country code passes the country rule.
// Language rules (TargetingRules.Languages) are not evaluated.
func (r *Resolver) evaluateTargeting(link *models.Link, countryCode, device string) (bool, string) {
	t := link.Targeting
	if len(t.Countries) > 0 && countryCode != "" && !contains(t.Countries, countryCode) {
		return false, "country"
	}
	if len(t.Devices) > 0 && !contains(t.Devices, device) {
		return false, "device"
	}
	return true, ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// destination picks the right destination URL per device class and
// appends UTM + deep-link parameters, following spec §4.1's priority
// tables: on iOS prefer a universal link, then the custom-scheme deep
// link, then the app store URL, then the origin URL; on Android prefer
// an app link, then the custom-scheme deep link, then the play store
// URL, then the origin URL; elsewhere use the web fallback or origin URL.
func (r *Resolver) destination(link *models.Link, device string) string {
	var dest string
	switch device {
	case useragent.ClassIOS:
		dest = firstNonEmpty(link.IOSUniversalLink, r.schemeURL(link), link.IOSAppStoreURL, link.OriginURL)
	case useragent.ClassAndroid:
		dest = firstNonEmpty(link.AndroidAppLink, r.schemeURL(link), link.AndroidPlayURL, link.OriginURL)
	default:
		dest = firstNonEmpty(link.WebFallbackURL, link.OriginURL)
	}
	return r.appendParams(dest, link)
}

// schemeURL builds the `{scheme}://{path}` custom-scheme deep link (spec
// §4.1), or "" if either half is missing and no scheme can be constructed.
func (r *Resolver) schemeURL(link *models.Link) string {
	if link.AppScheme == "" || link.DeepLinkPath == "" {
		return ""
	}
	return link.AppScheme + "://" + strings.TrimPrefix(link.DeepLinkPath, "/")
}

// storeFallbackURL is the interstitial's "give up on the app" target: iOS
// App Store, then web fallback, then origin (spec §4.1 scenario 2).
func (r *Resolver) storeFallbackURL(link *models.Link) string {
	return firstNonEmpty(link.IOSAppStoreURL, link.WebFallbackURL, link.OriginURL)
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// appendParams appends UTM and deep-link parameters as an HTTPS query
// string, or just the deep-link parameters as a bare query string for a
// custom-scheme destination, per spec §4.1.
func (r *Resolver) appendParams(dest string, link *models.Link) string {
	if dest == "" {
		return dest
	}
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}

	q := u.Query()
	isHTTPS := u.Scheme == "https" || u.Scheme == "http"

	if isHTTPS {
		if link.UTM.Source != "" {
			q.Set("utm_source", link.UTM.Source)
		}
		if link.UTM.Medium != "" {
			q.Set("utm_medium", link.UTM.Medium)
		}
		if link.UTM.Campaign != "" {
			q.Set("utm_campaign", link.UTM.Campaign)
		}
		if link.UTM.Term != "" {
			q.Set("utm_term", link.UTM.Term)
		}
		if link.UTM.Content != "" {
			q.Set("utm_content", link.UTM.Content)
		}
	}
	for k, v := range link.DeepLinkParams {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// interstitialHTML renders the in-app-browser bounce page: immediately
// assign location to appURL (the custom-scheme deep link), then after
// 1500ms replace it with fallbackURL (the store/web fallback) in case the
// app never intercepted the navigation (spec §4.1). All interpolated
// values are HTML-escaped.
func (r *Resolver) interstitialHTML(link *models.Link, appURL, fallbackURL string) string {
	escapedApp := html.EscapeString(appURL)
	escapedFallback := html.EscapeString(fallbackURL)
	title := html.EscapeString(link.OG.Title)
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head><body>
<script>
window.location.href = %q;
setTimeout(function(){ window.location.href = %q; }, 1500);
</script>
<p>Redirecting&hellip; <a href="%s">Open app</a> or <a href="%s">continue</a></p>
</body></html>`, title, escapedApp, escapedFallback, escapedApp, escapedFallback)
}

// ogHTML renders the OpenGraph/Twitter Card preview page served to social
// and search scrapers (spec §4.1); no click is recorded for this branch.
func (r *Resolver) ogHTML(link *models.Link) string {
	title := html.EscapeString(link.OG.Title)
	desc := html.EscapeString(link.OG.Description)
	image := html.EscapeString(link.OG.ImageURL)
	origin := html.EscapeString(link.OriginURL)

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<meta property="og:title" content="%s">
<meta property="og:description" content="%s">
<meta property="og:image" content="%s">
<meta property="og:url" content="%s">
<meta name="twitter:card" content="summary_large_image">
<meta name="twitter:title" content="%s">
<meta name="twitter:description" content="%s">
<meta name="twitter:image" content="%s">
</head><body></body></html>`, title, title, desc, image, origin, title, desc, image)
}

// PreviewHTML renders the OG/Twitter Card preview for link directly,
// without evaluating targeting or recording a click — used by the owner-
// facing preview endpoint (spec §6).
func (r *Resolver) PreviewHTML(link *models.Link) string {
	return r.ogHTML(link)
}

// GeoCountryCode resolves an IP to its country code, returning "" if the
// provider is unavailable or the lookup fails — geo is best-effort and
// never blocks resolution (spec §4.1).
func (r *Resolver) GeoCountryCode(ip string) string {
	if r.geo == nil {
		return ""
	}
	info, err := r.geo.Lookup(ip)
	if err != nil || info == nil {
		return ""
	}
	return info.CountryCode
}
