package models

import "time"

// TargetingRules restricts which requesters a link resolves for. Any empty
// slice means "no restriction" for that dimension.
type TargetingRules struct {
	Countries []string `json:"countries,omitempty"`
	Devices   []string `json:"devices,omitempty"` // ios, android, web
	Languages []string `json:"languages,omitempty"`
}

// UTMParams is a set of utm_* values. On a Link it is the link's configured
// UTM, appended to HTTP(S) destinations during parameter appending; on a
// click it holds the utm_* values of the inbound request's query string.
type UTMParams struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// OGPreview carries the Open Graph / Twitter Card fields shown to social
// scrapers and the always-on /preview endpoint.
type OGPreview struct {
	Title       string `json:"og_title,omitempty"`
	Description string `json:"og_description,omitempty"`
	ImageURL    string `json:"og_image_url,omitempty"`
}

// Link is a routing rule: a short code resolves to a device-aware
// destination. Invariants: ShortCode is globally unique; AttributionWindowH
// is in [1, 2160]; OriginURL is non-empty; IsActive=false or an expired
// ExpiresAt makes the link behave as absent.
type Link struct {
	ID             string `json:"id"`
	ShortCode      string `json:"short_code"`
	TemplateID     string `json:"template_id,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	OriginURL      string `json:"origin_url"`

	IOSAppStoreURL    string `json:"ios_app_store_url,omitempty"`
	AndroidPlayURL    string `json:"android_play_store_url,omitempty"`
	WebFallbackURL    string `json:"web_fallback_url,omitempty"`
	IOSUniversalLink  string `json:"ios_universal_link,omitempty"`
	AndroidAppLink    string `json:"android_app_link,omitempty"`

	AppScheme       string            `json:"app_scheme,omitempty"`
	DeepLinkPath    string            `json:"deep_link_path,omitempty"`
	DeepLinkParams  map[string]string `json:"deep_link_parameters,omitempty"`

	OG OGPreview `json:"og"`

	UTM             UTMParams      `json:"utm"`
	Targeting       TargetingRules `json:"targeting_rules"`

	AttributionWindowH int `json:"attribution_window_hours"`

	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the link currently resolves at all, independent of
// targeting: active and not past its absolute expiry.
func (l *Link) Live(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	if l.ExpiresAt != nil && now.After(*l.ExpiresAt) {
		return false
	}
	return true
}

// Template groups links under a URL-safe slug; resolution accepts
// /{slug}/{code} and verifies the pair matches.
type Template struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
