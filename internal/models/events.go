package models

import "time"

// ===========================================
// CLICK EVENT
// ===========================================

// ClickEvent is immutable once inserted (P2).
type ClickEvent struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"link_id"`
	ClickedAt time.Time `json:"clicked_at"`

	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	DeviceClass string `json:"device_class"` // ios, android, web
	Platform    string `json:"platform,omitempty"`

	GeoCountryCode string  `json:"geo_country_code,omitempty"`
	GeoCountryName string  `json:"geo_country_name,omitempty"`
	GeoRegion      string  `json:"geo_region,omitempty"`
	GeoCity        string  `json:"geo_city,omitempty"`
	GeoLat         float64 `json:"geo_lat,omitempty"`
	GeoLong        float64 `json:"geo_long,omitempty"`
	GeoTimezone    string  `json:"geo_timezone,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	Referer string `json:"referer,omitempty"`

	RedirectURL string `json:"redirect_url,omitempty"`
	ReasonCode  string `json:"reason_code,omitempty"`
}

// ===========================================
// DEVICE FINGERPRINT
// ===========================================

// FingerprintSignals is the raw signal bundle used both for scoring a
// candidate and for the canonical hash input.
type FingerprintSignals struct {
	IP              string `json:"ip,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	Language        string `json:"language,omitempty"`
	ScreenWidth     int    `json:"screen_width,omitempty"`
	ScreenHeight    int    `json:"screen_height,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
}

// DeviceFingerprint is 1:1 with a ClickEvent (P3).
type DeviceFingerprint struct {
	ID      string `json:"id"`
	ClickID string `json:"click_id"`
	Hash    string `json:"fingerprint_hash"`
	FingerprintSignals
	CreatedAt time.Time `json:"created_at"`
}

// ===========================================
// INSTALL EVENT
// ===========================================

// InstallEvent is mutable exactly once, to attach the deep-link payload once
// attribution resolves it.
type InstallEvent struct {
	ID     string `json:"id"`
	LinkID string `json:"link_id,omitempty"`

	ClickID         string `json:"click_id,omitempty"`
	FingerprintHash string `json:"fingerprint_hash"`

	ConfidenceScore int      `json:"confidence_score"`
	MatchedFactors  []string `json:"matched_factors,omitempty"`

	InstalledAt        time.Time `json:"installed_at"`
	FirstOpenAt         time.Time `json:"first_open_at"`
	AttributionWindowH  int       `json:"attribution_window_hours_used"`

	DeviceID string `json:"device_id,omitempty"`
	FingerprintSignals

	DeepLinkPayload map[string]interface{} `json:"deep_link_data,omitempty"`
	Retrieved       bool                   `json:"retrieved"`
}

// Attributed reports whether the install matched a click.
func (i *InstallEvent) Attributed() bool {
	return i.LinkID != "" && i.ClickID != ""
}

// ===========================================
// IN-APP EVENT
// ===========================================

// InAppEvent is immutable, a child of an InstallEvent.
type InAppEvent struct {
	ID         string                 `json:"id"`
	InstallID  string                 `json:"install_id"`
	Name       string                 `json:"event_name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	OccurredAt time.Time              `json:"event_timestamp"`
}
