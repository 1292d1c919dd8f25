// Package useragent derives routing and scoring signals from a User-Agent
// string, grounded on the substring-matching idiom in the teacher's
// internal/dsp/tracking.go parseUserAgent.
package useragent

import "strings"

// Device classes used for routing and targeting (spec §4.1).
const (
	ClassIOS     = "ios"
	ClassAndroid = "android"
	ClassWeb     = "web"
)

// DeviceClass derives {ios, android, web} by case-insensitive substring
// match, exactly as spec §4.1 pins it.
func DeviceClass(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"), strings.Contains(l, "ipod"):
		return ClassIOS
	case strings.Contains(l, "android"):
		return ClassAndroid
	default:
		return ClassWeb
	}
}

// Parsed holds the signals spec §4.2 step 1 asks the Click Recorder to
// derive from the User-Agent.
type Parsed struct {
	DeviceClass     string
	Platform        string
	PlatformVersion string
	Browser         string
}

// Parse extracts {device class, platform name, platform version, browser
// name} from a raw User-Agent header.
func Parse(ua string) Parsed {
	p := Parsed{DeviceClass: DeviceClass(ua)}
	l := strings.ToLower(ua)

	switch {
	case strings.Contains(l, "iphone"):
		p.Platform = "iOS"
	case strings.Contains(l, "ipad"):
		p.Platform = "iOS"
	case strings.Contains(l, "android"):
		p.Platform = "Android"
	case strings.Contains(l, "windows"):
		p.Platform = "Windows"
	case strings.Contains(l, "mac os") || strings.Contains(l, "macintosh"):
		p.Platform = "macOS"
	case strings.Contains(l, "linux"):
		p.Platform = "Linux"
	default:
		p.Platform = "unknown"
	}

	p.PlatformVersion = extractVersion(ua, p.Platform)

	switch {
	case strings.Contains(l, "edg/"):
		p.Browser = "Edge"
	case strings.Contains(l, "opr/") || strings.Contains(l, "opera"):
		p.Browser = "Opera"
	case strings.Contains(l, "chrome"):
		p.Browser = "Chrome"
	case strings.Contains(l, "crios"):
		p.Browser = "Chrome"
	case strings.Contains(l, "firefox"):
		p.Browser = "Firefox"
	case strings.Contains(l, "safari"):
		p.Browser = "Safari"
	default:
		p.Browser = "unknown"
	}

	return p
}

// extractVersion pulls a dotted/underscore version number following the
// platform's known marker token (e.g. "CPU iPhone OS 17_0", "Android 13").
func extractVersion(ua, platform string) string {
	var marker string
	switch platform {
	case "iOS":
		marker = "OS "
	case "Android":
		marker = "Android "
	default:
		return ""
	}

	idx := strings.Index(ua, marker)
	if idx == -1 {
		return ""
	}
	rest := ua[idx+len(marker):]
	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '_' {
			end++
			continue
		}
		break
	}
	version := strings.ReplaceAll(rest[:end], "_", ".")
	return strings.Trim(version, ".")
}

// inAppBrowserPatterns are case-insensitive substrings of User-Agents
// belonging to embedded web views that do not honor Universal Links
// (spec §4.1).
var inAppBrowserPatterns = []string{
	"gsa/", "gmail", "fban", "fbav", "instagram", "twitter",
	"linkedinapp", "micromessenger", "outlook", "yahoomobilemail",
}

// IsInAppBrowser reports whether ua belongs to a known in-app browser.
func IsInAppBrowser(ua string) bool {
	l := strings.ToLower(ua)
	for _, p := range inAppBrowserPatterns {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

// scraperPatterns are case-insensitive substrings identifying social/search
// link-preview crawlers (spec §4.1).
var scraperPatterns = []string{
	"facebookexternalhit", "facebot", "twitterbot", "linkedinbot",
	"slackbot", "discordbot", "telegrambot", "whatsapp", "pinterestbot",
	"skypeuripreview", "googlebot", "bingbot", "ia_archiver",
}

// IsScraper reports whether ua belongs to a known scraper/crawler.
func IsScraper(ua string) bool {
	l := strings.ToLower(ua)
	for _, p := range scraperPatterns {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

// NormalizePlatformToken extracts the attribution-scoring platform token in
// {iPhone, iPad, Android, Windows, Macintosh, Linux}, first match wins, used
// by the Attribution Engine's UA normalization (spec §4.3).
func NormalizePlatformToken(ua string) string {
	tokens := []string{"iPhone", "iPad", "Android", "Windows", "Macintosh", "Linux"}
	for _, t := range tokens {
		if strings.Contains(ua, t) {
			return t
		}
	}
	return ""
}

// NormalizeBrowserToken extracts the attribution-scoring browser token in
// {Chrome, Safari, Firefox, Edge, Opera}, first match wins.
func NormalizeBrowserToken(ua string) string {
	tokens := []string{"Chrome", "Safari", "Firefox", "Edge", "Opera"}
	for _, t := range tokens {
		if strings.Contains(ua, t) {
			return t
		}
	}
	return ""
}

// NormalizeForMatch builds the attribution engine's UA-match key:
// lowercase("platform|browser"), per spec §4.3.
func NormalizeForMatch(ua string) string {
	platform := NormalizePlatformToken(ua)
	browser := NormalizeBrowserToken(ua)
	return strings.ToLower(platform + "|" + browser)
}
