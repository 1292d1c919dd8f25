// Package geo geolocates IPs for the Click Recorder (spec §4.2), grounded on
// the teacher's internal/targeting/maxmind.go provider and the geoCache
// bounded-map idiom in internal/targeting/targeting.go.
package geo

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
)

// Info is the geo tuple attached to a click event.
type Info struct {
	CountryCode string
	CountryName string
	Region      string
	City        string
	Latitude    float64
	Longitude   float64
	Timezone    string
}

// Provider resolves an IP to geo info.
type Provider interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// staticCountryNames is the small fallback table spec §4.2 calls for:
// common codes map to a readable name; anything else falls back to the
// code itself.
var staticCountryNames = map[string]string{
	"US": "United States", "GB": "United Kingdom", "DE": "Germany",
	"FR": "France", "CA": "Canada", "AU": "Australia", "JP": "Japan",
	"BR": "Brazil", "IN": "India", "CN": "China", "RU": "Russia",
	"ES": "Spain", "IT": "Italy", "NL": "Netherlands", "SE": "Sweden",
	"MX": "Mexico", "KR": "South Korea", "ZA": "South Africa",
}

// CountryName returns the static display name for a country code, falling
// back to the code itself.
func CountryName(code string) string {
	if name, ok := staticCountryNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

// MaxMindProvider implements Provider using a MaxMind GeoLite2-City database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (m *MaxMindProvider) Lookup(ip string) (*Info, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsed)
	if err != nil {
		return nil, err
	}

	info := &Info{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
		Timezone:    record.Location.TimeZone,
	}
	if info.CountryName == "" {
		info.CountryName = CountryName(info.CountryCode)
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	if record.City.Names["en"] != "" {
		info.City = record.City.Names["en"]
	}

	return info, nil
}

func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// cacheEntry is one bounded-TTL slot.
type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

// CachedProvider wraps a Provider with the teacher's bounded map +
// simple-eviction cache shape, so a geolocation isn't re-done for every
// click from the same IP within the TTL window.
type CachedProvider struct {
	inner   Provider
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

func NewCachedProvider(inner Provider, maxSize int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		data:    make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *CachedProvider) Lookup(ip string) (*Info, error) {
	if info, ok := c.get(ip); ok {
		return info, nil
	}

	info, err := c.inner.Lookup(ip)
	if err != nil {
		return nil, err
	}

	c.set(ip, info)
	return info, nil
}

func (c *CachedProvider) Close() error {
	return c.inner.Close()
}

func (c *CachedProvider) get(ip string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.info, true
}

func (c *CachedProvider) set(ip string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &cacheEntry{info: info, expiresAt: time.Now().Add(c.ttl)}
}

// NoopProvider is used when geo lookup is disabled or unavailable; the
// Click Recorder still writes a click row, just without geo fields.
type NoopProvider struct{}

func (NoopProvider) Lookup(ip string) (*Info, error) { return &Info{}, nil }
func (NoopProvider) Close() error                    { return nil }
