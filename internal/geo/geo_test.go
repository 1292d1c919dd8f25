package geo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	info  *Info
	err   error
}

func (p *countingProvider) Lookup(ip string) (*Info, error) {
	p.calls++
	return p.info, p.err
}
func (p *countingProvider) Close() error { return nil }

func TestCachedProvider_CachesWithinTTL(t *testing.T) {
	inner := &countingProvider{info: &Info{CountryCode: "US"}}
	c := NewCachedProvider(inner, 10, time.Minute)

	info, err := c.Lookup("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "US", info.CountryCode)

	_, err = c.Lookup("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProvider_ExpiresAfterTTL(t *testing.T) {
	inner := &countingProvider{info: &Info{CountryCode: "US"}}
	c := NewCachedProvider(inner, 10, -time.Second) // already expired

	_, _ = c.Lookup("1.2.3.4")
	_, _ = c.Lookup("1.2.3.4")
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_EvictsWhenFull(t *testing.T) {
	inner := &countingProvider{info: &Info{CountryCode: "US"}}
	c := NewCachedProvider(inner, 1, time.Minute)

	_, _ = c.Lookup("1.1.1.1")
	_, _ = c.Lookup("2.2.2.2")
	assert.LessOrEqual(t, len(c.data), 1)
}

func TestCachedProvider_PropagatesInnerError(t *testing.T) {
	inner := &countingProvider{err: errors.New("lookup failed")}
	c := NewCachedProvider(inner, 10, time.Minute)

	_, err := c.Lookup("1.2.3.4")
	assert.Error(t, err)
}

func TestCountryName(t *testing.T) {
	assert.Equal(t, "United States", CountryName("US"))
	assert.Equal(t, "United States", CountryName("us"))
	assert.Equal(t, "ZZ", CountryName("ZZ"))
}

func TestNoopProvider(t *testing.T) {
	p := NoopProvider{}
	info, err := p.Lookup("1.2.3.4")
	require.NoError(t, err)
	assert.NotNil(t, info)
	assert.NoError(t, p.Close())
}
