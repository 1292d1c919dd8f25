package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	androidUA = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Mobile Safari/537.36"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
)

func TestDeviceClass(t *testing.T) {
	assert.Equal(t, ClassIOS, DeviceClass(iPhoneUA))
	assert.Equal(t, ClassAndroid, DeviceClass(androidUA))
	assert.Equal(t, ClassWeb, DeviceClass(desktopUA))
	assert.Equal(t, ClassWeb, DeviceClass(""))
}

func TestParse(t *testing.T) {
	p := Parse(iPhoneUA)
	assert.Equal(t, ClassIOS, p.DeviceClass)
	assert.Equal(t, "iOS", p.Platform)
	assert.Equal(t, "17.0", p.PlatformVersion)
	assert.Equal(t, "Safari", p.Browser)

	p = Parse(androidUA)
	assert.Equal(t, ClassAndroid, p.DeviceClass)
	assert.Equal(t, "Android", p.Platform)
	assert.Equal(t, "13", p.PlatformVersion)
	assert.Equal(t, "Chrome", p.Browser)
}

func TestIsInAppBrowser(t *testing.T) {
	assert.True(t, IsInAppBrowser("Mozilla/5.0 Instagram 123.0"))
	assert.True(t, IsInAppBrowser("FBAN/FBIOS;FBAV/400.0"))
	assert.False(t, IsInAppBrowser(desktopUA))
}

func TestIsScraper(t *testing.T) {
	assert.True(t, IsScraper("facebookexternalhit/1.1"))
	assert.True(t, IsScraper("Twitterbot/1.0"))
	assert.False(t, IsScraper(iPhoneUA))
}

func TestNormalizeForMatch(t *testing.T) {
	a := NormalizeForMatch(iPhoneUA)
	b := NormalizeForMatch("Mozilla/5.0 (iPhone; CPU OS 17_1) Safari/604.1")
	assert.Equal(t, a, b)
	assert.Equal(t, "iphone|safari", a)

	assert.Equal(t, "|", NormalizeForMatch("unrecognizable string"))
}
