package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkLive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, (&Link{IsActive: true}).Live(now))
	assert.False(t, (&Link{IsActive: false}).Live(now))
	assert.True(t, (&Link{IsActive: true, ExpiresAt: &future}).Live(now))
	assert.False(t, (&Link{IsActive: true, ExpiresAt: &past}).Live(now))
}

func TestInstallEventAttributed(t *testing.T) {
	assert.False(t, (&InstallEvent{}).Attributed())
	assert.False(t, (&InstallEvent{LinkID: "link-1"}).Attributed())
	assert.True(t, (&InstallEvent{LinkID: "link-1", ClickID: "click-1"}).Attributed())
}

func TestWebhookSubscribes(t *testing.T) {
	w := &Webhook{IsActive: true, Events: []string{EventClick, EventInstall}}
	assert.True(t, w.Subscribes(EventClick))
	assert.True(t, w.Subscribes(EventInstall))
	assert.False(t, w.Subscribes(EventConversion))

	inactive := &Webhook{IsActive: false, Events: []string{EventClick}}
	assert.False(t, inactive.Subscribes(EventClick))
}
