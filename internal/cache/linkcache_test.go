package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_BareAndSlugScoped(t *testing.T) {
	assert.Equal(t, "link:abc123", Key("", "abc123"))
	assert.Equal(t, "link:promo:abc123", Key("promo", "abc123"))
}

func TestNilCache_AlwaysMisses(t *testing.T) {
	var c *LinkCache
	link, ok := c.Get(context.Background(), Key("", "abc123"))
	assert.False(t, ok)
	assert.Nil(t, link)

	// Set/Invalidate on a nil cache must not panic.
	assert.NotPanics(t, func() {
		c.Set(context.Background(), Key("", "abc123"), nil)
		c.Invalidate(context.Background(), "", "abc123")
	})
}

func TestCacheWithNilClient_AlwaysMisses(t *testing.T) {
	c := New(nil, 300, nil)
	link, ok := c.Get(context.Background(), Key("", "abc123"))
	assert.False(t, ok)
	assert.Nil(t, link)

	assert.NotPanics(t, func() {
		c.Set(context.Background(), Key("", "abc123"), nil)
		c.Invalidate(context.Background(), "", "abc123")
	})
}
