package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLinkStore_CreateAndGetByCode(t *testing.T) {
	s := NewInMemoryLinkStore()
	ctx := context.Background()

	link := &models.Link{ID: "link-1", ShortCode: "abc123", OriginURL: "https://example.com", IsActive: true}
	require.NoError(t, s.Create(ctx, link))

	got, err := s.GetByCode(ctx, "", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "link-1", got.ID)

	_, err = s.GetByCode(ctx, "", "nope")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func TestInMemoryLinkStore_DuplicateShortCode(t *testing.T) {
	s := NewInMemoryLinkStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &models.Link{ID: "link-1", ShortCode: "abc123", IsActive: true}))
	err := s.Create(ctx, &models.Link{ID: "link-2", ShortCode: "abc123", IsActive: true})
	assert.True(t, errors.Is(err, apierror.ErrDuplicateShortCode))
}

func TestInMemoryLinkStore_InactiveLinkNotLive(t *testing.T) {
	s := NewInMemoryLinkStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.Link{ID: "link-1", ShortCode: "abc123", IsActive: false}))

	_, err := s.GetByCode(ctx, "", "abc123")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func TestInMemoryLinkStore_TemplateSlugMismatch(t *testing.T) {
	s := NewInMemoryLinkStore()
	ctx := context.Background()
	s.SeedTemplate(&models.Template{ID: "tmpl-1", Slug: "promo"})
	require.NoError(t, s.Create(ctx, &models.Link{ID: "link-1", ShortCode: "abc123", TemplateID: "tmpl-1", IsActive: true}))

	got, err := s.GetByCode(ctx, "promo", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "link-1", got.ID)

	_, err = s.GetByCode(ctx, "wrong-slug", "abc123")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func TestInMemoryEventStore_RecentCandidates(t *testing.T) {
	links := NewInMemoryLinkStore()
	ctx := context.Background()
	require.NoError(t, links.Create(ctx, &models.Link{ID: "link-1", ShortCode: "abc123", IsActive: true, AttributionWindowH: 72}))

	events := NewInMemoryEventStore(links)

	old := &models.ClickEvent{ID: "click-old", LinkID: "link-1", ClickedAt: time.Now().Add(-1000 * time.Hour)}
	recent := &models.ClickEvent{ID: "click-recent", LinkID: "link-1", ClickedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, events.Insert(ctx, old))
	require.NoError(t, events.Insert(ctx, recent))

	require.NoError(t, events.InsertFingerprint(ctx, &models.DeviceFingerprint{ClickID: "click-old", Hash: "h-old"}))
	require.NoError(t, events.InsertFingerprint(ctx, &models.DeviceFingerprint{ClickID: "click-recent", Hash: "h-recent"}))

	candidates, err := events.RecentCandidates(ctx, 10, 100*time.Hour)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "click-recent", candidates[0].Click.ID)
	assert.Equal(t, "abc123", candidates[0].LinkShortCode)
	assert.Equal(t, 72, candidates[0].LinkAttributionWindowH)
}

func TestInMemoryEventStore_RecentCandidatesRespectsLimit(t *testing.T) {
	links := NewInMemoryLinkStore()
	ctx := context.Background()
	require.NoError(t, links.Create(ctx, &models.Link{ID: "link-1", ShortCode: "abc123", IsActive: true}))
	events := NewInMemoryEventStore(links)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, events.Insert(ctx, &models.ClickEvent{ID: id, LinkID: "link-1", ClickedAt: time.Now()}))
		require.NoError(t, events.InsertFingerprint(ctx, &models.DeviceFingerprint{ClickID: id, Hash: "h-" + id}))
	}

	candidates, err := events.RecentCandidates(ctx, 2, time.Hour)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestInMemoryWebhookStore_ListSubscribed(t *testing.T) {
	s := NewInMemoryWebhookStore()
	s.Seed(&models.Webhook{ID: "hook-1", OwnerID: "owner-a", IsActive: true, Events: []string{models.EventClick}})
	s.Seed(&models.Webhook{ID: "hook-2", OwnerID: "owner-a", IsActive: true, Events: []string{models.EventInstall}})
	s.Seed(&models.Webhook{ID: "hook-3", OwnerID: "owner-b", IsActive: true, Events: []string{models.EventClick}})

	hooks, err := s.ListSubscribed(context.Background(), "owner-a", models.EventClick)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "hook-1", hooks[0].ID)
}

func TestInMemoryWebhookDeliveryStore_AppendOnly(t *testing.T) {
	s := NewInMemoryWebhookDeliveryStore()
	require.NoError(t, s.Insert(context.Background(), &models.WebhookDelivery{ID: "d-1"}))
	require.NoError(t, s.Insert(context.Background(), &models.WebhookDelivery{ID: "d-2"}))
	assert.Len(t, s.deliveries, 2)
}
