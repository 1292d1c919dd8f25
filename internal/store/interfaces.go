// Package store defines and implements persistence for the core's data
// model (spec §3), grounded on the teacher's internal/storage package: the
// context-based repository interfaces in internal/storage/interfaces.go,
// the pgx/v5 query style in internal/storage/storage-postgres-advertiser.go,
// and the sync.RWMutex in-memory repos throughout internal/storage.
package store

import (
	"context"
	"time"

	"github.com/linkforty/linkforty-core/internal/models"
)

// LinkStore persists Link rows. GetByCode enforces the store-side filter
// spec §4.1 requires: active AND (expires_at IS NULL OR expires_at > now()).
// With a non-empty templateSlug it additionally verifies the link's
// template matches, returning ErrNotFound otherwise.
type LinkStore interface {
	GetByCode(ctx context.Context, templateSlug, code string) (*models.Link, error)
	GetByID(ctx context.Context, id string) (*models.Link, error)
	Create(ctx context.Context, link *models.Link) error
	Update(ctx context.Context, link *models.Link) error
	Delete(ctx context.Context, id string) error
}

// TemplateStore persists Template rows.
type TemplateStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Template, error)
	GetByID(ctx context.Context, id string) (*models.Template, error)
}

// ClickStore persists ClickEvent rows (append-only, P2).
type ClickStore interface {
	Insert(ctx context.Context, click *models.ClickEvent) error
	GetByID(ctx context.Context, id string) (*models.ClickEvent, error)
	// RecentCandidates returns the most recent clicks (joined conceptually to
	// their fingerprints and links), newest first, bounded by limit and by
	// maxAge — the candidate query of spec §4.3.
	RecentCandidates(ctx context.Context, limit int, maxAge time.Duration) ([]CandidateClick, error)
}

// CandidateClick is one row of the attribution candidate query: a click,
// its fingerprint signals, and its link's attribution window.
type CandidateClick struct {
	Click                  models.ClickEvent
	Fingerprint            models.FingerprintSignals
	FingerprintHash        string
	LinkShortCode          string
	LinkAttributionWindowH int
}

// FingerprintStore persists DeviceFingerprint rows (1:1 with a click, P3).
type FingerprintStore interface {
	Insert(ctx context.Context, fp *models.DeviceFingerprint) error
	GetByClickID(ctx context.Context, clickID string) (*models.DeviceFingerprint, error)
}

// InstallStore persists InstallEvent rows.
type InstallStore interface {
	Insert(ctx context.Context, install *models.InstallEvent) error
	Update(ctx context.Context, install *models.InstallEvent) error
	GetByID(ctx context.Context, id string) (*models.InstallEvent, error)
	GetByFingerprintHash(ctx context.Context, hash string) (*models.InstallEvent, error)
}

// InAppEventStore persists InAppEvent rows.
type InAppEventStore interface {
	Insert(ctx context.Context, event *models.InAppEvent) error
}

// WebhookStore reads webhook configuration (CRUD over webhooks is the
// external collaborator per spec §1; the core only needs lookups by event
// subscription).
type WebhookStore interface {
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	ListSubscribed(ctx context.Context, ownerID, event string) ([]*models.Webhook, error)
}

// WebhookDeliveryStore appends delivery attempt records (SPEC_FULL.md §C).
type WebhookDeliveryStore interface {
	Insert(ctx context.Context, delivery *models.WebhookDelivery) error
}
