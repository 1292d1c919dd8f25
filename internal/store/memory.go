package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/models"
)

// InMemoryLinkStore is a thread-safe in-memory LinkStore, used as the
// fallback when no database connection is configured and for unit tests,
// mirroring the teacher's InMemoryCampaignRepo copy-on-write pattern.
type InMemoryLinkStore struct {
	mu        sync.RWMutex
	byID      map[string]*models.Link
	byCode    map[string]string // short_code -> id
	templates map[string]*models.Template
}

func NewInMemoryLinkStore() *InMemoryLinkStore {
	return &InMemoryLinkStore{
		byID:      make(map[string]*models.Link),
		byCode:    make(map[string]string),
		templates: make(map[string]*models.Template),
	}
}

func (s *InMemoryLinkStore) SeedTemplate(t *models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *InMemoryLinkStore) GetByCode(ctx context.Context, templateSlug, code string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	link, ok := s.byID[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}

	if templateSlug != "" {
		tmpl, ok := s.templates[link.TemplateID]
		if !ok || tmpl.Slug != templateSlug {
			return nil, apierror.ErrNotFound
		}
	}

	if !link.Live(time.Now()) {
		return nil, apierror.ErrNotFound
	}

	cp := *link
	return &cp, nil
}

func (s *InMemoryLinkStore) GetByID(ctx context.Context, id string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byID[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *InMemoryLinkStore) Create(ctx context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCode[link.ShortCode]; exists {
		return apierror.ErrDuplicateShortCode
	}
	cp := *link
	s.byID[link.ID] = &cp
	s.byCode[link.ShortCode] = link.ID
	return nil
}

func (s *InMemoryLinkStore) Update(ctx context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[link.ID]; !ok {
		return apierror.ErrNotFound
	}
	cp := *link
	s.byID[link.ID] = &cp
	s.byCode[link.ShortCode] = link.ID
	return nil
}

func (s *InMemoryLinkStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.byID[id]
	if !ok {
		return apierror.ErrNotFound
	}
	delete(s.byCode, link.ShortCode)
	delete(s.byID, id)
	return nil
}

// InMemoryTemplateStore is a thread-safe in-memory TemplateStore.
type InMemoryTemplateStore struct {
	mu       sync.RWMutex
	byID     map[string]*models.Template
	bySlug   map[string]string
}

func NewInMemoryTemplateStore() *InMemoryTemplateStore {
	return &InMemoryTemplateStore{
		byID:   make(map[string]*models.Template),
		bySlug: make(map[string]string),
	}
}

func (s *InMemoryTemplateStore) Seed(t *models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
	s.bySlug[t.Slug] = t.ID
}

func (s *InMemoryTemplateStore) GetBySlug(ctx context.Context, slug string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySlug[slug]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemoryTemplateStore) GetByID(ctx context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// InMemoryEventStore backs ClickStore, FingerprintStore, InstallStore and
// InAppEventStore together, mirroring the teacher's InMemoryEventStore
// (internal/storage/event_store.go) which likewise groups the related
// append-only event tables behind one struct.
type InMemoryEventStore struct {
	mu           sync.RWMutex
	clicks       map[string]*models.ClickEvent
	clicksByLink map[string][]string // link_id -> click ids, insertion order
	links        map[string]*models.Link
	fingerprints map[string]*models.DeviceFingerprint // keyed by click id
	installs     map[string]*models.InstallEvent
	installsByFP map[string]string // fingerprint hash -> install id (latest)
	inAppEvents  map[string][]*models.InAppEvent
}

func NewInMemoryEventStore(links *InMemoryLinkStore) *InMemoryEventStore {
	return &InMemoryEventStore{
		clicks:       make(map[string]*models.ClickEvent),
		clicksByLink: make(map[string][]string),
		links:        links.byID,
		fingerprints: make(map[string]*models.DeviceFingerprint),
		installs:     make(map[string]*models.InstallEvent),
		installsByFP: make(map[string]string),
		inAppEvents:  make(map[string][]*models.InAppEvent),
	}
}

func (s *InMemoryEventStore) Insert(ctx context.Context, click *models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *click
	s.clicks[click.ID] = &cp
	s.clicksByLink[click.LinkID] = append(s.clicksByLink[click.LinkID], click.ID)
	return nil
}

func (s *InMemoryEventStore) GetByID(ctx context.Context, id string) (*models.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clicks[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryEventStore) RecentCandidates(ctx context.Context, limit int, maxAge time.Duration) ([]CandidateClick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	candidates := make([]CandidateClick, 0, len(s.clicks))
	for _, c := range s.clicks {
		if c.ClickedAt.Before(cutoff) {
			continue
		}
		fp, ok := s.fingerprints[c.ID]
		if !ok {
			continue
		}
		link, ok := s.links[c.LinkID]
		if !ok {
			continue
		}
		candidates = append(candidates, CandidateClick{
			Click:                  *c,
			Fingerprint:            fp.FingerprintSignals,
			FingerprintHash:        fp.Hash,
			LinkShortCode:          link.ShortCode,
			LinkAttributionWindowH: link.AttributionWindowH,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Click.ClickedAt.After(candidates[j].Click.ClickedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *InMemoryEventStore) InsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fp
	s.fingerprints[fp.ClickID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetFingerprintByClickID(ctx context.Context, clickID string) (*models.DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fingerprints[clickID]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *fp
	return &cp, nil
}

func (s *InMemoryEventStore) InsertInstall(ctx context.Context, install *models.InstallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *install
	s.installs[install.ID] = &cp
	s.installsByFP[install.FingerprintHash] = install.ID
	return nil
}

func (s *InMemoryEventStore) UpdateInstall(ctx context.Context, install *models.InstallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installs[install.ID]; !ok {
		return apierror.ErrNotFound
	}
	cp := *install
	s.installs[install.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetInstallByID(ctx context.Context, id string) (*models.InstallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.installs[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *InMemoryEventStore) GetInstallByFingerprintHash(ctx context.Context, hash string) (*models.InstallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.installsByFP[hash]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *s.installs[id]
	return &cp, nil
}

func (s *InMemoryEventStore) InsertInAppEvent(ctx context.Context, event *models.InAppEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.inAppEvents[event.InstallID] = append(s.inAppEvents[event.InstallID], &cp)
	return nil
}

// clickStoreAdapter, fingerprintStoreAdapter, installStoreAdapter and
// inAppEventStoreAdapter narrow InMemoryEventStore to each single-purpose
// interface so the rest of the core depends on the narrow interfaces from
// interfaces.go, not the concrete grouped struct.

type clickStoreAdapter struct{ *InMemoryEventStore }

func (a clickStoreAdapter) Insert(ctx context.Context, c *models.ClickEvent) error {
	return a.InMemoryEventStore.Insert(ctx, c)
}

type fingerprintStoreAdapter struct{ *InMemoryEventStore }

func (a fingerprintStoreAdapter) Insert(ctx context.Context, fp *models.DeviceFingerprint) error {
	return a.InMemoryEventStore.InsertFingerprint(ctx, fp)
}
func (a fingerprintStoreAdapter) GetByClickID(ctx context.Context, clickID string) (*models.DeviceFingerprint, error) {
	return a.InMemoryEventStore.GetFingerprintByClickID(ctx, clickID)
}

type installStoreAdapter struct{ *InMemoryEventStore }

func (a installStoreAdapter) Insert(ctx context.Context, i *models.InstallEvent) error {
	return a.InMemoryEventStore.InsertInstall(ctx, i)
}
func (a installStoreAdapter) Update(ctx context.Context, i *models.InstallEvent) error {
	return a.InMemoryEventStore.UpdateInstall(ctx, i)
}
func (a installStoreAdapter) GetByID(ctx context.Context, id string) (*models.InstallEvent, error) {
	return a.InMemoryEventStore.GetInstallByID(ctx, id)
}
func (a installStoreAdapter) GetByFingerprintHash(ctx context.Context, hash string) (*models.InstallEvent, error) {
	return a.InMemoryEventStore.GetInstallByFingerprintHash(ctx, hash)
}

type inAppEventStoreAdapter struct{ *InMemoryEventStore }

func (a inAppEventStoreAdapter) Insert(ctx context.Context, e *models.InAppEvent) error {
	return a.InMemoryEventStore.InsertInAppEvent(ctx, e)
}

// AsClickStore, AsFingerprintStore, AsInstallStore and AsInAppEventStore
// expose InMemoryEventStore through the narrow interfaces.
func (s *InMemoryEventStore) AsClickStore() ClickStore             { return clickStoreAdapter{s} }
func (s *InMemoryEventStore) AsFingerprintStore() FingerprintStore { return fingerprintStoreAdapter{s} }
func (s *InMemoryEventStore) AsInstallStore() InstallStore         { return installStoreAdapter{s} }
func (s *InMemoryEventStore) AsInAppEventStore() InAppEventStore   { return inAppEventStoreAdapter{s} }

// InMemoryWebhookStore is a thread-safe in-memory WebhookStore.
type InMemoryWebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*models.Webhook
}

func NewInMemoryWebhookStore() *InMemoryWebhookStore {
	return &InMemoryWebhookStore{webhooks: make(map[string]*models.Webhook)}
}

func (s *InMemoryWebhookStore) Seed(w *models.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = w
}

func (s *InMemoryWebhookStore) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, apierror.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *InMemoryWebhookStore) ListSubscribed(ctx context.Context, ownerID, event string) ([]*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ownerID == "" {
		return nil, nil
	}
	var out []*models.Webhook
	for _, w := range s.webhooks {
		if w.OwnerID == ownerID && w.Subscribes(event) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryWebhookDeliveryStore is a thread-safe append-only delivery log.
type InMemoryWebhookDeliveryStore struct {
	mu         sync.Mutex
	deliveries []*models.WebhookDelivery
}

func NewInMemoryWebhookDeliveryStore() *InMemoryWebhookDeliveryStore {
	return &InMemoryWebhookDeliveryStore{}
}

func (s *InMemoryWebhookDeliveryStore) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}
