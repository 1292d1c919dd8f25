package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/models"
)

// PostgresLinkStore implements LinkStore using PostgreSQL, grounded on the
// teacher's PostgresAdvertiserRepo query/scan/wrap idiom.
type PostgresLinkStore struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkStore(pool *pgxpool.Pool) *PostgresLinkStore {
	return &PostgresLinkStore{pool: pool}
}

func (r *PostgresLinkStore) GetByCode(ctx context.Context, templateSlug, code string) (*models.Link, error) {
	var query string
	var args []interface{}
	if templateSlug != "" {
		query = `
			SELECT l.id, l.short_code, l.template_id, l.owner_id, l.origin_url,
			       l.ios_app_store_url, l.android_play_url, l.web_fallback_url,
			       l.ios_universal_link, l.android_app_link, l.app_scheme,
			       l.deep_link_path, l.deep_link_params, l.og, l.utm, l.targeting,
			       l.attribution_window_h, l.is_active, l.expires_at,
			       l.created_at, l.updated_at
			FROM links l JOIN templates t ON t.id = l.template_id
			WHERE l.short_code = $1 AND t.slug = $2
			  AND l.is_active AND (l.expires_at IS NULL OR l.expires_at > now())
		`
		args = []interface{}{code, templateSlug}
	} else {
		query = `
			SELECT id, short_code, template_id, owner_id, origin_url,
			       ios_app_store_url, android_play_url, web_fallback_url,
			       ios_universal_link, android_app_link, app_scheme,
			       deep_link_path, deep_link_params, og, utm, targeting,
			       attribution_window_h, is_active, expires_at,
			       created_at, updated_at
			FROM links
			WHERE short_code = $1
			  AND is_active AND (expires_at IS NULL OR expires_at > now())
		`
		args = []interface{}{code}
	}

	row := r.pool.QueryRow(ctx, query, args...)
	link, err := scanLink(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link by code: %w", err)
	}
	return link, nil
}

func (r *PostgresLinkStore) GetByID(ctx context.Context, id string) (*models.Link, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, short_code, template_id, owner_id, origin_url,
		       ios_app_store_url, android_play_url, web_fallback_url,
		       ios_universal_link, android_app_link, app_scheme,
		       deep_link_path, deep_link_params, og, utm, targeting,
		       attribution_window_h, is_active, expires_at,
		       created_at, updated_at
		FROM links WHERE id = $1
	`, id)
	link, err := scanLink(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link by id: %w", err)
	}
	return link, nil
}

func (r *PostgresLinkStore) Create(ctx context.Context, link *models.Link) error {
	deepLinkParams, err := json.Marshal(link.DeepLinkParams)
	if err != nil {
		return fmt.Errorf("marshal deep_link_params: %w", err)
	}
	og, err := json.Marshal(link.OG)
	if err != nil {
		return fmt.Errorf("marshal og: %w", err)
	}
	utm, err := json.Marshal(link.UTM)
	if err != nil {
		return fmt.Errorf("marshal utm: %w", err)
	}
	targeting, err := json.Marshal(link.Targeting)
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO links (
			id, short_code, template_id, owner_id, origin_url,
			ios_app_store_url, android_play_url, web_fallback_url,
			ios_universal_link, android_app_link, app_scheme,
			deep_link_path, deep_link_params, og, utm, targeting,
			attribution_window_h, is_active, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, link.ID, link.ShortCode, link.TemplateID, link.OwnerID, link.OriginURL,
		nullString(link.IOSAppStoreURL), nullString(link.AndroidPlayURL), nullString(link.WebFallbackURL),
		nullString(link.IOSUniversalLink), nullString(link.AndroidAppLink), nullString(link.AppScheme),
		nullString(link.DeepLinkPath), deepLinkParams, og, utm, targeting,
		link.AttributionWindowH, link.IsActive, link.ExpiresAt, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.ErrDuplicateShortCode
		}
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

func (r *PostgresLinkStore) Update(ctx context.Context, link *models.Link) error {
	deepLinkParams, err := json.Marshal(link.DeepLinkParams)
	if err != nil {
		return fmt.Errorf("marshal deep_link_params: %w", err)
	}
	og, _ := json.Marshal(link.OG)
	utm, _ := json.Marshal(link.UTM)
	targeting, _ := json.Marshal(link.Targeting)

	tag, err := r.pool.Exec(ctx, `
		UPDATE links SET
			origin_url = $2, ios_app_store_url = $3, android_play_url = $4,
			web_fallback_url = $5, ios_universal_link = $6, android_app_link = $7,
			app_scheme = $8, deep_link_path = $9, deep_link_params = $10,
			og = $11, utm = $12, targeting = $13, attribution_window_h = $14,
			is_active = $15, expires_at = $16, updated_at = $17
		WHERE id = $1
	`, link.ID, link.OriginURL, nullString(link.IOSAppStoreURL), nullString(link.AndroidPlayURL),
		nullString(link.WebFallbackURL), nullString(link.IOSUniversalLink), nullString(link.AndroidAppLink),
		nullString(link.AppScheme), nullString(link.DeepLinkPath), deepLinkParams,
		og, utm, targeting, link.AttributionWindowH, link.IsActive, link.ExpiresAt, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.ErrNotFound
	}
	return nil
}

func (r *PostgresLinkStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanLink(row scannable) (*models.Link, error) {
	var l models.Link
	var iosAppStoreURL, androidPlayURL, webFallbackURL *string
	var iosUniversalLink, androidAppLink, appScheme, deepLinkPath *string
	var deepLinkParams, og, utm, targeting []byte

	err := row.Scan(&l.ID, &l.ShortCode, &l.TemplateID, &l.OwnerID, &l.OriginURL,
		&iosAppStoreURL, &androidPlayURL, &webFallbackURL,
		&iosUniversalLink, &androidAppLink, &appScheme,
		&deepLinkPath, &deepLinkParams, &og, &utm, &targeting,
		&l.AttributionWindowH, &l.IsActive, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.IOSAppStoreURL = deref(iosAppStoreURL)
	l.AndroidPlayURL = deref(androidPlayURL)
	l.WebFallbackURL = deref(webFallbackURL)
	l.IOSUniversalLink = deref(iosUniversalLink)
	l.AndroidAppLink = deref(androidAppLink)
	l.AppScheme = deref(appScheme)
	l.DeepLinkPath = deref(deepLinkPath)

	if len(deepLinkParams) > 0 {
		_ = json.Unmarshal(deepLinkParams, &l.DeepLinkParams)
	}
	if len(og) > 0 {
		_ = json.Unmarshal(og, &l.OG)
	}
	if len(utm) > 0 {
		_ = json.Unmarshal(utm, &l.UTM)
	}
	if len(targeting) > 0 {
		_ = json.Unmarshal(targeting, &l.Targeting)
	}

	return &l, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresTemplateStore implements TemplateStore using PostgreSQL.
type PostgresTemplateStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTemplateStore(pool *pgxpool.Pool) *PostgresTemplateStore {
	return &PostgresTemplateStore{pool: pool}
}

func (r *PostgresTemplateStore) GetBySlug(ctx context.Context, slug string) (*models.Template, error) {
	var t models.Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, owner_id, created_at FROM templates WHERE slug = $1
	`, slug).Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template by slug: %w", err)
	}
	return &t, nil
}

func (r *PostgresTemplateStore) GetByID(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, owner_id, created_at FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template by id: %w", err)
	}
	return &t, nil
}

// PostgresClickStore implements ClickStore using PostgreSQL.
type PostgresClickStore struct {
	pool *pgxpool.Pool
}

func NewPostgresClickStore(pool *pgxpool.Pool) *PostgresClickStore {
	return &PostgresClickStore{pool: pool}
}

func (r *PostgresClickStore) Insert(ctx context.Context, c *models.ClickEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO click_events (
			id, link_id, clicked_at, ip, user_agent, device_class, platform,
			geo_country_code, geo_country_name, geo_region, geo_city, geo_lat, geo_long, geo_timezone,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			referer, redirect_url, reason_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, c.ID, c.LinkID, c.ClickedAt, c.IP, c.UserAgent, c.DeviceClass, nullString(c.Platform),
		nullString(c.GeoCountryCode), nullString(c.GeoCountryName), nullString(c.GeoRegion),
		nullString(c.GeoCity), c.GeoLat, c.GeoLong, nullString(c.GeoTimezone),
		nullString(c.UTMSource), nullString(c.UTMMedium), nullString(c.UTMCampaign),
		nullString(c.UTMTerm), nullString(c.UTMContent),
		nullString(c.Referer), nullString(c.RedirectURL), nullString(c.ReasonCode))
	if err != nil {
		return fmt.Errorf("insert click event: %w", err)
	}
	return nil
}

func (r *PostgresClickStore) GetByID(ctx context.Context, id string) (*models.ClickEvent, error) {
	var c models.ClickEvent
	var platform, countryCode, countryName, region, city, timezone *string
	var utmSource, utmMedium, utmCampaign, utmTerm, utmContent, referer, redirectURL, reasonCode *string

	err := r.pool.QueryRow(ctx, `
		SELECT id, link_id, clicked_at, ip, user_agent, device_class, platform,
		       geo_country_code, geo_country_name, geo_region, geo_city, geo_lat, geo_long, geo_timezone,
		       utm_source, utm_medium, utm_campaign, utm_term, utm_content,
		       referer, redirect_url, reason_code
		FROM click_events WHERE id = $1
	`, id).Scan(&c.ID, &c.LinkID, &c.ClickedAt, &c.IP, &c.UserAgent, &c.DeviceClass, &platform,
		&countryCode, &countryName, &region, &city, &c.GeoLat, &c.GeoLong, &timezone,
		&utmSource, &utmMedium, &utmCampaign, &utmTerm, &utmContent,
		&referer, &redirectURL, &reasonCode)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get click event: %w", err)
	}
	c.Platform = deref(platform)
	c.GeoCountryCode, c.GeoCountryName, c.GeoRegion, c.GeoCity = deref(countryCode), deref(countryName), deref(region), deref(city)
	c.GeoTimezone = deref(timezone)
	c.UTMSource, c.UTMMedium, c.UTMCampaign = deref(utmSource), deref(utmMedium), deref(utmCampaign)
	c.UTMTerm, c.UTMContent = deref(utmTerm), deref(utmContent)
	c.Referer, c.RedirectURL, c.ReasonCode = deref(referer), deref(redirectURL), deref(reasonCode)
	return &c, nil
}

func (r *PostgresClickStore) RecentCandidates(ctx context.Context, limit int, maxAge time.Duration) ([]CandidateClick, error) {
	cutoff := time.Now().Add(-maxAge)
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.link_id, c.clicked_at, c.ip, c.user_agent, c.device_class, c.platform,
		       c.redirect_url, c.reason_code,
		       f.hash, f.timezone, f.language, f.screen_width, f.screen_height, f.platform_version,
		       l.short_code, l.attribution_window_h
		FROM click_events c
		JOIN device_fingerprints f ON f.click_id = c.id
		JOIN links l ON l.id = c.link_id
		WHERE c.clicked_at > $1
		ORDER BY c.clicked_at DESC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query attribution candidates: %w", err)
	}
	defer rows.Close()

	var out []CandidateClick
	for rows.Next() {
		var cc CandidateClick
		var platform, redirectURL, reasonCode, timezone, language, platformVersion *string
		if err := rows.Scan(&cc.Click.ID, &cc.Click.LinkID, &cc.Click.ClickedAt, &cc.Click.IP,
			&cc.Click.UserAgent, &cc.Click.DeviceClass, &platform,
			&redirectURL, &reasonCode, &cc.FingerprintHash, &timezone, &language,
			&cc.Fingerprint.ScreenWidth, &cc.Fingerprint.ScreenHeight, &platformVersion,
			&cc.LinkShortCode, &cc.LinkAttributionWindowH); err != nil {
			return nil, fmt.Errorf("scan attribution candidate: %w", err)
		}
		cc.Click.Platform = deref(platform)
		cc.Click.RedirectURL = deref(redirectURL)
		cc.Click.ReasonCode = deref(reasonCode)
		cc.Fingerprint.IP = cc.Click.IP
		cc.Fingerprint.UserAgent = cc.Click.UserAgent
		cc.Fingerprint.Platform = cc.Click.Platform
		cc.Fingerprint.PlatformVersion = deref(platformVersion)
		cc.Fingerprint.Timezone = deref(timezone)
		cc.Fingerprint.Language = deref(language)
		out = append(out, cc)
	}
	return out, rows.Err()
}

// PostgresFingerprintStore implements FingerprintStore using PostgreSQL.
type PostgresFingerprintStore struct {
	pool *pgxpool.Pool
}

func NewPostgresFingerprintStore(pool *pgxpool.Pool) *PostgresFingerprintStore {
	return &PostgresFingerprintStore{pool: pool}
}

func (r *PostgresFingerprintStore) Insert(ctx context.Context, fp *models.DeviceFingerprint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO device_fingerprints (
			id, click_id, hash, ip, user_agent, timezone, language,
			screen_width, screen_height, platform, platform_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, fp.ID, fp.ClickID, fp.Hash, fp.IP, fp.UserAgent, nullString(fp.Timezone), nullString(fp.Language),
		fp.ScreenWidth, fp.ScreenHeight, fp.Platform, fp.PlatformVersion, fp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device fingerprint: %w", err)
	}
	return nil
}

func (r *PostgresFingerprintStore) GetByClickID(ctx context.Context, clickID string) (*models.DeviceFingerprint, error) {
	var fp models.DeviceFingerprint
	var timezone, language *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, click_id, hash, ip, user_agent, timezone, language,
		       screen_width, screen_height, platform, platform_version, created_at
		FROM device_fingerprints WHERE click_id = $1
	`, clickID).Scan(&fp.ID, &fp.ClickID, &fp.Hash, &fp.IP, &fp.UserAgent, &timezone, &language,
		&fp.ScreenWidth, &fp.ScreenHeight, &fp.Platform, &fp.PlatformVersion, &fp.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device fingerprint: %w", err)
	}
	fp.Timezone, fp.Language = deref(timezone), deref(language)
	return &fp, nil
}

// PostgresInstallStore implements InstallStore using PostgreSQL.
type PostgresInstallStore struct {
	pool *pgxpool.Pool
}

func NewPostgresInstallStore(pool *pgxpool.Pool) *PostgresInstallStore {
	return &PostgresInstallStore{pool: pool}
}

func (r *PostgresInstallStore) Insert(ctx context.Context, i *models.InstallEvent) error {
	payload, err := json.Marshal(i.DeepLinkPayload)
	if err != nil {
		return fmt.Errorf("marshal deep_link_payload: %w", err)
	}
	matched, err := json.Marshal(i.MatchedFactors)
	if err != nil {
		return fmt.Errorf("marshal matched_factors: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO install_events (
			id, link_id, click_id, fingerprint_hash, confidence_score, matched_factors,
			installed_at, first_open_at, attribution_window_h, device_id,
			ip, user_agent, timezone, language, screen_width, screen_height,
			platform, platform_version, deep_link_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (fingerprint_hash) DO UPDATE SET
			first_open_at = EXCLUDED.first_open_at,
			device_id = EXCLUDED.device_id
	`, i.ID, nullString(i.LinkID), nullString(i.ClickID), i.FingerprintHash, i.ConfidenceScore, matched,
		i.InstalledAt, i.FirstOpenAt, i.AttributionWindowH, i.DeviceID,
		i.IP, i.UserAgent, nullString(i.Timezone), nullString(i.Language),
		i.ScreenWidth, i.ScreenHeight, i.Platform, i.PlatformVersion, payload)
	if err != nil {
		return fmt.Errorf("insert install event: %w", err)
	}
	return nil
}

func (r *PostgresInstallStore) Update(ctx context.Context, i *models.InstallEvent) error {
	payload, _ := json.Marshal(i.DeepLinkPayload)
	matched, _ := json.Marshal(i.MatchedFactors)
	tag, err := r.pool.Exec(ctx, `
		UPDATE install_events SET
			link_id = $2, click_id = $3, confidence_score = $4, matched_factors = $5,
			first_open_at = $6, device_id = $7, deep_link_payload = $8
		WHERE id = $1
	`, i.ID, nullString(i.LinkID), nullString(i.ClickID), i.ConfidenceScore, matched,
		i.FirstOpenAt, i.DeviceID, payload)
	if err != nil {
		return fmt.Errorf("update install event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.ErrNotFound
	}
	return nil
}

func (r *PostgresInstallStore) GetByID(ctx context.Context, id string) (*models.InstallEvent, error) {
	return r.scanOne(ctx, `
		SELECT id, link_id, click_id, fingerprint_hash, confidence_score, matched_factors,
		       installed_at, first_open_at, attribution_window_h, device_id,
		       ip, user_agent, timezone, language, screen_width, screen_height,
		       platform, platform_version, deep_link_payload
		FROM install_events WHERE id = $1
	`, id)
}

func (r *PostgresInstallStore) GetByFingerprintHash(ctx context.Context, hash string) (*models.InstallEvent, error) {
	return r.scanOne(ctx, `
		SELECT id, link_id, click_id, fingerprint_hash, confidence_score, matched_factors,
		       installed_at, first_open_at, attribution_window_h, device_id,
		       ip, user_agent, timezone, language, screen_width, screen_height,
		       platform, platform_version, deep_link_payload
		FROM install_events WHERE fingerprint_hash = $1
	`, hash)
}

func (r *PostgresInstallStore) scanOne(ctx context.Context, query, arg string) (*models.InstallEvent, error) {
	var i models.InstallEvent
	var linkID, clickID, timezone, language *string
	var matched, payload []byte

	err := r.pool.QueryRow(ctx, query, arg).Scan(&i.ID, &linkID, &clickID, &i.FingerprintHash,
		&i.ConfidenceScore, &matched, &i.InstalledAt, &i.FirstOpenAt, &i.AttributionWindowH,
		&i.DeviceID, &i.IP, &i.UserAgent, &timezone, &language, &i.ScreenWidth, &i.ScreenHeight,
		&i.Platform, &i.PlatformVersion, &payload)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get install event: %w", err)
	}
	i.LinkID, i.ClickID = deref(linkID), deref(clickID)
	i.Timezone, i.Language = deref(timezone), deref(language)
	if len(matched) > 0 {
		_ = json.Unmarshal(matched, &i.MatchedFactors)
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &i.DeepLinkPayload)
	}
	return &i, nil
}

// PostgresInAppEventStore implements InAppEventStore using PostgreSQL.
type PostgresInAppEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresInAppEventStore(pool *pgxpool.Pool) *PostgresInAppEventStore {
	return &PostgresInAppEventStore{pool: pool}
}

func (r *PostgresInAppEventStore) Insert(ctx context.Context, e *models.InAppEvent) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("marshal in-app event properties: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO in_app_events (id, install_id, name, properties, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.InstallID, e.Name, props, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert in-app event: %w", err)
	}
	return nil
}

// PostgresWebhookStore implements WebhookStore using PostgreSQL.
type PostgresWebhookStore struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookStore(pool *pgxpool.Pool) *PostgresWebhookStore {
	return &PostgresWebhookStore{pool: pool}
}

func (r *PostgresWebhookStore) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	return r.scan(ctx, `
		SELECT id, owner_id, name, url, secret, events, is_active, max_attempts,
		       timeout_ms, headers, created_at, updated_at
		FROM webhooks WHERE id = $1
	`, id)
}

func (r *PostgresWebhookStore) ListSubscribed(ctx context.Context, ownerID, event string) ([]*models.Webhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, name, url, secret, events, is_active, max_attempts,
		       timeout_ms, headers, created_at, updated_at
		FROM webhooks
		WHERE owner_id = $1 AND is_active AND events @> $2::jsonb
	`, ownerID, fmt.Sprintf(`["%s"]`, event))
	if err != nil {
		return nil, fmt.Errorf("list subscribed webhooks: %w", err)
	}
	defer rows.Close()

	var out []*models.Webhook
	for rows.Next() {
		w, err := scanWebhookRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresWebhookStore) scan(ctx context.Context, query, id string) (*models.Webhook, error) {
	row := r.pool.QueryRow(ctx, query, id)
	w, err := scanWebhookRow(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func scanWebhookRow(row scannable) (*models.Webhook, error) {
	var w models.Webhook
	var events, headers []byte
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.URL, &w.Secret, &events, &w.IsActive,
		&w.MaxAttempts, &w.TimeoutMS, &headers, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		_ = json.Unmarshal(events, &w.Events)
	}
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &w.Headers)
	}
	return &w, nil
}

// PostgresWebhookDeliveryStore implements WebhookDeliveryStore using
// PostgreSQL as an append-only delivery log.
type PostgresWebhookDeliveryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookDeliveryStore(pool *pgxpool.Pool) *PostgresWebhookDeliveryStore {
	return &PostgresWebhookDeliveryStore{pool: pool}
}

func (r *PostgresWebhookDeliveryStore) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_id, event_type, attempt, success,
			response_status, response_body, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.WebhookID, d.EventID, d.EventType, d.Attempt, d.Success,
		d.ResponseStatus, nullString(d.ResponseBody), nullString(d.Error), d.AttemptedAt)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}
