package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/linkforty/linkforty-core/internal/apierror"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLinkRow implements scannable with the exact dest order and types
// scanLink expects, so it exercises the real scan/unmarshal logic without a
// live pgxpool connection.
type fakeLinkRow struct {
	id, shortCode, templateID, ownerID, originURL                    string
	iosAppStoreURL, androidPlayURL, webFallbackURL                   *string
	iosUniversalLink, androidAppLink, appScheme, deepLinkPath         *string
	deepLinkParams, og, utm, targeting                                []byte
	attributionWindowH                                                int
	isActive                                                          bool
	expiresAt                                                         *time.Time
	createdAt, updatedAt                                              time.Time
}

func (r *fakeLinkRow) Scan(dest ...interface{}) error {
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.shortCode
	*dest[2].(*string) = r.templateID
	*dest[3].(*string) = r.ownerID
	*dest[4].(*string) = r.originURL
	*dest[5].(**string) = r.iosAppStoreURL
	*dest[6].(**string) = r.androidPlayURL
	*dest[7].(**string) = r.webFallbackURL
	*dest[8].(**string) = r.iosUniversalLink
	*dest[9].(**string) = r.androidAppLink
	*dest[10].(**string) = r.appScheme
	*dest[11].(**string) = r.deepLinkPath
	*dest[12].(*[]byte) = r.deepLinkParams
	*dest[13].(*[]byte) = r.og
	*dest[14].(*[]byte) = r.utm
	*dest[15].(*[]byte) = r.targeting
	*dest[16].(*int) = r.attributionWindowH
	*dest[17].(*bool) = r.isActive
	*dest[18].(**time.Time) = r.expiresAt
	*dest[19].(*time.Time) = r.createdAt
	*dest[20].(*time.Time) = r.updatedAt
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...interface{}) error { return r.err }

func strPtr(s string) *string { return &s }

func TestScanLink_NullableColumnsAndJSON(t *testing.T) {
	now := time.Now()
	og, _ := json.Marshal(models.OGPreview{Title: "Hello"})
	utm, _ := json.Marshal(models.UTMParams{Source: "newsletter"})
	targeting, _ := json.Marshal(models.TargetingRules{Countries: []string{"US"}})

	row := &fakeLinkRow{
		id: "link-1", shortCode: "abc123", originURL: "https://example.com",
		androidPlayURL: strPtr("https://play.google.com/x"),
		og:             og,
		utm:            utm,
		targeting:      targeting,
		attributionWindowH: 72,
		isActive:           true,
		createdAt:          now,
		updatedAt:          now,
	}

	link, err := scanLink(row)
	require.NoError(t, err)
	assert.Equal(t, "abc123", link.ShortCode)
	assert.Equal(t, "", link.IOSAppStoreURL)
	assert.Equal(t, "https://play.google.com/x", link.AndroidPlayURL)
	assert.Equal(t, "Hello", link.OG.Title)
	assert.Equal(t, "newsletter", link.UTM.Source)
	assert.Nil(t, link.ExpiresAt)
}

func TestScanLink_PropagatesScanError(t *testing.T) {
	_, err := scanLink(errRow{err: errors.New("boom")})
	assert.Error(t, err)
}

type fakeWebhookRow struct {
	id, ownerID, name, url, secret string
	events, headers                []byte
	isActive                       bool
	maxAttempts, timeoutMS         int
	createdAt, updatedAt           time.Time
}

func (r *fakeWebhookRow) Scan(dest ...interface{}) error {
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.ownerID
	*dest[2].(*string) = r.name
	*dest[3].(*string) = r.url
	*dest[4].(*string) = r.secret
	*dest[5].(*[]byte) = r.events
	*dest[6].(*bool) = r.isActive
	*dest[7].(*int) = r.maxAttempts
	*dest[8].(*int) = r.timeoutMS
	*dest[9].(*[]byte) = r.headers
	*dest[10].(*time.Time) = r.createdAt
	*dest[11].(*time.Time) = r.updatedAt
	return nil
}

func TestScanWebhookRow(t *testing.T) {
	events, _ := json.Marshal([]string{"click", "install"})
	headers, _ := json.Marshal(map[string]string{"X-Source": "linkforty"})
	now := time.Now()

	row := &fakeWebhookRow{
		id: "wh-1", ownerID: "owner-1", name: "default", url: "https://hooks.example.com",
		secret: "shh", events: events, headers: headers, isActive: true,
		maxAttempts: 5, timeoutMS: 3000, createdAt: now, updatedAt: now,
	}

	w, err := scanWebhookRow(row)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"click", "install"}, w.Events)
	assert.Equal(t, "linkforty", w.Headers["X-Source"])
	assert.True(t, w.Subscribes("click"))
	assert.False(t, w.Subscribes("uninstall"))
}

func TestNullStringAndDeref(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))

	assert.Equal(t, "", deref(nil))
	s := "y"
	assert.Equal(t, "y", deref(&s))
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	assert.True(t, isUniqueViolation(pgErr))

	other := &pgconn.PgError{Code: "23503"}
	assert.False(t, isUniqueViolation(other))

	assert.False(t, isUniqueViolation(errors.New("plain error")))
}

func TestPostgresStoreConstructorsReturnNonNil(t *testing.T) {
	assert.NotNil(t, NewPostgresLinkStore(nil))
	assert.NotNil(t, NewPostgresTemplateStore(nil))
	assert.NotNil(t, NewPostgresClickStore(nil))
	assert.NotNil(t, NewPostgresFingerprintStore(nil))
	assert.NotNil(t, NewPostgresInstallStore(nil))
	assert.NotNil(t, NewPostgresInAppEventStore(nil))
	assert.NotNil(t, NewPostgresWebhookStore(nil))
	assert.NotNil(t, NewPostgresWebhookDeliveryStore(nil))
}

func TestApierrorNotFoundIsDistinctFromUniqueViolation(t *testing.T) {
	assert.NotEqual(t, apierror.ErrNotFound, apierror.ErrDuplicateShortCode)
}
