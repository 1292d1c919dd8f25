package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoff(t *testing.T) {
	d := NewDispatcher(nil, nil, zap.NewNop(), nil, 30*time.Second)
	assert.Equal(t, 1*time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 30*time.Second, d.backoff(6)) // capped at maxBackoff
}

func TestTest_SignsPayloadAndSucceeds(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(headerSignature)
		gotEvent = r.Header.Get(headerEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, zap.NewNop(), nil, 30*time.Second)
	hook := &models.Webhook{ID: "hook-1", URL: srv.URL, Secret: "s3cr3t", TimeoutMS: 2000}

	record := d.Test(hook, models.EventClick, map[string]string{"hello": "world"})

	require.True(t, record.Success)
	assert.Equal(t, 200, record.ResponseStatus)
	assert.Equal(t, models.EventClick, gotEvent)

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(gotBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, gotSig)
}

func TestTest_BodyIsEnvelopeNotRawPayload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, zap.NewNop(), nil, 30*time.Second)
	hook := &models.Webhook{ID: "hook-1", URL: srv.URL, Secret: "s3cr3t", TimeoutMS: 2000}

	record := d.Test(hook, models.EventClick, map[string]string{"hello": "world"})
	require.True(t, record.Success)

	var env envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, models.EventClick, env.Event)
	assert.NotEmpty(t, env.EventID)
	assert.NotEmpty(t, env.Timestamp)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "world", data["hello"])
}

func TestTest_CoreHeadersCannotBeOverridden(t *testing.T) {
	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(headerEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, zap.NewNop(), nil, 30*time.Second)
	hook := &models.Webhook{
		ID: "hook-1", URL: srv.URL, Secret: "s3cr3t", TimeoutMS: 2000,
		Headers: map[string]string{headerEvent: "forged_event"},
	}

	d.Test(hook, models.EventInstall, map[string]string{"a": "b"})
	assert.Equal(t, models.EventInstall, gotEvent)
}

func TestTest_NonOKStatusIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, zap.NewNop(), nil, 30*time.Second)
	hook := &models.Webhook{ID: "hook-1", URL: srv.URL, Secret: "s3cr3t", TimeoutMS: 2000}

	record := d.Test(hook, models.EventClick, nil)
	assert.False(t, record.Success)
	assert.Equal(t, 500, record.ResponseStatus)
}

func TestNewSecret_UniqueAndHex(t *testing.T) {
	a := NewSecret()
	b := NewSecret()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	_, err := hex.DecodeString(a)
	assert.NoError(t, err)
}
