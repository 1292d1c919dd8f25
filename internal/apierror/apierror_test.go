package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not found", body["error"])
}

func TestWriteJSON_ValidationErrorIncludesFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, &ValidationError{Fields: []FieldError{{Field: "url", Message: "required"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	fields := body["fields"].([]interface{})
	require.Len(t, fields, 1)
	first := fields[0].(map[string]interface{})
	assert.Equal(t, "url", first["field"])
}

func TestWriteJSON_UnknownErrorDefaultsToStoreUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, errors.New("some unexpected db failure"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "store unavailable", body["error"])
}

func TestValidationErrorUnwrapsToErrValidation(t *testing.T) {
	verr := &ValidationError{Fields: []FieldError{{Field: "x", Message: "bad"}}}
	assert.True(t, errors.Is(verr, ErrValidation))
}
