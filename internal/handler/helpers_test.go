package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/toolboxhq/keygate/internal/service"
)

// ---------------------------------------------------------------------------
// queryString tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want string
	}{
		{"returns value", "/test?email=a@example.com", "email", "a@example.com"},
		{"returns empty for missing", "/test", "email", ""},
		{"returns empty for empty value", "/test?email=", "email", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := queryString(r, tt.key); got != tt.want {
				t.Errorf("queryString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// keyFromRequest tests
// ---------------------------------------------------------------------------

func TestKeyFromRequest(t *testing.T) {
	tests := []struct {
		name string
		url  string
		body string
		want string
	}{
		{"query wins", "/revoke?license_key=Q", `{"license_key":"B"}`, "Q"},
		{"body fallback", "/revoke", `{"license_key":"B"}`, "B"},
		{"trimmed", "/revoke?license_key=%20Q%20", "", "Q"},
		{"missing", "/revoke", "", ""},
		{"bad body", "/revoke", `{`, ""},
		{"wrong type", "/revoke", `{"license_key":7}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r *http.Request
			if tt.body == "" {
				r = httptest.NewRequest("POST", tt.url, nil)
			} else {
				r = httptest.NewRequest("POST", tt.url, strings.NewReader(tt.body))
			}
			if got := keyFromRequest(r, "license_key"); got != tt.want {
				t.Errorf("keyFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeError / writeServiceError tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "Invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	body := w.Body.String()
	for _, want := range []string{`"success":false`, `"code":400`, `"message":"Invalid input"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in body: %s", want, body)
		}
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{service.ErrNotFound, http.StatusNotFound, "not_found"},
		{service.ErrInactive, http.StatusForbidden, "inactive"},
		{service.ErrOwnerMismatch, http.StatusForbidden, "owner_mismatch"},
		{service.ErrExpired, http.StatusForbidden, "expired"},
		{fmt.Errorf("%w: email is required", service.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err, "Failed")
			assertStatus(t, w, tt.status)

			var body errorBody
			decodeJSON(t, w, &body)
			got, _ := body.Error.Context["reason"].(string)
			if got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestValidationMessage(t *testing.T) {
	req := generateLicenseRequest{Name: strings.Repeat("x", 201)}
	msg := validationMessage(validate.Struct(req))
	if !strings.Contains(msg, "email is required") {
		t.Errorf("message %q does not name the json field", msg)
	}
	if !strings.Contains(msg, "name must be at most 200") {
		t.Errorf("message %q does not report the length cap", msg)
	}
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, `"hello":"world"`) {
		t.Errorf("expected JSON body, got: %s", body)
	}
}
