package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// validate checks decoded request bodies. Field names in messages are the
// JSON names the client sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeServiceError maps a service error onto its HTTP status and reason.
// Errors that are not service outcomes become 500 with the fallback prefix.
func writeServiceError(w http.ResponseWriter, err error, fallbackMsg string) {
	status := statusFor(err)
	reason := service.Reason(err)
	if reason == "" {
		writeError(w, status, fallbackMsg+": "+err.Error())
		return
	}
	writeError(w, status, err.Error(), map[string]interface{}{"reason": reason})
}

// statusFor returns the HTTP status for a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInactive),
		errors.Is(err, service.ErrOwnerMismatch),
		errors.Is(err, service.ErrExpired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeRequest reads and validates a JSON body, writing a 400 invalid_input
// error and returning false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := readJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(),
			map[string]interface{}{"reason": model.ReasonInvalidInput})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err),
			map[string]interface{}{"reason": model.ReasonInvalidInput})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// keyFromRequest returns the key named param from the query string, falling
// back to a JSON body field of the same name.
func keyFromRequest(r *http.Request, param string) string {
	if v := strings.TrimSpace(queryString(r, param)); v != "" {
		return v
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var body map[string]interface{}
	if err := readJSON(r, &body); err != nil {
		return ""
	}
	s, _ := body[param].(string)
	return strings.TrimSpace(s)
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}
