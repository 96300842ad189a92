package model

// ErrorResponse is the standard envelope for error responses. Success is
// always false; it is kept so clients that only look at "success" keep working.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error reasons carried in ErrorDetail.Context["reason"].
const (
	ReasonNotFound      = "not_found"
	ReasonInactive      = "inactive"
	ReasonOwnerMismatch = "owner_mismatch"
	ReasonExpired       = "expired"
	ReasonInvalidInput  = "invalid_input"
)
