package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
)

// Error codes returned in rejection bodies.
const (
	CodeCredentialMissing      = "credential_missing"
	CodeCredentialInvalid      = "credential_invalid"
	CodeCredentialExpired      = "credential_expired"
	CodeCredentialRevoked      = "credential_revoked"
	CodeTenantIDMissing        = "tenant_id_missing"
	CodeTenantIDInvalid        = "tenant_id_invalid"
	CodeAccessDenied           = "access_denied"
	CodeTenantNotFound         = "tenant_not_found"
	CodeInsufficientRole       = "insufficient_role"
	CodeInsufficientPermission = "insufficient_permission"
	CodeInvalidBody            = "invalid_body"
	CodeBodyTooLarge           = "body_too_large"
	CodeNotFound               = "not_found"
	CodeMethodNotAllowed       = "method_not_allowed"
	CodeInternal               = "internal_error"
)

var errInvalidBody = errors.New("httpapi: request body unreadable")

// Unknown companies and companies the caller has no grant on share this
// message so the response does not reveal which one it was.
const companyUnavailable = "company is not available"

const reauthenticate = "credential rejected; sign in again"

// problemFor maps an error to its HTTP status, code and caller-facing message.
func problemFor(err error) (int, string, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, auth.ErrCredentialMissing):
		return http.StatusUnauthorized, CodeCredentialMissing, "Authorization: Bearer credential required"
	case errors.Is(err, auth.ErrCredentialExpired):
		return http.StatusUnauthorized, CodeCredentialExpired, "credential expired; refresh it and retry"
	case errors.Is(err, auth.ErrCredentialRevoked), errors.Is(err, auth.ErrUserDisabled):
		return http.StatusUnauthorized, CodeCredentialRevoked, reauthenticate
	case errors.Is(err, auth.ErrCredentialInvalid):
		return http.StatusUnauthorized, CodeCredentialInvalid, reauthenticate
	case errors.Is(err, auth.ErrTenantIDMissing):
		return http.StatusBadRequest, CodeTenantIDMissing, "company_id is required in the path, JSON body or query"
	case errors.Is(err, auth.ErrTenantIDInvalid):
		return http.StatusBadRequest, CodeTenantIDInvalid, "company_id must be 1-128 characters of letters, digits, '-' or '_'"
	case errors.Is(err, auth.ErrAccessDenied):
		return http.StatusForbidden, CodeAccessDenied, companyUnavailable
	case errors.Is(err, auth.ErrTenantNotFound):
		return http.StatusNotFound, CodeTenantNotFound, companyUnavailable
	case errors.Is(err, auth.ErrInsufficientRole):
		return http.StatusForbidden, CodeInsufficientRole, "your role does not allow this action"
	case errors.Is(err, auth.ErrInsufficientPermission):
		return http.StatusForbidden, CodeInsufficientPermission, "you do not have permission for this action"
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "request body too large"
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, CodeInvalidBody, "request body could not be read"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error     problem `json:"error"`
	RequestID string  `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="psc"`)
	}
	writeJSON(w, status, errorBody{
		Error:     problem{Code: code, Message: msg},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeProblem renders err using problemFor.
func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := problemFor(err)
	writeError(w, r, status, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
