package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// TenantParam names the path parameter, JSON field and query parameter that
// carry the tenant id.
const TenantParam = "company_id"

// TenantIDFromRequest returns the raw tenant id of r. Sources are tried in
// order and the first non-empty one wins:
//
//  1. the {company_id} path parameter
//  2. the "company_id" field of a JSON object body (string or number)
//  3. the company_id query parameter
//
// The body is read at most limit bytes and is left in place for the handler.
// A body that is not a JSON object is skipped, not rejected.
func TenantIDFromRequest(r *http.Request, limit int64) (string, error) {
	if id := strings.TrimSpace(chi.URLParam(r, TenantParam)); id != "" {
		return id, nil
	}
	id, err := tenantIDFromBody(r, limit)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return strings.TrimSpace(r.URL.Query().Get(TenantParam)), nil
}

func tenantIDFromBody(r *http.Request, limit int64) (string, error) {
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if int64(len(data)) > limit {
		return "", &http.MaxBytesError{Limit: limit}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil
	}
	raw, ok := payload[TenantParam]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	return "", nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
