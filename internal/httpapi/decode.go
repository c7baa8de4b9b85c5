package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
)

const maxDecodeBytes = 1 << 20

// decodeJSON reads r's body into dst, capping it at maxDecodeBytes and
// rejecting unknown fields so typos in request bodies surface immediately.
func decodeJSON(r *http.Request, dst interface{}) error {
	data, err := httputil.ReadAllWithLimit(r.Body, maxDecodeBytes)
	if err != nil {
		return apperr.Validation("body", "request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "malformed request body", err)
	}
	return nil
}
