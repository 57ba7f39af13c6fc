package api

import (
	"encoding/json"
	"net/http"

	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// errorResponse is the wire shape of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError maps a classified error to its HTTP status and writes the
// {error, code} body. Unclassified errors become 500.
func writeError(w http.ResponseWriter, err error) {
	code := cerr.CodeOf(err)
	writeJSON(w, statusOf(code), errorResponse{
		Error: err.Error(),
		Code:  code.String(),
	})
}

// statusOf maps error codes to HTTP statuses.
func statusOf(code cerr.Code) int {
	switch code {
	case cerr.CodeUnknownDevice:
		return http.StatusNotFound
	case cerr.CodeNotConnected, cerr.CodeNotPaired, cerr.CodePairingRejected:
		return http.StatusConflict
	case cerr.CodeInvalidArgument, cerr.CodeMalformedPacket:
		return http.StatusBadRequest
	case cerr.CodeUntrustedPeer, cerr.CodePathTraversal:
		return http.StatusForbidden
	case cerr.CodePairingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a 400 with CodeInvalidArgument.
func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, cerr.New(cerr.CodeInvalidArgument, msg))
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
