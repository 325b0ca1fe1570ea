package httpapi

import (
	"encoding/json"
	"net/http"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps the client error taxonomy onto HTTP statuses.
// Missing resources are 404, credential problems 400, everything else is a
// bad-gateway: the failure sits between this process and the instrument.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case rpc.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case rpc.IsAuth(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusBadGateway, err.Error())
	}
}
