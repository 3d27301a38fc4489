package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// maxBodyBytes caps a /render request body. Scripts are small; anything
// larger is a client error.
const maxBodyBytes int64 = 4 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeJSONBody decodes r's body into dst. An empty body leaves dst as is.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// respondJSON writes payload with the given status.
func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response.", zap.Error(err))
	}
}
