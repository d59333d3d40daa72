// Package response writes JSON response bodies.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
)

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// JSON sends data wrapped in {success:true, data}.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	Raw(w, statusCode, Response{Success: true, Data: data})
}

// Raw sends body as-is. Webhook and sync callers parse these bodies
// directly, so they are not wrapped.
func Raw(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// Error sends an error envelope. Errors other than *apierror.Error become 500s.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierror.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write(apiErr.ToJSON())
}

// NoStore marks the response as uncacheable.
func NoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}
