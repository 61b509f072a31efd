package response

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JSONResponse writes the given data as a JSON response with the specified status code.
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONErrorResponse writes an error and optional detail as a JSON response with the specified status code.
func JSONErrorResponse(w http.ResponseWriter, statusCode int, err, message string) {
	JSONResponse(w, statusCode, ErrorResponse{Error: err, Message: message})
}
