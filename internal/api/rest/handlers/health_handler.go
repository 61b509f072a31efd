package handlers

import (
	"net/http"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/version"
)

// HealthCheck returns a basic health status.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.JSONResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}
