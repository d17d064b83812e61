package handler

import (
	"net/http"

	"github.com/kiranshivaraju/integrationhub/internal/api/response"
)

// NewListConnectorsHandler returns an http.HandlerFunc for GET /api/v1/connectors.
func NewListConnectorsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]any{"connectors": svc.Connectors()})
	}
}
