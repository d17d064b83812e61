package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/integrationhub/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"name": "test"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "test", data["name"])
}

func TestCollection(t *testing.T) {
	w := httptest.NewRecorder()
	items := []map[string]string{{"id": "1"}, {"id": "2"}}
	meta := response.NewPaginationMeta(20, 0, 50)

	response.Collection(w, items, meta)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	data := body["data"].([]any)
	assert.Len(t, data, 2)

	m := body["meta"].(map[string]any)
	assert.Equal(t, float64(20), m["limit"])
	assert.Equal(t, float64(0), m["offset"])
	assert.Equal(t, float64(50), m["total"])
	assert.Equal(t, true, m["has_next"])
}

func TestNewPaginationMeta(t *testing.T) {
	tests := []struct {
		name                 string
		limit, offset, total int
		hasNext              bool
	}{
		{"first page of many", 10, 0, 25, true},
		{"middle page", 10, 10, 25, true},
		{"last page", 10, 20, 25, false},
		{"exact fit", 10, 0, 10, false},
		{"empty", 50, 0, 0, false},
		{"offset past end", 10, 40, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := response.NewPaginationMeta(tt.limit, tt.offset, tt.total)
			assert.Equal(t, tt.hasNext, m.HasNext)
			assert.Equal(t, tt.limit, m.Limit)
			assert.Equal(t, tt.offset, m.Offset)
			assert.Equal(t, tt.total, m.Total)
		})
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "UNKNOWN_CONNECTOR", "Unknown connector: nope", map[string]string{
		"connector_name": "nope",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "UNKNOWN_CONNECTOR", errObj["code"])
	assert.Equal(t, "Unknown connector: nope", errObj["message"])
	assert.Equal(t, map[string]any{"connector_name": "nope"}, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "JOB_NOT_FOUND", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}

func TestInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	response.InternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, response.CodeInternal, body["error"]["code"])
	assert.Equal(t, "An unexpected error occurred", body["error"]["message"])
	assert.NotContains(t, body["error"], "details")
}
