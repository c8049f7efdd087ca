package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrarySearch(t *testing.T) {
	router, _ := newTestRouter(t, []catalogRow{
		{Artist: "Stereolab", Title: "Dots and Loops"},
		{Artist: "Stereolab", Title: "Emperor Tomato Ketchup"},
		{Artist: "Broadcast", Title: "The Noise Made by People"},
	}, nil, "")

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=stereolab", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(2), body["total"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "Stereolab", results[0].(map[string]any)["artist"])
}

func TestLibrarySearch_EmptyResultIsArray(t *testing.T) {
	router, _ := newTestRouter(t, []catalogRow{
		{Artist: "Stereolab", Title: "Dots and Loops"},
	}, nil, "")

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=nonexistentband", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["total"])
	assert.NotNil(t, body["results"], "results must be an empty array, not null")
}

func TestLibrarySearch_Validation(t *testing.T) {
	router, _ := newTestRouter(t, []catalogRow{}, nil, "")

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/library/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=x&limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=x&limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=x&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLibrarySearch_StoreUnavailable(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil, "")

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/library/search?q=stereolab", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
