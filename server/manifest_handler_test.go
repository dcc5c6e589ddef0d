package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManifestTest(t *testing.T, lastModified time.Time) (*fakeStore, *ManifestHandler) {
	t.Helper()

	manifest := model.Manifest{
		GeneratedAt: lastModified,
		Songs: []model.Song{
			{ID: "rock/song.mp3", Path: "rock/song.mp3", Name: "song", Genre: "rock", Version: "1", Size: 1000},
		},
	}
	body, err := json.Marshal(manifest)
	require.NoError(t, err)

	store := newFakeStore()
	store.put("manifest.json", body, "application/json", lastModified)
	return store, NewManifestHandler(store, &config.Config{ManifestPath: "manifest.json"})
}

func TestServeManifest(t *testing.T) {
	lastModified := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	_, handler := newManifestTest(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, weakETag(lastModified), rec.Header().Get("ETag"))
	assert.Equal(t, lastModified.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))

	var manifest model.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	require.Len(t, manifest.Songs, 1)
	assert.Equal(t, "rock", manifest.Songs[0].Genre)
}

func TestServeManifestNotModifiedByETag(t *testing.T) {
	lastModified := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	_, handler := newManifestTest(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	req.Header.Set("If-None-Match", weakETag(lastModified))
	// If-None-Match 命中时 If-Modified-Since 不参与判断
	req.Header.Set("If-Modified-Since", lastModified.Add(-time.Hour).Format(http.TimeFormat))
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	require.Equal(t, http.StatusNotModified, rec.Code)
	assert.Zero(t, rec.Body.Len(), "304 must carry no body")
}

func TestServeManifestStaleETagReturnsBody(t *testing.T) {
	lastModified := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	_, handler := newManifestTest(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	req.Header.Set("If-None-Match", `W/"deadbeef"`)
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())
}

func TestServeManifestNotModifiedBySince(t *testing.T) {
	lastModified := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	_, handler := newManifestTest(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	req.Header.Set("If-Modified-Since", lastModified.Format(http.TimeFormat))
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestServeManifestModifiedSinceOlderCopy(t *testing.T) {
	lastModified := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	_, handler := newManifestTest(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	req.Header.Set("If-Modified-Since", lastModified.Add(-time.Hour).Format(http.TimeFormat))
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeManifestNotFound(t *testing.T) {
	store := newFakeStore()
	handler := NewManifestHandler(store, &config.Config{ManifestPath: "manifest.json"})

	req := httptest.NewRequest(http.MethodGet, "/getMusicList", nil)
	rec := httptest.NewRecorder()

	handler.ServeManifest(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWeakETagDerivedFromTimestamp(t *testing.T) {
	ts := time.Unix(0x68c0ffee, 0)
	assert.Equal(t, `W/"68c0ffee"`, weakETag(ts))
}
