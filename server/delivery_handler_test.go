package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/model"
	"github.com/ecousins25/ogmash-v2/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore 是内存版 BlobStore
type fakeStore struct {
	objects  map[string]fakeObject
	failRead bool
}

type fakeObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]fakeObject)}
}

func (f *fakeStore) put(path string, data []byte, contentType string, lastModified time.Time) {
	f.objects[path] = fakeObject{data: data, contentType: contentType, lastModified: lastModified}
}

func (f *fakeStore) Stat(ctx context.Context, path string) (model.BlobInfo, error) {
	obj, ok := f.objects[path]
	if !ok {
		return model.BlobInfo{}, storage.ErrNotFound
	}
	return model.BlobInfo{
		Path:         path,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
	}, nil
}

func (f *fakeStore) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	if f.failRead {
		return nil, errors.New("store exploded")
	}
	obj, ok := f.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return obj.data[start : end+1], nil
}

func (f *fakeStore) ReadAll(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.failRead {
		return nil, errors.New("store exploded")
	}
	obj, ok := f.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (f *fakeStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.put(path, data, contentType, time.Now())
	return nil
}

func audioTestData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newDeliveryTest(t *testing.T) (*fakeStore, *DeliveryHandler) {
	t.Helper()
	store := newFakeStore()
	store.put("rock/song.mp3", audioTestData(1000), "audio/mpeg", time.Now())
	return store, NewDeliveryHandler(store, &config.Config{ManifestPath: "manifest.json"})
}

func TestServeAudioRangeExactBytes(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
	}{
		{name: "First byte", start: 0, end: 0},
		{name: "Middle slice", start: 100, end: 299},
		{name: "Tail slice", start: 990, end: 999},
		{name: "Whole object", start: 0, end: 999},
	}

	store, handler := newDeliveryTest(t)
	data := store.objects["rock/song.mp3"].data

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", tt.start, tt.end))
			rec := httptest.NewRecorder()

			handler.ServeAudio(rec, req)

			require.Equal(t, http.StatusPartialContent, rec.Code)
			assert.Equal(t, fmt.Sprintf("bytes %d-%d/1000", tt.start, tt.end), rec.Header().Get("Content-Range"))
			assert.Equal(t, fmt.Sprintf("%d", tt.end-tt.start+1), rec.Header().Get("Content-Length"))
			assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
			assert.Equal(t, data[tt.start:tt.end+1], rec.Body.Bytes())
		})
	}
}

func TestServeAudioOpenEndedRange(t *testing.T) {
	_, handler := newDeliveryTest(t)

	req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
	req.Header.Set("Range", "bytes=900-")
	rec := httptest.NewRecorder()

	handler.ServeAudio(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, 100, rec.Body.Len())
}

func TestServeAudioEndClampedToSize(t *testing.T) {
	_, handler := newDeliveryTest(t)

	req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
	req.Header.Set("Range", "bytes=500-5000")
	rec := httptest.NewRecorder()

	handler.ServeAudio(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 500-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, 500, rec.Body.Len())
}

func TestServeAudioFullBody(t *testing.T) {
	store, handler := newDeliveryTest(t)

	req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
	rec := httptest.NewRecorder()

	handler.ServeAudio(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=2592000", rec.Header().Get("Cache-Control"))
	assert.Equal(t, store.objects["rock/song.mp3"].data, rec.Body.Bytes())
}

func TestServeAudioNotFound(t *testing.T) {
	_, handler := newDeliveryTest(t)

	req := httptest.NewRequest(http.MethodGet, "/audio/missing.mp3", nil)
	rec := httptest.NewRecorder()

	handler.ServeAudio(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeAudioUnsatisfiableRange(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "Start beyond size", value: "bytes=1000-1200"},
		{name: "Start after end", value: "bytes=600-200"},
		{name: "Non numeric start", value: "bytes=abc-100"},
		{name: "Non numeric end", value: "bytes=0-xyz"},
		{name: "Missing bytes unit", value: "chunks=0-100"},
		{name: "Negative start", value: "bytes=-50-100"},
	}

	_, handler := newDeliveryTest(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
			req.Header.Set("Range", tt.value)
			rec := httptest.NewRecorder()

			handler.ServeAudio(rec, req)

			require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
			assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
		})
	}
}

func TestServeAudioStoreFailure(t *testing.T) {
	store, handler := newDeliveryTest(t)
	store.failRead = true

	req := httptest.NewRequest(http.MethodGet, "/audio/rock%2Fsong.mp3", nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()

	handler.ServeAudio(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{name: "Explicit range", header: "bytes=0-499", size: 1000, wantStart: 0, wantEnd: 499},
		{name: "Open ended", header: "bytes=500-", size: 1000, wantStart: 500, wantEnd: 999},
		{name: "End clamped", header: "bytes=0-9999", size: 1000, wantStart: 0, wantEnd: 999},
		{name: "Start equals size", header: "bytes=1000-", size: 1000, wantErr: true},
		{name: "Inverted", header: "bytes=9-3", size: 1000, wantErr: true},
		{name: "Garbage", header: "bytes=a-b", size: 1000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := parseRange(tt.header, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, rng.start)
			assert.Equal(t, tt.wantEnd, rng.end)
		})
	}
}
