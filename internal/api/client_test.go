package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/ctslice/internal/errs"
)

type staticHeaders string

func (s staticHeaders) AddHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(s))
}

func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "scan.nii", header.Filename)
		assert.Equal(t, "volume", string(data))

		_ = json.NewEncoder(w).Encode(map[string]any{"uuid": "abc", "num_slices": 10})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second, staticHeaders("tok"))
	result, err := c.UploadFile(context.Background(), "scan.nii", strings.NewReader("volume"))
	require.NoError(t, err)
	assert.Equal(t, UploadResult{UUID: "abc", NumSlices: 10}, result)
}

func TestFetchSlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/slice", r.URL.Path)
		var req sliceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, sliceRequest{UUIDFile: "abc", NumImages: 3}, req)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, nil)
	data, err := c.FetchSlice(context.Background(), "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestFetchSliceEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, nil)
	data, err := c.FetchSlice(context.Background(), "abc", 3)
	assert.Nil(t, data)
	assert.True(t, errs.IsTransport(err))
	assert.ErrorIs(t, err, errEmptyBody)
}

func TestNonSuccessIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, nil)

	_, err := c.FetchSlice(context.Background(), "abc", 1)
	require.Error(t, err)
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Contains(t, te.Error(), "file not found")

	err = c.SaveToProfile(context.Background(), "abc", 1)
	assert.True(t, errs.IsTransport(err))
}

func TestUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, time.Second, nil)
	_, err := c.UploadFile(context.Background(), "scan.nii", strings.NewReader("x"))
	assert.True(t, errs.IsTransport(err))
}

func TestMalformedUploadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"num_slices": 4}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, nil)
	_, err := c.UploadFile(context.Background(), "scan.nii", strings.NewReader("x"))
	assert.True(t, errs.IsTransport(err))
}
