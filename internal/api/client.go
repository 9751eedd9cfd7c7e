package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/strrl/ctslice/internal/errs"
)

var errEmptyBody = errors.New("empty response body")

// UploadResult is what the service returns for an accepted scan
type UploadResult struct {
	UUID      string `json:"uuid"`
	NumSlices int    `json:"num_slices"`
}

// sliceRequest addresses one slice of an uploaded scan
type sliceRequest struct {
	UUIDFile  string `json:"uuid_file"`
	NumImages int    `json:"num_images"`
}

// Client is the contract the core needs from the slice rendering service.
type Client interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (UploadResult, error)
	FetchSlice(ctx context.Context, sessionID string, index int) ([]byte, error)
	SaveToProfile(ctx context.Context, sessionID string, index int) error
}

// HeaderSetter decorates outgoing requests, e.g. with credentials
type HeaderSetter interface {
	AddHeaders(req *http.Request)
}

// HTTPClient talks to the service over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	headers HeaderSetter
}

// NewHTTPClient creates a client for baseURL. headers may be nil.
func NewHTTPClient(baseURL string, timeout time.Duration, headers HeaderSetter) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		headers: headers,
	}
}

// UploadFile posts the scan as multipart field "file".
func (c *HTTPClient) UploadFile(ctx context.Context, name string, r io.Reader) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{}, fmt.Errorf("failed to read scan: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("failed to build upload form: %w", err)
	}

	resp, err := c.do(ctx, "upload", "/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, &errs.TransportError{Op: "upload", Cause: fmt.Errorf("decode response: %w", err)}
	}
	if result.UUID == "" || result.NumSlices < 0 {
		return UploadResult{}, &errs.TransportError{Op: "upload", Cause: fmt.Errorf("malformed response %+v", result)}
	}
	return result, nil
}

// FetchSlice returns the rendered PNG for one slice.
func (c *HTTPClient) FetchSlice(ctx context.Context, sessionID string, index int) ([]byte, error) {
	resp, err := c.postJSON(ctx, "fetch slice", "/slice", sliceRequest{UUIDFile: sessionID, NumImages: index})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransportError{Op: "fetch slice", Cause: err}
	}
	if len(data) == 0 {
		return nil, &errs.TransportError{Op: "fetch slice", Cause: errEmptyBody}
	}
	return data, nil
}

// SaveToProfile stores a slice reference in the user's profile.
func (c *HTTPClient) SaveToProfile(ctx context.Context, sessionID string, index int) error {
	resp, err := c.postJSON(ctx, "save to profile", "/profile/photos", sliceRequest{UUIDFile: sessionID, NumImages: index})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *HTTPClient) postJSON(ctx context.Context, op, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	return c.do(ctx, op, path, "application/json", bytes.NewReader(data))
}

func (c *HTTPClient) do(ctx context.Context, op, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.headers != nil {
		c.headers.AddHeaders(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.TransportError{Op: op, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		var cause error
		if len(bytes.TrimSpace(msg)) > 0 {
			cause = fmt.Errorf("%s", bytes.TrimSpace(msg))
		}
		return nil, &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Cause: cause}
	}
	return resp, nil
}
