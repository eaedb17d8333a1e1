package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// Request header and query parameter names that carry credentials.
const (
	HeaderAPIKey  = "X-API-Key"
	HeaderAppName = "App-Name"
	ParamAPIKey   = "api_key"
	ParamAppName  = "app_name"

	// DefaultMaxBodySize applies when no positive limit is configured.
	DefaultMaxBodySize = 1 << 20
)

// ErrBodyTooLarge is returned when a request body exceeds the configured
// limit while searching it for an application name.
var ErrBodyTooLarge = errors.New("request body too large")

// ExtractKey returns the API key from the X-API-Key header, else the
// api_key query parameter.
func ExtractKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	return r.URL.Query().Get(ParamAPIKey)
}

// ExtractAppName returns the application name from the App-Name header,
// else the app_name query parameter, else the app_name field of a JSON
// body. The body is read at most once and restored so downstream handlers
// can read it again.
func ExtractAppName(r *http.Request, maxBodySize int64) (string, error) {
	if v := r.Header.Get(HeaderAppName); v != "" {
		return v, nil
	}
	if v := r.URL.Query().Get(ParamAppName); v != "" {
		return v, nil
	}
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r) {
		return "", nil
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	r.Body.Close()
	if err != nil {
		return "", fmt.Errorf("read request body: %w", err)
	}
	if int64(len(buf)) > maxBodySize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxBodySize)
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))

	var body struct {
		AppName string `json:"app_name"`
	}
	// A body that is not a JSON object simply carries no name.
	if err := json.Unmarshal(buf, &body); err != nil {
		return "", nil
	}
	return body.AppName, nil
}

// isJSON reports whether the request declares a JSON body. A missing
// Content-Type is treated as JSON.
func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}
