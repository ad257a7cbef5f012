package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// problem mirrors adminapi.Problem for decoding error responses without
// importing the daemon's internal packages from the CLI module.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// errRequestFailed wraps a non-2xx admin API response.
var errRequestFailed = errors.New("admin api request failed")

// adminGet issues a GET request and decodes a JSON response into out.
func adminGet(path string, out any) error {
	resp, err := httpClient.Get(adminURL(path))
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// adminPost marshals body as JSON, POSTs it, and decodes the JSON response into out.
func adminPost(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	resp, err := httpClient.Post(adminURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse decodes a successful JSON response, or turns a problem+json
// error body into a descriptive error.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)

		var p problem
		if json.Unmarshal(data, &p) == nil && p.Detail != "" {
			return fmt.Errorf("%w: %s (%d)", errRequestFailed, p.Detail, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", errRequestFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
