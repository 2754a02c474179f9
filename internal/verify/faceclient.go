// Package verify talks to the external face comparison service. The
// service owns the matching algorithm; this client only carries images
// over and maps the response onto a boolean decision.
package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnreadableImage reports that the service could not decode one of the
// submitted images.
var ErrUnreadableImage = errors.New("unreadable image")

// FaceClient calls the face comparison microservice.
type FaceClient struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip short-circuits every comparison to a match,
// for dev environments without the face service.
func New(baseURL string, skip bool) *FaceClient {
	return &FaceClient{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Compare submits the stored reference image and the live capture and
// returns the service's match decision.
func (c *FaceClient) Compare(ctx context.Context, reference, candidate []byte) (bool, error) {
	if c.Skip {
		return true, nil
	}
	if len(reference) == 0 || len(candidate) == 0 {
		return false, fmt.Errorf("%w: empty input", ErrUnreadableImage)
	}

	body, _ := json.Marshal(map[string]string{
		"image_1": base64.StdEncoding.EncodeToString(reference),
		"image_2": base64.StdEncoding.EncodeToString(candidate),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%w: %s", ErrUnreadableImage, string(bodyBytes))
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Match      bool    `json:"match"`
		Similarity float64 `json:"similarity"`
		Threshold  float64 `json:"threshold"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Match, nil
}

// Health checks if the face service is available.
func (c *FaceClient) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
