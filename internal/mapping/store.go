package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPStore is the Map Store collaborator reached over HTTP: it POSTs
// each MapRecord as JSON to baseURL, the same request/client idiom
// internal/inventory.Client uses against the Robot Inventory.
type HTTPStore struct {
	baseURL string
	http    *http.Client
}

// NewHTTPStore builds a Store that upserts maps against the service at
// baseURL (e.g. a map-management API's /maps endpoint).
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

type mapUpsertBody struct {
	Name     string         `json:"name"`
	Filename string         `json:"filename"`
	Image    []byte         `json:"image"`
	Metadata map[string]any `json:"metadata"`
	RobotID  string         `json:"robotId"`
	Linked   bool           `json:"linked"`
}

// Upsert POSTs rec to the Map Store, keyed by filename.
func (s *HTTPStore) Upsert(ctx context.Context, rec MapRecord) error {
	body, err := json.Marshal(mapUpsertBody{
		Name:     rec.Name,
		Filename: rec.Filename,
		Image:    rec.Image,
		Metadata: rec.Metadata,
		RobotID:  rec.RobotID,
		Linked:   rec.Linked,
	})
	if err != nil {
		return fmt.Errorf("encode map record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build map upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("upsert map: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upsert map: unexpected status %d", resp.StatusCode)
	}
	return nil
}
