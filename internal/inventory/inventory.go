// Package inventory implements the gateway's client for the Robot
// Inventory external interface: an HTTP collaborator that yields the
// fleet's connection parameters, which the Fleet Registry turns into
// adapter.RobotConfig values.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
)

// Record is one robot as the inventory reports it. Fields beyond what
// the gateway needs are ignored by json.Unmarshal.
type Record struct {
	ID                string           `json:"id"`
	IPAddress         string           `json:"ipAddress"`
	BridgePort        int              `json:"bridgePort"`
	MappingBridgePort int              `json:"mappingBridgePort"`
	Channels          []ChannelRecord  `json:"channels"`
	LaserOffset       *adapter.LaserOffset `json:"laserOffset"`
	TeleopLimits      *adapter.TeleopLimits `json:"teleopLimits"`
}

// ChannelRecord is a channel override as the inventory expresses it.
// A Record with no channels gets the gateway-wide default channel set;
// zero value fields inside a given ChannelRecord are kept as they are.
type ChannelRecord struct {
	Name        string  `json:"name"`
	Topic       string  `json:"topic"`
	MsgType     string  `json:"msgType"`
	Direction   string  `json:"direction"`
	RateLimitHz float64 `json:"rateLimitHz"`
}

// Client fetches the fleet's current Record list over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against the inventory service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// List fetches every robot the inventory currently knows about.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build inventory request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch inventory: unexpected status %d", resp.StatusCode)
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode inventory response: %w", err)
	}
	return records, nil
}
