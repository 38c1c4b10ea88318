package adapter

import (
	"encoding/json"
	"sort"
)

// canonicalChannel mirrors ChannelConfig's wire shape for the canonical
// serialization defined in spec.md §6: an explicit field set so adding
// fields to ChannelConfig later can't silently change equality.
type canonicalChannel struct {
	Name         string    `json:"name"`
	Topic        string    `json:"topic"`
	MsgType      string    `json:"msgType"`
	Direction    Direction `json:"direction"`
	RateLimitHz  float64   `json:"rateLimitHz"`
	ConnectionID string    `json:"connectionId"`
}

type canonicalConfig struct {
	BridgeURL   string             `json:"bridgeUrl"`
	Connections []ConnectionConfig `json:"connections"`
	Channels    []canonicalChannel `json:"channels"`
}

// Canonical renders cfg into the byte-comparable form the Fleet
// Registry uses for its change-detection equality test (I5): duplicate
// connection IDs collapse, connections sort by ID, channels sort by
// name.
func Canonical(cfg RobotConfig) []byte {
	connByID := make(map[string]ConnectionConfig, len(cfg.Connections))
	for _, c := range cfg.Connections {
		connByID[c.ID] = c
	}
	conns := make([]ConnectionConfig, 0, len(connByID))
	for _, c := range connByID {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	channels := make([]canonicalChannel, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		channels[i] = canonicalChannel{
			Name:         ch.Name,
			Topic:        ch.Topic,
			MsgType:      ch.MsgType,
			Direction:    ch.Direction,
			RateLimitHz:  ch.RateLimitHz,
			ConnectionID: ch.ConnectionID,
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })

	out, err := json.Marshal(canonicalConfig{
		BridgeURL:   cfg.BridgeURL,
		Connections: conns,
		Channels:    channels,
	})
	if err != nil {
		// Marshal of a struct made entirely of strings/floats/slices
		// cannot fail; a panic here means a field type changed in a
		// way that broke JSON-encodability.
		panic(err)
	}
	return out
}

// SameConfig reports whether two RobotConfigs are identical under
// canonical serialization (I5's equality test).
func SameConfig(a, b RobotConfig) bool {
	return string(Canonical(a)) == string(Canonical(b))
}
