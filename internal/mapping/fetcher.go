// Package mapping implements the Mapping Fetcher (C7): a one-shot
// request/response exchange against a robot's mapping bridge port that
// turns a map image + ROS map.yaml metadata into a Map Store upsert.
// Unlike internal/bridgeconn's long-lived pub/sub session, this dials,
// asks once, and closes — there is no reconnect or subscription state
// to own.
package mapping

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultTimeout is the 15 s cutoff a fetch is abandoned after
// regardless of progress.
const DefaultTimeout = 15 * time.Second

// MapRecord is what the fetcher hands to the Map Store.
type MapRecord struct {
	Name     string
	Filename string
	Image    []byte
	Metadata map[string]any
	RobotID  string
	Linked   bool
}

// Store is the external Map Store collaborator: filename is its
// primary key, and records are upserted idempotently.
type Store interface {
	Upsert(ctx context.Context, rec MapRecord) error
}

type requestEnvelope struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

type responseEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type mapFile struct {
	MapYaml string `json:"map_yaml"`
	MapPGM  string `json:"map_pgm"`
}

type mapDataPayload struct {
	Files          mapFile   `json:"files"`
	AdditionalMaps []mapFile `json:"additional_maps"`
}

// Fetcher opens one GET_MAP_DATA exchange per call.
type Fetcher struct {
	logger  *zap.Logger
	timeout time.Duration
}

// New builds a Fetcher. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{logger: logger.Named("mapping"), timeout: timeout}
}

// Fetch dials the robot's mapping bridge, requests the current map,
// and upserts it (plus any additional_maps) into store. Every failure
// is logged and swallowed — the fetch is best-effort and must never
// take down its caller.
func (f *Fetcher) Fetch(ctx context.Context, robotID, ip string, port int, store Store) {
	requestID := uuid.NewString()
	if err := f.fetch(ctx, requestID, robotID, ip, port, store); err != nil {
		f.logger.Warn("mapping fetch failed", zap.String("robot_id", robotID), zap.String("request_id", requestID), zap.Error(err))
	}
}

func (f *Fetcher) fetch(ctx context.Context, requestID, robotID, ip string, port int, store Store) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d", ip, port)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	req := requestEnvelope{Event: "GET_MAP_DATA", Payload: map[string]any{"requestId": requestID}}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send GET_MAP_DATA: %w", err)
	}

	for {
		var env responseEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if env.Event != "MAP_DATA_RESPONSE" {
			continue
		}
		var payload mapDataPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode MAP_DATA_RESPONSE: %w", err)
		}
		return f.upsertAll(ctx, robotID, payload, store)
	}
}

func (f *Fetcher) upsertAll(ctx context.Context, robotID string, payload mapDataPayload, store Store) error {
	primary, err := buildRecord(payload.Files, robotID, true)
	if err != nil {
		return fmt.Errorf("primary map: %w", err)
	}
	if err := store.Upsert(ctx, primary); err != nil {
		return fmt.Errorf("upsert %s: %w", primary.Filename, err)
	}

	for _, extra := range payload.AdditionalMaps {
		rec, err := buildRecord(extra, robotID, false)
		if err != nil {
			f.logger.Warn("additional map malformed, skipping", zap.Error(err))
			continue
		}
		if err := store.Upsert(ctx, rec); err != nil {
			f.logger.Warn("additional map upsert failed", zap.String("filename", rec.Filename), zap.Error(err))
		}
	}
	return nil
}

var filenameLike = regexp.MustCompile(`(?i)^[\w.\-]+\.ya?ml$`)

func buildRecord(file mapFile, robotID string, linkToRobot bool) (MapRecord, error) {
	image, err := decodePGM(file.MapPGM)
	if err != nil {
		return MapRecord{}, fmt.Errorf("decode map_pgm: %w", err)
	}

	var metadata map[string]any
	var filename string

	if filenameLike.MatchString(strings.TrimSpace(file.MapYaml)) {
		filename = strings.TrimSpace(file.MapYaml)
		metadata = map[string]any{}
	} else {
		if err := yaml.Unmarshal([]byte(file.MapYaml), &metadata); err != nil {
			return MapRecord{}, fmt.Errorf("parse map.yaml: %w", err)
		}
		filename = deriveFilename(metadata, robotID)
	}

	rec := MapRecord{
		Name:     strings.TrimSuffix(filename, yamlExt(filename)),
		Filename: filename,
		Image:    image,
		Metadata: metadata,
		RobotID:  robotID,
		Linked:   linkToRobot,
	}
	return rec, nil
}

func yamlExt(filename string) string {
	if strings.HasSuffix(filename, ".yaml") {
		return ".yaml"
	}
	if strings.HasSuffix(filename, ".yml") {
		return ".yml"
	}
	return ""
}

func deriveFilename(metadata map[string]any, robotID string) string {
	if img, ok := metadata["image"].(string); ok && img != "" {
		stem := strings.TrimSuffix(img, ".pgm")
		stem = strings.TrimSuffix(stem, ".png")
		return stem + ".yaml"
	}
	return fmt.Sprintf("%s-map.yaml", robotID)
}

var base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// decodePGM applies the base64-vs-binary heuristic: a string matching
// the base64 alphabet with length a multiple of 4 is base64-decoded;
// otherwise it is treated as the raw image bytes.
func decodePGM(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if len(data)%4 == 0 && base64Alphabet.MatchString(data) {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err == nil {
			return decoded, nil
		}
	}
	return []byte(data), nil
}
