package robot

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/inventory"
)

// Inventory is the subset of inventory.Client the Registry needs,
// narrowed so tests can substitute a fake list without standing up an
// HTTP server.
type Inventory interface {
	List(ctx context.Context) ([]inventory.Record, error)
}

// MappingTrigger is called once for every robot whose Manager is
// (re)started and whose config carries a "mapping" connection, so C7
// (the Mapping Fetcher) is reachable from the running gateway instead
// of only from its own tests. main.go wires this to
// mapping.Fetcher.Fetch against a concrete Map Store.
type MappingTrigger func(ctx context.Context, robotID, ip string, port int)

// Registry is the Fleet Registry (C5): it keeps one Manager per robot
// in the Robot Inventory's desired set, restarting a Manager whenever
// its canonical config changes and stopping ones the inventory drops.
type Registry struct {
	logger  *zap.Logger
	inv     Inventory
	factory adapter.Factory
	tun     Tunables

	defaultBridgePort  int
	defaultMappingPort int
	mappingEnabled     bool

	mu             sync.RWMutex
	managers       map[string]*Manager
	configs        map[string]adapter.RobotConfig
	mappingTrigger MappingTrigger
}

// NewRegistry builds an empty Registry. Call Reload to populate it.
func NewRegistry(inv Inventory, factory adapter.Factory, tun Tunables, defaultBridgePort, defaultMappingPort int, mappingEnabled bool, logger *zap.Logger) *Registry {
	return &Registry{
		logger:             logger.Named("registry"),
		inv:                inv,
		factory:            factory,
		tun:                tun,
		defaultBridgePort:  defaultBridgePort,
		defaultMappingPort: defaultMappingPort,
		mappingEnabled:     mappingEnabled,
		managers:           make(map[string]*Manager),
		configs:            make(map[string]adapter.RobotConfig),
	}
}

// SetMappingTrigger installs the callback Reload fires for every robot
// that has a mapping connection and whose Manager it (re)starts. Safe
// to call at any time, including after the Registry is already running.
func (r *Registry) SetMappingTrigger(fn MappingTrigger) {
	r.mu.Lock()
	r.mappingTrigger = fn
	r.mu.Unlock()
}

// Get returns the Manager for robotId, if the Registry currently owns
// one. Safe to call concurrently with Reload (I4, §5's shared-resource
// rule).
func (r *Registry) Get(robotID string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[robotID]
	return m, ok
}

// Reload fetches the current inventory and reconciles the Manager set
// to match it (P7, P8): idempotent when the inventory hasn't changed,
// restart-on-config-change otherwise.
func (r *Registry) Reload(ctx context.Context) error {
	records, err := r.inv.List(ctx)
	if err != nil {
		return err
	}

	desired := make(map[string]adapter.RobotConfig, len(records))
	for _, rec := range records {
		cfg, ok := inventory.BuildRobotConfig(rec, r.defaultBridgePort, r.defaultMappingPort, r.mappingEnabled)
		if !ok {
			continue
		}
		desired[cfg.ID] = cfg
	}

	var toRestartOld []*Manager
	var toStartCfg []adapter.RobotConfig

	r.mu.Lock()
	for id, cfg := range desired {
		existing, ok := r.managers[id]
		switch {
		case !ok:
			toStartCfg = append(toStartCfg, cfg)
		case !adapter.SameConfig(r.configs[id], cfg):
			toRestartOld = append(toRestartOld, existing)
			toStartCfg = append(toStartCfg, cfg)
			delete(r.managers, id)
			delete(r.configs, id)
		default:
			// unchanged, left in place
		}
	}

	var toStop []*Manager
	for id, existing := range r.managers {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, existing)
			delete(r.managers, id)
			delete(r.configs, id)
		}
	}
	r.mu.Unlock()

	for _, m := range toRestartOld {
		m.Stop()
	}
	for _, m := range toStop {
		m.Stop()
	}

	for _, cfg := range toStartCfg {
		m := New(cfg, r.factory, r.tun, r.logger)
		m.Start(ctx)
		r.mu.Lock()
		r.managers[cfg.ID] = m
		r.configs[cfg.ID] = cfg
		trigger := r.mappingTrigger
		r.mu.Unlock()

		if trigger != nil {
			if ip, port, ok := mappingEndpoint(cfg); ok {
				go trigger(ctx, cfg.ID, ip, port)
			}
		}
	}

	return nil
}

// mappingEndpoint reports the host and port of cfg's "mapping"
// connection, if it has one, for the Fleet Registry to hand to the
// Mapping Fetcher (C7) trigger.
func mappingEndpoint(cfg adapter.RobotConfig) (ip string, port int, ok bool) {
	for _, c := range cfg.Connections {
		if c.ID != "mapping" {
			continue
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			return "", 0, false
		}
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false
		}
		return u.Hostname(), port, true
	}
	return "", 0, false
}

// StopAll stops every currently owned Manager, for process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.managers = make(map[string]*Manager)
	r.configs = make(map[string]adapter.RobotConfig)
	r.mu.Unlock()

	for _, m := range managers {
		m.Stop()
	}
}
