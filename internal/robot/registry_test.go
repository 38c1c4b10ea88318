package robot

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter/mock"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/inventory"
)

type fakeInventory struct {
	records []inventory.Record
}

func (f *fakeInventory) List(ctx context.Context) ([]inventory.Record, error) {
	return f.records, nil
}

func newTestRegistry(inv *fakeInventory) *Registry {
	factory := adapter.Factory(func(url string) adapter.BridgeConnection { return mock.NewFakeConnection() })
	return NewRegistry(inv, factory, Tunables{}, 9090, 9091, false, zap.NewNop())
}

// P7: reconciling an unchanged inventory twice leaves manager identity
// untouched.
func TestRegistryReloadIsIdempotent(t *testing.T) {
	inv := &fakeInventory{records: []inventory.Record{{ID: "a", IPAddress: "10.0.0.1"}}}
	reg := newTestRegistry(inv)
	defer reg.StopAll()

	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	first, ok := reg.Get("a")
	if !ok {
		t.Fatalf("robot a not registered after first reload")
	}

	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	second, ok := reg.Get("a")
	if !ok {
		t.Fatalf("robot a not registered after second reload")
	}
	if first != second {
		t.Fatalf("manager identity changed across an unchanged reload")
	}
}

// P8: a config change for an existing robot restarts its Manager under
// a new identity.
func TestRegistryReloadRestartsOnConfigChange(t *testing.T) {
	inv := &fakeInventory{records: []inventory.Record{{ID: "a", IPAddress: "10.0.0.1", BridgePort: 9090}}}
	reg := newTestRegistry(inv)
	defer reg.StopAll()

	_ = reg.Reload(context.Background())
	first, _ := reg.Get("a")

	inv.records[0].BridgePort = 9999
	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("reload after config change: %v", err)
	}
	second, ok := reg.Get("a")
	if !ok {
		t.Fatalf("robot a missing after config-change reload")
	}
	if first == second {
		t.Fatalf("manager identity unchanged despite a bridge port change")
	}
}

// S4: one robot's config changes while another is dropped from the
// inventory entirely.
func TestRegistryReconcilesAddChangeAndDrop(t *testing.T) {
	inv := &fakeInventory{records: []inventory.Record{
		{ID: "a", IPAddress: "10.0.0.1"},
		{ID: "b", IPAddress: "10.0.0.2", BridgePort: 9090},
	}}
	reg := newTestRegistry(inv)
	defer reg.StopAll()

	_ = reg.Reload(context.Background())
	if _, ok := reg.Get("a"); !ok {
		t.Fatalf("robot a missing after initial reload")
	}
	bFirst, ok := reg.Get("b")
	if !ok {
		t.Fatalf("robot b missing after initial reload")
	}

	// Drop a, change b's bridge port.
	inv.records = []inventory.Record{
		{ID: "b", IPAddress: "10.0.0.2", BridgePort: 9999},
	}
	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("reconcile reload: %v", err)
	}

	if _, ok := reg.Get("a"); ok {
		t.Fatalf("robot a still present after being dropped from inventory")
	}
	bSecond, ok := reg.Get("b")
	if !ok {
		t.Fatalf("robot b missing after reconcile")
	}
	if bFirst == bSecond {
		t.Fatalf("robot b manager identity unchanged despite a config change")
	}
}

func TestRegistryMissingIPAddressIsSkipped(t *testing.T) {
	inv := &fakeInventory{records: []inventory.Record{{ID: "a", IPAddress: ""}}}
	reg := newTestRegistry(inv)
	defer reg.StopAll()

	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reg.Get("a"); ok {
		t.Fatalf("robot with no IP address should never be registered")
	}
}
