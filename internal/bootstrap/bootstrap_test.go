package bootstrap

import (
	"testing"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

func TestSeedCreatesSentinelsAndRole(t *testing.T) {
	store, err := org.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil, nil)

	role, err := Seed(store, b, nil)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if role.Name != RootRoleName {
		t.Errorf("role = %q", role.Name)
	}
	root := store.GetAgent(org.RootID)
	if root == nil || root.RoleID != role.ID || root.ParentID != org.UserID {
		t.Errorf("root = %+v", root)
	}
	if store.GetAgent(org.UserID) == nil {
		t.Error("user sentinel missing")
	}
	if !b.Registered(bus.RootID) || !b.Registered(bus.UserID) {
		t.Error("sentinels not registered on bus")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := org.NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := Seed(store, bus.New(nil, nil), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a restart over the same data directory.
	reopened, err := org.NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Seed(reopened, bus.New(nil, nil), nil)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("role recreated: %s vs %s", first.ID, second.ID)
	}
	if len(reopened.ListRoles()) != 1 {
		t.Errorf("roles = %d, want 1", len(reopened.ListRoles()))
	}
}

func TestSeedReregistersSurvivors(t *testing.T) {
	dir := t.TempDir()
	store, err := org.NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Seed(store, bus.New(nil, nil), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAgent(org.CreateAgentRequest{ParentID: org.RootID, CustomName: "Worker"}); err != nil {
		t.Fatal(err)
	}
	agents := store.ListAgents()
	var workerID string
	for _, a := range agents {
		if a.Name == "Worker" {
			workerID = a.ID
		}
	}

	reopened, err := org.NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil, nil)
	if _, err := Seed(reopened, b, nil); err != nil {
		t.Fatal(err)
	}
	if !b.Registered(workerID) {
		t.Error("surviving worker not re-registered on bus")
	}
}
