package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryLookups(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x01")
	appOwner := common.HexToAddress("0x02")
	admin := common.HexToAddress("0x03")

	m := NewMemory()
	if err := m.PutTopic(Topic{ID: 1, App: 9, Owner: owner}); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
	m.PutApplication(Application{ID: 9, Owner: appOwner})
	if err := m.PutTopic(Topic{ID: 1, App: 9, Owner: owner}); err != nil {
		t.Fatal(err)
	}
	m.SetRoles(9, admin, RoleAdmin|RoleMember)
	m.SetPermission(1, admin, PermissionAdmin)

	if got, err := m.TopicOwner(ctx, 1); err != nil || got != owner {
		t.Fatalf("TopicOwner = %s, %v", got.Hex(), err)
	}
	if got, err := m.TopicApplication(ctx, 1); err != nil || got != 9 {
		t.Fatalf("TopicApplication = %d, %v", got, err)
	}
	if got, err := m.ApplicationOwner(ctx, 9); err != nil || got != appOwner {
		t.Fatalf("ApplicationOwner = %s, %v", got.Hex(), err)
	}
	if ok, _ := m.HasAdminRole(ctx, 9, admin); !ok {
		t.Fatal("expected admin role")
	}
	if ok, _ := m.HasAdminRole(ctx, 9, owner); ok {
		t.Fatal("owner has no role bits")
	}
	if p, _ := m.TopicPermission(ctx, 1, admin); p != PermissionAdmin {
		t.Fatalf("unexpected permission %s", p)
	}
	if _, err := m.TopicOwner(ctx, 2); !IsMissing(err) {
		t.Fatalf("expected missing topic, got %v", err)
	}
}

func TestHasRoleIsBitmaskTest(t *testing.T) {
	if !HasRole(RoleAdmin|RoleMember, RoleAdmin) {
		t.Fatal("admin bit set")
	}
	if HasRole(RoleMember, RoleAdmin) {
		t.Fatal("admin bit not set")
	}
}

func TestParsePermissionRoundTrip(t *testing.T) {
	for _, p := range []Permission{PermissionNone, PermissionRead, PermissionWrite, PermissionReadWrite, PermissionAdmin} {
		got, err := ParsePermission(p.String())
		if err != nil || got != p {
			t.Fatalf("ParsePermission(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePermission("owner"); err == nil {
		t.Fatal("expected error for unknown permission")
	}
}
