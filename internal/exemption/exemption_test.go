package exemption

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/registry"
)

var (
	topicOwner = common.HexToAddress("0x0100000000000000000000000000000000000001")
	appOwner   = common.HexToAddress("0x0200000000000000000000000000000000000002")
	appAdmin   = common.HexToAddress("0x0300000000000000000000000000000000000003")
	topicAdmin = common.HexToAddress("0x0400000000000000000000000000000000000004")
	writer     = common.HexToAddress("0x0500000000000000000000000000000000000005")
	stranger   = common.HexToAddress("0x0600000000000000000000000000000000000006")
)

func fixture(t *testing.T) *registry.Memory {
	t.Helper()
	reg := registry.NewMemory()
	reg.PutApplication(registry.Application{ID: 1, Owner: appOwner})
	if err := reg.PutTopic(registry.Topic{ID: 10, App: 1, Owner: topicOwner}); err != nil {
		t.Fatal(err)
	}
	reg.SetRoles(1, appAdmin, registry.RoleAdmin)
	reg.SetRoles(1, writer, registry.RoleMember)
	reg.SetPermission(10, topicAdmin, registry.PermissionAdmin)
	reg.SetPermission(10, writer, registry.PermissionReadWrite)
	return reg
}

func TestIsExempt(t *testing.T) {
	r := New(fixture(t))
	cases := []struct {
		name  string
		actor common.Address
		topic registry.TopicID
		want  bool
	}{
		{"topic owner", topicOwner, 10, true},
		{"application owner", appOwner, 10, true},
		{"application admin", appAdmin, 10, true},
		{"topic admin", topicAdmin, 10, true},
		{"read-write member", writer, 10, false},
		{"stranger", stranger, 10, false},
		{"unknown topic", topicOwner, 99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.IsExempt(context.Background(), tc.actor, tc.topic)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsExempt(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestIsExemptFromCreation(t *testing.T) {
	r := New(fixture(t))
	ctx := context.Background()
	for actor, want := range map[common.Address]bool{appOwner: true, appAdmin: true, topicOwner: false, stranger: false} {
		if got, err := r.IsExemptFromCreation(ctx, actor, 1); err != nil || got != want {
			t.Fatalf("IsExemptFromCreation(%s) = %v, %v; want %v", actor.Hex(), got, err, want)
		}
	}
	if got, err := r.IsExemptFromCreation(ctx, appOwner, 42); err != nil || got {
		t.Fatalf("unknown application should not exempt: %v %v", got, err)
	}
}

type downRegistry struct{ registry.Reader }

var errDown = errors.New("connection refused")

func (downRegistry) TopicOwner(context.Context, registry.TopicID) (common.Address, error) {
	return common.Address{}, errDown
}

func TestRegistryOutagePropagates(t *testing.T) {
	r := New(downRegistry{})
	if _, err := r.IsExempt(context.Background(), stranger, 10); !errors.Is(err, errDown) {
		t.Fatalf("expected outage error, got %v", err)
	}
}
