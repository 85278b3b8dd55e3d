// Package registry is the read side of the external topic and membership
// registry. Topics, applications and memberships are managed elsewhere; the
// engine only asks who owns what and who holds which rights.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TopicID identifies a topic.
type TopicID uint64

// AppID identifies an application (tenant).
type AppID uint64

// Permission is a topic-level access level.
type Permission uint8

const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
	PermissionReadWrite
	PermissionAdmin
)

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionReadWrite:
		return "read_write"
	case PermissionAdmin:
		return "admin"
	default:
		return "none"
	}
}

// ParsePermission is the inverse of Permission.String.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PermissionNone, nil
	case "read":
		return PermissionRead, nil
	case "write":
		return PermissionWrite, nil
	case "read_write":
		return PermissionReadWrite, nil
	case "admin":
		return PermissionAdmin, nil
	}
	return PermissionNone, fmt.Errorf("registry: unknown permission %q", s)
}

// Application role bits.
const (
	RoleAdmin  uint64 = 1 << 0
	RoleMember uint64 = 1 << 1
)

// HasRole reports whether roles includes every bit of role.
func HasRole(roles, role uint64) bool {
	return roles&role == role
}

var (
	ErrTopicNotFound       = errors.New("registry: topic not found")
	ErrApplicationNotFound = errors.New("registry: application not found")
)

// Reader is what the engine consumes from the registry.
type Reader interface {
	TopicOwner(ctx context.Context, topic TopicID) (common.Address, error)
	TopicApplication(ctx context.Context, topic TopicID) (AppID, error)
	ApplicationOwner(ctx context.Context, app AppID) (common.Address, error)
	HasAdminRole(ctx context.Context, app AppID, who common.Address) (bool, error)
	TopicPermission(ctx context.Context, topic TopicID, who common.Address) (Permission, error)
}

// IsMissing reports whether err means the record does not exist, as opposed
// to the registry being unreachable.
func IsMissing(err error) bool {
	return errors.Is(err, ErrTopicNotFound) || errors.Is(err, ErrApplicationNotFound)
}
