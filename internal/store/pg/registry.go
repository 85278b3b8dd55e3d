package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/registry"
)

// Registry reads topics, applications and memberships mirrored into
// Postgres by the service that owns them.
type Registry struct {
	db *sql.DB
}

var _ registry.Reader = (*Registry)(nil)

func (r *Registry) TopicOwner(ctx context.Context, topic registry.TopicID) (common.Address, error) {
	var owner string
	err := r.queryRow(ctx, `select owner from registry_topics where id = $1`, int64(topic)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, fmt.Errorf("%w: %d", registry.ErrTopicNotFound, topic)
	}
	if err != nil {
		return common.Address{}, r.wrap(err)
	}
	return common.HexToAddress(owner), nil
}

func (r *Registry) TopicApplication(ctx context.Context, topic registry.TopicID) (registry.AppID, error) {
	var app int64
	err := r.queryRow(ctx, `select app_id from registry_topics where id = $1`, int64(topic)).Scan(&app)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", registry.ErrTopicNotFound, topic)
	}
	if err != nil {
		return 0, r.wrap(err)
	}
	return registry.AppID(app), nil
}

func (r *Registry) ApplicationOwner(ctx context.Context, app registry.AppID) (common.Address, error) {
	var owner string
	err := r.queryRow(ctx, `select owner from registry_applications where id = $1`, int64(app)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, fmt.Errorf("%w: %d", registry.ErrApplicationNotFound, app)
	}
	if err != nil {
		return common.Address{}, r.wrap(err)
	}
	return common.HexToAddress(owner), nil
}

func (r *Registry) HasAdminRole(ctx context.Context, app registry.AppID, who common.Address) (bool, error) {
	var roles int64
	err := r.queryRow(ctx, `
		select roles from registry_app_roles
		where app_id = $1 and member = $2
	`, int64(app), addr(who)).Scan(&roles)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.wrap(err)
	}
	return registry.HasRole(uint64(roles), registry.RoleAdmin), nil
}

func (r *Registry) TopicPermission(ctx context.Context, topic registry.TopicID, who common.Address) (registry.Permission, error) {
	var perm int16
	err := r.queryRow(ctx, `
		select permission from registry_topic_permissions
		where topic_id = $1 and member = $2
	`, int64(topic), addr(who)).Scan(&perm)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.PermissionNone, nil
	}
	if err != nil {
		return registry.PermissionNone, r.wrap(err)
	}
	return registry.Permission(perm), nil
}

func (r *Registry) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, query, args...)
}

func (r *Registry) wrap(err error) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUndefinedTable {
		return fmt.Errorf("registry schema not migrated: %w", err)
	}
	return fmt.Errorf("registry: %w", err)
}
