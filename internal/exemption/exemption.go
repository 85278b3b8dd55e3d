// Package exemption decides whether an actor is excused from a configured fee.
package exemption

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/registry"
)

// Resolver answers exemption questions against the registry.
type Resolver struct {
	reg registry.Reader
}

func New(reg registry.Reader) *Resolver {
	return &Resolver{reg: reg}
}

// IsExempt reports whether actor pays no message fee on topic: the topic
// owner, the owning application's owner, an application admin, or a topic
// admin. Missing records resolve to false. Only registry outages are
// returned as errors.
func (r *Resolver) IsExempt(ctx context.Context, actor common.Address, topic registry.TopicID) (bool, error) {
	owner, err := r.reg.TopicOwner(ctx, topic)
	if err != nil {
		return false, ignoreMissing(err)
	}
	if actor == owner {
		return true, nil
	}

	app, err := r.reg.TopicApplication(ctx, topic)
	if err != nil {
		return false, ignoreMissing(err)
	}
	if ok, err := r.IsExemptFromCreation(ctx, actor, app); err != nil || ok {
		return ok, err
	}

	perm, err := r.reg.TopicPermission(ctx, topic, actor)
	if err != nil {
		return false, ignoreMissing(err)
	}
	return perm == registry.PermissionAdmin, nil
}

// IsExemptFromCreation reports whether actor pays no topic-creation fee in
// app: the application owner or an application admin.
func (r *Resolver) IsExemptFromCreation(ctx context.Context, actor common.Address, app registry.AppID) (bool, error) {
	appOwner, err := r.reg.ApplicationOwner(ctx, app)
	if err != nil {
		return false, ignoreMissing(err)
	}
	if actor == appOwner {
		return true, nil
	}
	admin, err := r.reg.HasAdminRole(ctx, app, actor)
	if err != nil {
		return false, ignoreMissing(err)
	}
	return admin, nil
}

func ignoreMissing(err error) error {
	if registry.IsMissing(err) {
		return nil
	}
	return err
}
