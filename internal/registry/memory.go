package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Topic is a registry topic record.
type Topic struct {
	ID    TopicID        `json:"id" yaml:"id"`
	App   AppID          `json:"app" yaml:"app"`
	Owner common.Address `json:"owner" yaml:"owner"`
}

// Application is a registry application record.
type Application struct {
	ID    AppID          `json:"id" yaml:"id"`
	Owner common.Address `json:"owner" yaml:"owner"`
}

type member struct {
	scope uint64
	who   common.Address
}

// Memory is an in-process registry, used for tests and dev deployments.
type Memory struct {
	mu     sync.RWMutex
	topics map[TopicID]Topic
	apps   map[AppID]Application
	roles  map[member]uint64
	perms  map[member]Permission
}

var _ Reader = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		topics: make(map[TopicID]Topic),
		apps:   make(map[AppID]Application),
		roles:  make(map[member]uint64),
		perms:  make(map[member]Permission),
	}
}

func (m *Memory) PutApplication(a Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[a.ID] = a
}

// PutTopic stores t. The owning application must already exist.
func (m *Memory) PutTopic(t Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[t.App]; !ok {
		return fmt.Errorf("%w: %d", ErrApplicationNotFound, t.App)
	}
	m.topics[t.ID] = t
	return nil
}

func (m *Memory) SetRoles(app AppID, who common.Address, roles uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[member{uint64(app), who}] = roles
}

func (m *Memory) SetPermission(topic TopicID, who common.Address, p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[member{uint64(topic), who}] = p
}

func (m *Memory) TopicOwner(_ context.Context, topic TopicID) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topic]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrTopicNotFound, topic)
	}
	return t.Owner, nil
}

func (m *Memory) TopicApplication(_ context.Context, topic TopicID) (AppID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrTopicNotFound, topic)
	}
	return t.App, nil
}

func (m *Memory) ApplicationOwner(_ context.Context, app AppID) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[app]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrApplicationNotFound, app)
	}
	return a.Owner, nil
}

func (m *Memory) HasAdminRole(_ context.Context, app AppID, who common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return HasRole(m.roles[member{uint64(app), who}], RoleAdmin), nil
}

func (m *Memory) TopicPermission(_ context.Context, topic TopicID, who common.Address) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms[member{uint64(topic), who}], nil
}
