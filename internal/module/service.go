package module

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"

	"github.com/juju/errors"

	"wowsync/internal/storage"
	"wowsync/pkg/mac"
)

// Store is the part of the storage the service reads.
type Store interface {
	RemoteSystems(ctx context.Context) ([]storage.RemoteSystem, error)
	HMACKeyByID(ctx context.Context, id int64) (string, error)
}

// Factory creates the module for one remote system.
type Factory func(ctx context.Context, rs storage.RemoteSystem) (Module, error)

type moduleKey struct {
	typ      storage.RemoteSystemType
	systemID int64
}

// Service owns the modules of all configured remote systems.
type Service struct {
	store     Store
	rootURL   string
	factories map[storage.RemoteSystemType]Factory

	mu      sync.RWMutex
	modules map[moduleKey]Module
}

func NewService(store Store, rootURL string) *Service {
	return &Service{
		store:     store,
		rootURL:   rootURL,
		factories: make(map[storage.RemoteSystemType]Factory),
		modules:   make(map[moduleKey]Module),
	}
}

// Register sets the factory for a remote system type. Call before Start.
func (s *Service) Register(typ storage.RemoteSystemType, f Factory) {
	s.factories[typ] = f
}

// Start creates a module for every remote system with a registered
// factory. Systems without a factory or failing factories are logged and
// skipped.
func (s *Service) Start(ctx context.Context) error {
	systems, err := s.store.RemoteSystems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load remote systems: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rs := range systems {
		key := moduleKey{rs.Type, rs.SystemID}
		if _, ok := s.modules[key]; ok {
			continue
		}
		factory, ok := s.factories[rs.Type]
		if !ok {
			log.Printf("[WARN] No module for remote system %d of type %s, skipping", rs.ID, rs.Type)
			continue
		}
		m, err := factory(ctx, rs)
		if err != nil {
			log.Printf("[ERR] Failed to start module for remote system %d: %v", rs.ID, err)
			continue
		}
		s.modules[key] = m
		log.Printf("[INFO] Started %s module for remote system %d (%d)", rs.Type, rs.ID, rs.SystemID)
	}
	return nil
}

// FindModule returns the module of a remote system or a NotFound error.
func (s *Service) FindModule(typ storage.RemoteSystemType, systemID int64) (Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.modules[moduleKey{typ, systemID}]
	if !ok {
		return nil, errors.NotFoundf("module for %s#%d", typ, systemID)
	}
	return m, nil
}

// CreateAuthURI returns the signed link that starts the Battle.net
// authorization for a remote user.
func (s *Service) CreateAuthURI(ctx context.Context, remoteSystemID, remoteUserID int64) (string, error) {
	encoded, err := s.store.HMACKeyByID(ctx, remoteSystemID)
	if err != nil {
		return "", err
	}
	key, err := mac.KeyFromString(encoded)
	if err != nil {
		return "", fmt.Errorf("remote system %d: %w", remoteSystemID, err)
	}

	userID := strconv.FormatInt(remoteUserID, 10)
	q := url.Values{}
	q.Set("systemId", strconv.FormatInt(remoteSystemID, 10))
	q.Set("userId", userID)
	q.Set("mac", mac.Generate(key, userID))
	return s.rootURL + "/auth/start?" + q.Encode(), nil
}

// Close closes every module.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, m := range s.modules {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.modules, key)
	}
	return firstErr
}
