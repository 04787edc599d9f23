package poster

import (
	"context"
	"log/slog"
	"sync"

	"bandaid/internal/blobstore"
	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/services"
	"bandaid/internal/statusfeed"
)

// Deps carries the poster actors' external collaborators.
type Deps struct {
	Arena      *entity.Arena
	Blobs      blobstore.Store
	Extractor  Extractor
	Enqueuer   Enqueuer
	PublicHost string
	Logger     *slog.Logger
}

// Agents hands out live poster actors, one per entity identity. Get only
// resurrects posters whose partition still exists; Create is reserved for
// the registry minting new identities.
type Agents struct {
	deps   Deps
	logger *slog.Logger

	mu   sync.Mutex
	live map[identity.ID]*Agent
}

// NewAgents constructs the actor manager.
func NewAgents(deps Deps) *Agents {
	return &Agents{
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "poster"),
		live:   make(map[identity.ID]*Agent),
	}
}

// Create opens (or creates) the partition for id and returns its actor.
func (m *Agents) Create(ctx context.Context, id identity.ID) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := m.live[id]; ok {
		return agent, nil
	}
	storage, err := m.deps.Arena.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.attachLocked(ctx, id, storage)
}

// Get returns the actor for an existing poster. A wiped or never-created
// entity is not resurrected; callers get not-found instead.
func (m *Agents) Get(ctx context.Context, id identity.ID) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := m.live[id]; ok {
		return agent, nil
	}
	storage, ok, err := m.deps.Arena.OpenExisting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "poster", "get", "entity "+id.String(), nil)
	}
	return m.attachLocked(ctx, id, storage)
}

func (m *Agents) attachLocked(ctx context.Context, id identity.ID, storage *entity.Storage) (*Agent, error) {
	if err := storage.ApplySchema(ctx, posterSchema); err != nil {
		return nil, err
	}
	agent := &Agent{
		id:      id,
		storage: storage,
		hub:     statusfeed.NewHub(),
		deps:    &m.deps,
		logger:  m.logger.With(logging.String(logging.FieldEntityID, id.String())),
	}
	m.live[id] = agent
	return agent, nil
}

// TearDown destroys the poster entity: observers are disconnected and the
// partition is wiped. Tearing down an absent poster is a no-op.
func (m *Agents) TearDown(ctx context.Context, id identity.ID) error {
	m.mu.Lock()
	agent, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()

	if ok {
		agent.hub.Close()
	}
	if err := m.deps.Arena.Wipe(ctx, id); err != nil {
		return services.Wrap(services.ErrInvariant, "poster", "tear down", id.String(), err)
	}
	m.logger.Info("poster torn down", logging.String(logging.FieldEntityID, id.String()))
	return nil
}
