package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mwynn/tombola/internal/models"
	"github.com/mwynn/tombola/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Store defines what the registry needs from the persistence layer. It
// embeds the session's store contract because the registry hands the store
// to every session it constructs.
type Store interface {
	GetRoomBySlug(ctx context.Context, slug string) (*models.Room, error)
	ListMembers(ctx context.Context, roomID int64) ([]*models.Member, error)
	session.Store
}

// Config holds the settings the registry forwards to new sessions.
type Config struct {
	RevealDelay time.Duration
	Clock       clockwork.Clock
	Mirror      session.EventMirror
}

type entry struct {
	sess   *session.Session
	cancel context.CancelFunc
}

// Registry maps room slugs to live sessions. Sessions are materialized from
// the store on first join and evicted once their subscriber set empties;
// room data itself stays in the store.
type Registry struct {
	store Store
	cfg   Config

	mu       sync.RWMutex
	sessions map[string]*entry
	group    singleflight.Group

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// New creates an empty registry. Construct one per process, at startup.
func New(store Store, cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		cfg:        cfg,
		sessions:   make(map[string]*entry),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// GetOrLoad returns the live session for slug, loading the room and its
// members from the store when none exists. Concurrent calls for the same
// unseen slug are single-flighted so exactly one store load happens and all
// callers observe the same session instance. Returns store.ErrRoomNotFound
// when the slug has no room row.
func (r *Registry) GetOrLoad(ctx context.Context, slug string) (*session.Session, error) {
	r.mu.RLock()
	if e, ok := r.sessions[slug]; ok {
		r.mu.RUnlock()
		return e.sess, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(slug, func() (any, error) {
		// a previous flight may have registered the session already
		r.mu.RLock()
		if e, ok := r.sessions[slug]; ok {
			r.mu.RUnlock()
			return e.sess, nil
		}
		r.mu.RUnlock()

		room, err := r.store.GetRoomBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		members, err := r.store.ListMembers(ctx, room.ID)
		if err != nil {
			return nil, err
		}

		sessCtx, cancel := context.WithCancel(r.rootCtx)
		var sess *session.Session
		sess = session.New(room, members, r.store, session.Config{
			RevealDelay: r.cfg.RevealDelay,
			Clock:       r.cfg.Clock,
			Mirror:      r.cfg.Mirror,
			OnEmpty: func() {
				r.evict(slug, sess)
				cancel()
			},
		})
		go sess.Run(sessCtx)

		r.mu.Lock()
		r.sessions[slug] = &entry{sess: sess, cancel: cancel}
		r.mu.Unlock()

		log.Info().Str("room", slug).Int("members", len(members)).Msg("room session loaded")
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// evict removes the given session instance from the registry. A session that
// was already replaced by a newer instance is left alone.
func (r *Registry) evict(slug string, sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[slug]
	if !ok || e.sess != sess {
		return
	}
	delete(r.sessions, slug)
	log.Info().Str("room", slug).Msg("room session evicted")
}

// ActiveRooms returns the number of rooms currently held in memory.
func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops every live session and invalidates the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for slug, e := range r.sessions {
		e.cancel()
		delete(r.sessions, slug)
	}
	r.mu.Unlock()
	r.rootCancel()
	log.Info().Msg("room registry shut down")
}
