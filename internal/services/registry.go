// Package services – Registry
//
// This file implements the user registry: the durable set of everyone who has
// talked to the bot. The set lives in memory and is mirrored in full to an
// injected UserStore after every mutation. All saves go through one critical
// section, and the snapshot written is taken inside that section, so the
// stored set always equals the in-memory set at the moment of the last
// completed save even when registrations race with broadcast evictions.
//
// A successful save optionally triggers an asynchronous Backup. Backups run
// one at a time on a single goroutine that always writes the newest pending
// snapshot; older pending snapshots are dropped. They never delay or fail the
// local save.
package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

// UserStore persists the full registry contents.
type UserStore interface {
	// Load returns every persisted user. A store that has never been
	// written returns an empty slice and no error.
	Load(ctx context.Context) ([]domain.User, error)
	// Save replaces the persisted set with users.
	Save(ctx context.Context, users []domain.User) error
}

// Backup mirrors the registry somewhere off-host.
type Backup interface {
	Backup(ctx context.Context, users []domain.User) error
}

// Registry is the in-memory user set plus its persistence policy.
type Registry struct {
	store  UserStore
	backup Backup

	mu    sync.RWMutex
	users map[int64]domain.User

	saveMu sync.Mutex

	backupMu      sync.Mutex
	pending       []domain.User
	hasPending    bool
	backupRunning bool
	backupIdle    chan struct{} // closed while no backup goroutine runs

	// BackupTimeout bounds each asynchronous backup run.
	BackupTimeout time.Duration
}

// NewRegistry returns an empty registry backed by store. backup may be nil.
func NewRegistry(store UserStore, backup Backup) *Registry {
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		store:         store,
		backup:        backup,
		users:         make(map[int64]domain.User),
		backupIdle:    idle,
		BackupTimeout: time.Minute,
	}
}

// Load replaces the in-memory set with the store contents.
func (r *Registry) Load(ctx context.Context) error {
	users, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.Seed(users)
	return nil
}

// Seed replaces the in-memory set without persisting (used for restores).
func (r *Registry) Seed(users []domain.User) {
	r.mu.Lock()
	r.users = make(map[int64]domain.User, len(users))
	for _, u := range users {
		if u.ID == 0 {
			continue
		}
		r.users[u.ID] = u
	}
	n := len(r.users)
	r.mu.Unlock()
	observability.RegisteredUsers.Set(float64(n))
}

// RegisterIfAbsent adds u when its id is unknown and persists the registry
// before returning. It reports whether the user was newly added. A
// persistence failure is logged and swallowed: the caller's conversation must
// not fail because the disk did.
func (r *Registry) RegisterIfAbsent(ctx context.Context, u domain.User) bool {
	if u.ID == 0 {
		return false
	}
	r.mu.Lock()
	if _, ok := r.users[u.ID]; ok {
		r.mu.Unlock()
		return false
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = time.Now().UTC()
	}
	r.users[u.ID] = u
	r.mu.Unlock()

	log.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("new user registered")
	if err := r.Persist(ctx); err != nil {
		log.Error().Err(err).Int64("user_id", u.ID).Msg("registry persist failed")
	}
	return true
}

// Remove discards id from the in-memory set and reports whether it was
// present. It does not persist; callers batch removals and call Persist once.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false
	}
	delete(r.users, id)
	return true
}

// Persist writes the current set to the store. Concurrent callers are
// serialized; each writes the set as it is when its turn comes.
func (r *Registry) Persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	users := r.Users()
	observability.RegisteredUsers.Set(float64(len(users)))
	if err := r.store.Save(ctx, users); err != nil {
		observability.PersistFailures.Inc()
		return err
	}
	r.scheduleBackup(users)
	return nil
}

// scheduleBackup hands users to the backup goroutine, replacing any
// snapshot still waiting. Callers hold saveMu, so handoffs arrive in save
// order.
func (r *Registry) scheduleBackup(users []domain.User) {
	if r.backup == nil {
		return
	}
	r.backupMu.Lock()
	defer r.backupMu.Unlock()
	r.pending, r.hasPending = users, true
	if r.backupRunning {
		return
	}
	r.backupRunning = true
	r.backupIdle = make(chan struct{})
	go r.runBackups(r.backupIdle)
}

func (r *Registry) runBackups(idle chan struct{}) {
	for {
		r.backupMu.Lock()
		if !r.hasPending {
			r.backupRunning = false
			close(idle)
			r.backupMu.Unlock()
			return
		}
		users := r.pending
		r.pending, r.hasPending = nil, false
		r.backupMu.Unlock()

		r.backupOnce(users)
	}
}

func (r *Registry) backupOnce(users []domain.User) {
	ctx, cancel := context.WithTimeout(context.Background(), r.BackupTimeout)
	defer cancel()
	if err := r.backup.Backup(ctx, users); err != nil {
		log.Error().Err(err).Int("users", len(users)).Msg("registry backup failed")
		return
	}
	log.Debug().Int("users", len(users)).Msg("registry backed up")
}

// WaitBackups blocks until the backup goroutine has written the newest
// snapshot and exited, or ctx is done.
func (r *Registry) WaitBackups(ctx context.Context) error {
	r.backupMu.Lock()
	idle := r.backupIdle
	r.backupMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}

// Size returns the number of registered users.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Snapshot returns the registered ids in ascending order. Callers must not
// depend on any other ordering.
func (r *Registry) Snapshot() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Users returns copies of all registered users ordered by id.
func (r *Registry) Users() []domain.User {
	r.mu.RLock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
