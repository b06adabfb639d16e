package sync

import (
	"context"
	"log"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"wowsync/internal/bnet"
	"wowsync/internal/metrics"
	"wowsync/internal/module"
	"wowsync/internal/storage"
	"wowsync/pkg/jobmgr"
)

const jobName = "sync"

// Modules finds the module of a remote system.
type Modules interface {
	FindModule(typ storage.RemoteSystemType, systemID int64) (module.Module, error)
}

// Runner is the periodic sync of all remote systems.
type Runner struct {
	store   *storage.Storage
	bnet    *BnetToDB
	modules Modules
	jobs    *jobmgr.Manager
	clock   clock.Clock
	metrics *metrics.Collector
}

func NewRunner(store *storage.Storage, b *BnetToDB, modules Modules, jobs *jobmgr.Manager, clk clock.Clock, mc *metrics.Collector) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{store: store, bnet: b, modules: modules, jobs: jobs, clock: clk, metrics: mc}
}

// Jobs exposes the job manager for status reporting.
func (r *Runner) Jobs() *jobmgr.Manager {
	return r.jobs
}

// Run performs one sync. It fails with jobmgr.ErrAlreadyRunning while
// another run is active.
func (r *Runner) Run(ctx context.Context) error {
	return r.jobs.Run(ctx, jobName, r.run)
}

// Start runs the sync in the background.
func (r *Runner) Start(ctx context.Context) error {
	return r.jobs.StartAsync(ctx, jobName, r.run)
}

func (r *Runner) run(ctx context.Context) error {
	started := r.clock.Now()
	err := r.runOnce(ctx)
	r.metrics.SyncFinished(r.clock.Now().Sub(started), err)
	if err != nil {
		return err
	}
	log.Printf("[INFO] Sync finished in %v", r.clock.Now().Sub(started).Round(time.Millisecond))
	return nil
}

func (r *Runner) runOnce(ctx context.Context) error {
	if err := r.bnet.UpdateAndDeleteAccounts(ctx); err != nil {
		return errors.Annotate(err, "updating accounts")
	}

	expired, err := r.store.DeleteExpiredUserTokens(ctx, r.clock.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		log.Printf("[DEBUG] Deleted %d expired user tokens", expired)
	}

	systems, err := r.store.RemoteSystems(ctx)
	if err != nil {
		return err
	}
	for _, rs := range systems {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := r.modules.FindModule(rs.Type, rs.SystemID)
		if errors.Is(err, errors.NotFound) {
			log.Printf("[WARN] No module for remote system %d (%s), skipping", rs.ID, rs.Type)
			continue
		} else if err != nil {
			return err
		}

		if err := r.syncSystem(ctx, rs, m); err != nil {
			log.Printf("[ERR] Sync of remote system %d failed: %v", rs.ID, err)
		}
	}
	return nil
}

func (r *Runner) syncSystem(ctx context.Context, rs storage.RemoteSystem, m module.Module) error {
	d, err := NewDBToModule(ctx, r.store, rs, m, r.clock, r.metrics)
	if err != nil {
		return err
	}
	if _, err := d.DeleteInactiveUsers(ctx); err != nil {
		return errors.Annotate(err, "deleting inactive users")
	}
	return errors.Annotate(d.SyncToModule(ctx), "syncing roles")
}

// SyncForUser grants the roles of one remote user right away.
func (r *Runner) SyncForUser(ctx context.Context, rs storage.RemoteSystem, remoteUserID int64) (bool, error) {
	m, err := r.modules.FindModule(rs.Type, rs.SystemID)
	if err != nil {
		return false, err
	}
	d, err := NewDBToModule(ctx, r.store, rs, m, r.clock, r.metrics)
	if err != nil {
		return false, err
	}
	return d.SyncForUser(ctx, remoteUserID)
}

// AuthFinished stores the account behind a fresh user token and grants
// the roles. It returns the link to redirect forum users to.
func (r *Runner) AuthFinished(ctx context.Context, rs storage.RemoteSystem, remoteUserID int64, user *bnet.UserClient) (string, error) {
	redirect, err := r.bnet.AuthFinished(ctx, rs, remoteUserID, user)
	if err != nil {
		return "", err
	}

	added, err := r.SyncForUser(ctx, rs, remoteUserID)
	switch {
	case errors.Is(err, errors.NotFound):
		log.Printf("[DEBUG] No module for remote system %d, roles are granted with the next sync", rs.ID)
	case err != nil:
		log.Printf("[ERR] Failed to grant roles to %d on remote system %d: %v", remoteUserID, rs.ID, err)
	}

	log.Printf("[INFO] Auth finished for %d to %s#%d. Token valid until %v for %q. Added %t. Redirecting to %q",
		remoteUserID, rs.Type, rs.ID, user.Token.Expiry, user.Scope(), added, redirect)
	return redirect, nil
}

// Loop runs the sync every interval until ctx ends. A zero interval
// disables it.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	log.Printf("[INFO] Sync runs every %v", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(interval):
		}
		if err := r.Run(ctx); err != nil {
			if errors.Is(err, jobmgr.ErrAlreadyRunning) {
				log.Printf("[WARN] Skipping scheduled sync: %v", err)
				continue
			}
			log.Printf("[ERR] Scheduled sync failed: %v", err)
		}
	}
}
