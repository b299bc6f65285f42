package remediation

import (
	"context"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/metrics"
	"github.com/ncwatch/ncwatch/qbittorrent"
	"github.com/ncwatch/ncwatch/remote"
)

// TorrentClient is the torrent client of the managed servers.
type TorrentClient interface {
	Torrents(ctx context.Context, host string) ([]qbittorrent.Torrent, error)
	Apply(ctx context.Context, host string, a qbittorrent.Action) error
}

// RestoreStore persists the limits to restore once a server leaves the
// throttle. A stored record, even an empty one, marks the server as throttled.
type RestoreStore interface {
	Load(ctx context.Context, server string) (models.UploadLimits, bool, error)
	Save(ctx context.Context, server string, limits models.UploadLimits) error
	Delete(ctx context.Context, server string) error
}

// Target is a managed server: its name in the ledger and the host its torrent
// client listens on.
type Target struct {
	Name string
	Host string
}

// Automaton enforces the policy on managed servers, one tick at a time.
type Automaton struct {
	policy Policy
	client TorrentClient
	store  RestoreStore
}

func New(policy Policy, client TorrentClient, store RestoreStore) (*Automaton, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Automaton{policy: policy, client: client, store: store}, nil
}

// Reconcile brings the server in line with its throttle state. While throttled
// every tick re-derives and re-applies the full action set, which also covers
// torrents added since the previous tick. Once the throttle ends the saved
// limits are restored and the record removed.
//
// Failed actions are logged and do not stop the remaining ones. An error is
// returned when the server could not be handled at all this tick.
func (a *Automaton) Reconcile(ctx context.Context, target Target, throttled bool) error {
	if throttled {
		return a.enforce(ctx, target)
	}
	return a.restore(ctx, target)
}

func (a *Automaton) enforce(ctx context.Context, target Target) error {
	torrents, err := a.client.Torrents(ctx, target.Host)
	if err != nil {
		return errors.WrapIf(err, "remediation: could not list torrents")
	}
	limits, existed, err := a.store.Load(ctx, target.Name)
	if err != nil {
		return err
	}
	if limits == nil {
		limits = models.UploadLimits{}
	}

	d := Decide(a.policy, torrents, limits)
	// The record has to be durable before any limit is lowered, otherwise the
	// previous limits are lost if the process stops in between.
	if !existed || len(d.NewRestore) > 0 {
		for hash, limit := range d.NewRestore {
			limits[hash] = limit
		}
		if err := a.store.Save(ctx, target.Name, limits); err != nil {
			return err
		}
	}

	for _, action := range d.Actions(a.policy) {
		if err := a.apply(ctx, target, action); err != nil && remote.IsUnavailable(err) {
			return err
		}
	}
	return nil
}

func (a *Automaton) restore(ctx context.Context, target Target) error {
	limits, ok, err := a.store.Load(ctx, target.Name)
	if err != nil || !ok {
		return err
	}

	log.WithField("server", target.Name).Info("throttle ended, restoring torrents")
	for _, action := range RestoreActions(limits) {
		if err := a.apply(ctx, target, action); err != nil && remote.IsUnavailable(err) {
			// Keep the record so the restore runs again on the next tick.
			return err
		}
	}
	return a.store.Delete(ctx, target.Name)
}

func (a *Automaton) apply(ctx context.Context, target Target, action qbittorrent.Action) error {
	err := ApplyWithFallback(ctx, a.client, target.Host, action)
	metrics.ObserveAction(target.Name, string(action.Verb), err)

	l := log.WithFields(log.Fields{"server": target.Name, "verb": action.Verb, "hashes": len(action.Hashes)})
	if action.Verb == qbittorrent.VerbSetUploadLimit {
		l = l.WithField("limit", action.Limit)
	}
	if err != nil {
		l.WithField("error", err).Warn("failed to apply torrent action")
		return err
	}
	l.Info("applied torrent action")
	return nil
}
