package remediation

import (
	"sort"

	"emperror.dev/errors"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/qbittorrent"
)

// ErrPolicyViolation is returned for a policy that cannot be enforced.
var ErrPolicyViolation = errors.Sentinel("remediation: invalid policy")

// Policy decides what happens to the torrents of a throttled server.
type Policy struct {
	// Torrents in these categories are paused instead of deleted.
	KeepCategories []string
	// Torrents in these categories must keep seeding, limited to
	// HitAndRunUploadLimit bytes per second. Unfinished ones are paused.
	HitAndRunCategories  []string
	HitAndRunUploadLimit int64
}

// PolicyFromConfig builds the policy from the configuration snapshot.
func PolicyFromConfig(c *config.Configuration) Policy {
	return Policy{
		KeepCategories:       c.KeepCategories,
		HitAndRunCategories:  c.HitAndRun.Categories,
		HitAndRunUploadLimit: c.HitAndRun.UploadLimitBytes(),
	}
}

func (p Policy) Validate() error {
	if p.HitAndRunUploadLimit <= 0 {
		return errors.WithMessagef(ErrPolicyViolation, "hit and run upload limit must be positive, got %d", p.HitAndRunUploadLimit)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Decision is the set of changes a throttled server needs. Hashes keep the
// order of the torrent listing they were derived from.
type Decision struct {
	// Limit are finished hit and run torrents to hold at the policy's ceiling.
	Limit []string
	// Pause are unfinished hit and run torrents, followed by running torrents
	// of kept categories.
	Pause []string
	// Delete are torrents in neither set, removed together with their data.
	Delete []string
	// NewRestore holds the current limit of limited torrents the restore
	// record does not know yet.
	NewRestore models.UploadLimits
}

// Decide categorises the torrents of a throttled server. It is pure: the same
// listing and record always produce the same decision.
func Decide(p Policy, torrents []qbittorrent.Torrent, restore models.UploadLimits) Decision {
	d := Decision{NewRestore: models.UploadLimits{}}
	var keep []string
	for _, t := range torrents {
		hr := contains(p.HitAndRunCategories, t.Category)
		switch {
		case hr && t.Complete():
			d.Limit = append(d.Limit, t.Hash)
			if _, ok := restore[t.Hash]; !ok {
				d.NewRestore[t.Hash] = t.UploadLimit
			}
		case hr:
			d.Pause = append(d.Pause, t.Hash)
		case contains(p.KeepCategories, t.Category):
			if !t.Stopped() {
				keep = append(keep, t.Hash)
			}
		default:
			d.Delete = append(d.Delete, t.Hash)
		}
	}
	d.Pause = append(d.Pause, keep...)
	return d
}

// Actions returns the calls that enforce the decision, in the order they are
// applied. Empty sets produce no action.
func (d Decision) Actions(p Policy) []qbittorrent.Action {
	var actions []qbittorrent.Action
	if len(d.Limit) > 0 {
		actions = append(actions, qbittorrent.Action{Verb: qbittorrent.VerbSetUploadLimit, Hashes: d.Limit, Limit: p.HitAndRunUploadLimit})
	}
	if len(d.Pause) > 0 {
		actions = append(actions, qbittorrent.Action{Verb: qbittorrent.VerbStop, Hashes: d.Pause})
	}
	if len(d.Delete) > 0 {
		actions = append(actions, qbittorrent.Action{Verb: qbittorrent.VerbDelete, Hashes: d.Delete})
	}
	return actions
}

// RestoreActions returns one limit action per distinct previous limit, lowest
// limit first, followed by resuming every torrent.
func RestoreActions(limits models.UploadLimits) []qbittorrent.Action {
	groups := make(map[int64][]string)
	for hash, limit := range limits {
		groups[limit] = append(groups[limit], hash)
	}
	values := make([]int64, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	actions := make([]qbittorrent.Action, 0, len(values)+1)
	for _, v := range values {
		hashes := groups[v]
		sort.Strings(hashes)
		actions = append(actions, qbittorrent.Action{Verb: qbittorrent.VerbSetUploadLimit, Hashes: hashes, Limit: v})
	}
	return append(actions, qbittorrent.Action{Verb: qbittorrent.VerbResume, Hashes: []string{qbittorrent.All}})
}
