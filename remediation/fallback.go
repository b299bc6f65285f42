package remediation

import (
	"context"

	"github.com/apex/log"

	"github.com/ncwatch/ncwatch/qbittorrent"
	"github.com/ncwatch/ncwatch/remote"
)

// Synonyms maps a verb onto the verb older or newer clients know the same
// action by.
var Synonyms = map[qbittorrent.Verb]qbittorrent.Verb{
	qbittorrent.VerbStop:   qbittorrent.VerbPause,
	qbittorrent.VerbResume: qbittorrent.VerbStart,
}

// ApplyWithFallback applies the action and, if the client rejects the verb,
// sends it once more using the synonym. An unreachable client is not retried.
func ApplyWithFallback(ctx context.Context, client TorrentClient, host string, a qbittorrent.Action) error {
	err := client.Apply(ctx, host, a)
	if err == nil || !remote.IsRejected(err) {
		return err
	}
	alt, ok := Synonyms[a.Verb]
	if !ok {
		return err
	}
	log.WithFields(log.Fields{"server": host, "verb": a.Verb, "fallback": alt}).Debug("verb rejected, trying synonym")
	a.Verb = alt
	return client.Apply(ctx, host, a)
}
