package qbittorrent

// Verb names an action endpoint of the WebUI API. "stop" and "start" are the
// names used since qBittorrent 5, "pause" and "resume" the older ones.
type Verb string

const (
	VerbStop           Verb = "stop"
	VerbPause          Verb = "pause"
	VerbResume         Verb = "resume"
	VerbStart          Verb = "start"
	VerbSetUploadLimit Verb = "setUploadLimit"
	VerbDelete         Verb = "delete"
	VerbReannounce     Verb = "reannounce"
)

// All selects every torrent of the client.
const All = "all"

// Action is one call against the torrent client.
type Action struct {
	Verb   Verb
	Hashes []string
	// Limit is the upload limit in bytes per second for VerbSetUploadLimit.
	// Zero or a negative value removes the limit.
	Limit int64
}

// Transfer holds the cumulative session counters of a client in bytes.
type Transfer struct {
	Up   int64
	Down int64
}

type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	// UploadLimit in bytes per second, zero or negative when unlimited.
	UploadLimit int64 `json:"up_limit"`
}

// Complete reports whether the torrent has finished downloading.
func (t Torrent) Complete() bool {
	return t.Progress >= 1
}

// Stopped reports whether the torrent is already paused, under either the old
// or the new state names.
func (t Torrent) Stopped() bool {
	switch t.State {
	case "stoppedUP", "stoppedDL", "pausedUP", "pausedDL":
		return true
	}
	return false
}
