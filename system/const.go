package system

var (
	// Version is the current version of ncwatch, set at build time.
	Version = "develop"
)
