package cmd

import (
	"os"

	"github.com/ncwatch/ncwatch/config"
)

// Places a configuration file is looked for when --config is not passed, in
// order of preference.
var configCandidates = []string{
	config.DefaultLocation,
	"/etc/ncwatch/config.toml",
	"config.yml",
	"config.toml",
}

// FindConfiguration returns the first candidate path that exists and is a
// regular file. os.ErrNotExist is returned when none does, allowing the caller
// to display a friendlier notice to the user.
func FindConfiguration(candidates []string) (string, error) {
	for _, p := range candidates {
		s, err := os.Stat(p)
		if err != nil {
			if !os.IsNotExist(err) {
				return "", err
			}
			continue
		}
		if !s.IsDir() {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}
