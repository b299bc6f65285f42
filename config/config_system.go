package config

import (
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// SystemConfiguration defines where ncwatch keeps its state and how often the
// control loop runs.
type SystemConfiguration struct {
	// The directory holding the SQLite ledger.
	RootDirectory string `default:"/var/lib/ncwatch" yaml:"root_directory" toml:"root_directory"`

	// Directory where the process log file is written.
	LogDirectory string `default:"/var/log/ncwatch" yaml:"log_directory" toml:"log_directory"`

	// The timezone used for calendar day and month boundaries in the traffic and
	// health statistics. When empty the TZ environment variable is used, then the
	// timezone of the host.
	Timezone string `yaml:"timezone" toml:"timezone"`

	// Minutes between two scheduled ticks of the control loop.
	Interval int `default:"5" yaml:"interval" toml:"interval"`
}

// ConfigureDirectories ensures that the state and log directories exist. They
// are created so that only the owner can read the data.
func (sc *SystemConfiguration) ConfigureDirectories() error {
	log.WithField("path", sc.RootDirectory).Debug("ensuring root data directory exists")
	if err := os.MkdirAll(sc.RootDirectory, 0o700); err != nil {
		return errors.WithStack(err)
	}

	log.WithField("path", sc.LogDirectory).Debug("ensuring log directory exists")
	if err := os.MkdirAll(sc.LogDirectory, 0o700); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ConfigureTimezone fills in the timezone when none was configured and checks
// that the resulting zone can be loaded.
func (sc *SystemConfiguration) ConfigureTimezone() error {
	if sc.Timezone == "" {
		sc.Timezone = strings.TrimSpace(os.Getenv("TZ"))
	}
	if sc.Timezone == "" {
		sc.Timezone = "Local"
	}
	if _, err := time.LoadLocation(sc.Timezone); err != nil {
		return errors.Wrapf(err, "config: unknown system.timezone %q", sc.Timezone)
	}
	return nil
}
