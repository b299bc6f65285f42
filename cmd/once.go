package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/ncwatch/ncwatch/loggers/cli"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single tick and exit, for use with an external scheduler",
	PreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.Default)
	},
	Run: onceCmdRun,
}

func onceCmdRun(*cobra.Command, []string) {
	c, err := readConfiguration()
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configuration")
		return
	}
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}

	d, err := bootstrap(c)
	if err != nil {
		log.WithField("error", err).Fatal("failed to start")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := d.monitor.Tick(ctx); err != nil {
		log.WithField("error", err).Fatal("failed to run tick")
		return
	}
	// Let the status brief go out before the process exits.
	d.notifier.Wait()
}
