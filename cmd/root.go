package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/gin-gonic/gin"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/ncwatch/ncwatch/config"
	"github.com/ncwatch/ncwatch/internal/cron"
	"github.com/ncwatch/ncwatch/internal/sdnotify"
	"github.com/ncwatch/ncwatch/loggers/cli"
	"github.com/ncwatch/ncwatch/router"
	"github.com/ncwatch/ncwatch/system"
)

var (
	configPath  = ""
	debug       = false
	showVersion = false
)

var root = &cobra.Command{
	Use:   "ncwatch",
	Short: "Keeps torrent clients within the traffic throttle of their servers",
	Long:  ``,
	Run:   rootCmdRun,
}

func init() {
	root.PersistentFlags().BoolVar(&showVersion, "version", false, "show the version and exit")
	root.PersistentFlags().StringVar(&configPath, "config", "", "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run ncwatch in debug mode")

	root.AddCommand(onceCmd)
	root.AddCommand(serviceCmd)
}

// readConfiguration loads the configuration from the --config flag, or from
// the first default location that has one.
func readConfiguration() (*config.Configuration, error) {
	p := configPath
	if p == "" {
		found, err := FindConfiguration(configCandidates)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				exitWithConfigurationNotice()
			}
			return nil, err
		}
		p = found
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	c, err := config.ReadConfiguration(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithConfigurationNotice()
		}
		return nil, err
	}
	if debug {
		c.Debug = true
	}
	config.Set(c)
	return c, nil
}

func rootCmdRun(*cobra.Command, []string) {
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}

	c, err := readConfiguration()
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configuration")
		return
	}

	printLogo()
	if err := configureLogging(c.System.LogDirectory, c.Debug); err != nil {
		log.WithField("error", err).Fatal("failed to configure logging")
		return
	}
	log.WithField("path", c.GetPath()).Info("loading configuration from path")
	if c.Debug {
		log.Debug("running in debug mode")
	}
	log.WithField("timezone", c.System.Timezone).Info("configured ncwatch with system timezone")

	d, err := bootstrap(c)
	if err != nil {
		log.WithField("error", err).Fatal("failed to start")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := cron.New(ctx, d.monitor, c.Location(), c.Interval())
	if err != nil {
		log.WithField("error", err).Fatal("failed to configure scheduler")
		return
	}
	s.Start()
	log.WithFields(log.Fields{"interval": c.Interval().String(), "next_run": s.NextRun()}).Info("started control loop")

	if !c.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port),
		Handler: router.Configure(router.Dependencies{
			Stats:    d.stats,
			Trigger:  s,
			Database: d.store,
			Clock:    d.clock,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(log.Fields{"host_address": c.Api.Host, "host_port": c.Api.Port}).Info("configuring internal webserver")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err).Fatal("failed to configure HTTP server")
		}
	}()

	if err := sdnotify.Readiness(); err != nil {
		log.WithField("error", err).Warn("failed to notify the service manager")
	}
	_ = sdnotify.Status(fmt.Sprintf("watching %s", c))

	<-ctx.Done()
	log.Info("shutting down")
	_ = sdnotify.Stopping()

	shutdown, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdown); err != nil {
		log.WithField("error", err).Warn("failed to stop HTTP server cleanly")
	}
	s.Stop()
	d.notifier.Wait()
}

// Execute calls cobra to handle cli commands
func Execute() error {
	return root.Execute()
}

// Configures the global logger so that we can call it from any location in the
// code without having to pass around a logger instance. A second, uncoloured
// copy is written to the log directory and reopened on SIGHUP.
func configureLogging(logDir string, debug bool) error {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return errors.WithStack(err)
	}

	p := filepath.Join(logDir, "ncwatch.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.WithMessage(err, "failed to open process log file")
	}

	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	log.SetHandler(multi.New(
		cli.Default,
		cli.New(w.File, false),
	))

	log.WithField("path", p).Info("writing log files to disk")
	return nil
}

// Prints the ncwatch banner, nothing special here!
func printLogo() {
	fmt.Printf(colorstring.Color(`
[blue][bold]ncwatch[reset] [bold]v%s[reset]
throttle-aware torrent remediation%s`), system.Version, "\n\n")
}

func exitWithConfigurationNotice() {
	fmt.Print(colorstring.Color(`
[_red_][white][bold]Error: Configuration File Not Found[reset]

ncwatch was not able to locate your configuration file, and therefore is not
able to complete its boot process.

Please ensure you have copied your configuration file into the default
location, or have provided the --config flag to use a custom location.

Default Location: /etc/ncwatch/config.yml

`))
	os.Exit(1)
}
