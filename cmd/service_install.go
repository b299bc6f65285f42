package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

var (
	serviceFile    = "/etc/systemd/system/ncwatch.service"
	serviceContent = `[Unit]
Description=ncwatch throttle monitor
After=network-online.target docker.service
Wants=network-online.target

[Service]
Type=notify
User=root
WorkingDirectory=/etc/ncwatch
ExecStart=/usr/local/bin/ncwatch
Restart=on-failure
StartLimitInterval=180
StartLimitBurst=30
RestartSec=5s

[Install]
WantedBy=multi-user.target
`
	serviceCmd = &cobra.Command{
		Use:   "service-install",
		Short: "Install and enable the ncwatch systemd service",
		Run:   installService,
	}
)

func installService(*cobra.Command, []string) {
	if _, err := os.Stat(serviceFile); err == nil {
		log.WithField("path", serviceFile).Fatal("service is already installed")
		return
	}

	if err := os.WriteFile(serviceFile, []byte(serviceContent), 0o644); err != nil {
		log.WithField("error", err).Fatal("error while writing service file")
		return
	}

	for _, args := range [][]string{{"daemon-reload"}, {"enable", "--now", "ncwatch.service"}} {
		if out, err := exec.Command("systemctl", args...).CombinedOutput(); err != nil {
			log.WithField("error", err).WithField("output", string(out)).Fatal("error while running systemctl")
			return
		}
	}

	fmt.Println("ncwatch.service installed and started")
}
