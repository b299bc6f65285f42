// Package sdnotify tells the service manager what the daemon is doing.
//
// On linux this goes through the systemd socket named by the "NOTIFY_SOCKET"
// environment variable. Other operating systems are not supported and every
// call is a no-op there.
package sdnotify

// Readiness reports that the scheduler has started.
func Readiness() error {
	return socketNotify("READY=1")
}

// Stopping reports that a shutdown is in progress.
func Stopping() error {
	return socketNotify("STOPPING=1")
}

// Status publishes a one line description of the current state, shown by
// systemctl status.
func Status(msg string) error {
	return socketNotify("STATUS=" + msg)
}
