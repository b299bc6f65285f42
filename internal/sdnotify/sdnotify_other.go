//go:build !linux

package sdnotify

func socketNotify(string) error {
	return nil
}
