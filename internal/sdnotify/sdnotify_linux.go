package sdnotify

import (
	"io"
	"net"
	"os"
	"strings"

	"emperror.dev/errors"
)

func notify(path string, r io.Reader) error {
	s := &net.UnixAddr{
		Name: path,
		Net:  "unixgram",
	}
	c, err := net.DialUnix(s.Net, nil, s)
	if err != nil {
		return errors.WithStack(err)
	}
	defer c.Close()

	if _, err := io.Copy(c, r); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func socketNotify(payload string) error {
	v, ok := os.LookupEnv("NOTIFY_SOCKET")
	if !ok || v == "" {
		return nil
	}
	return notify(v, strings.NewReader(payload))
}
