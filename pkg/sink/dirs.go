package sink

import (
	"os"

	"github.com/pkg/errors"
)

// ensureLogDir creates the log directory if needed and checks that it is
// a real, private, writable directory.
func ensureLogDir(p string) error {
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return errors.Errorf("log path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return errors.Errorf("log path exists and is not a directory: %s", p)
		}
		if fi.Mode().Perm()&0o022 != 0 {
			return errors.Errorf("log path is group or world writable: %s", p)
		}
	}

	if err := os.MkdirAll(p, 0o700); err != nil {
		return errors.Wrapf(err, "create log path %s", p)
	}

	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return errors.Wrapf(err, "log path not writable: %s", p)
	}
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
