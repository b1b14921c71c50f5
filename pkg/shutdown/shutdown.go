package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"adsingest/pkg/logger"
)

// exit is swapped out by tests.
var exit = os.Exit

// Abort logs a fatal startup error, writes a crash dump into crashDir (when
// non-empty) and exits with status 2 after delay.
func Abort(contextMsg string, err error, crashDir string, delay time.Duration) {
	logger.Log.Error("startup_fatal", zap.String("msg", contextMsg), zap.Error(err))
	if crashDir != "" {
		path, derr := WriteCrashDump(crashDir, contextMsg, err)
		if derr != nil {
			logger.Log.Error("crash_dump_failed", zap.Error(derr))
			fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
		} else {
			logger.Log.Error("crash_dump_written", zap.String("path", path))
			fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", path)
		}
	}
	logger.Sync()
	if delay > 0 {
		time.Sleep(delay)
	}
	exit(2)
}

// WriteCrashDump writes the reason, error, environment and all goroutine
// stacks into a new file under dir and returns its path.
func WriteCrashDump(dir, reason string, err error) (string, error) {
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", errors.Wrap(e, "create crash dir")
	}

	f, ferr := os.CreateTemp(dir, ".crash-*.tmp")
	if ferr != nil {
		return "", errors.Wrap(ferr, "create temp crash file")
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "\n--- environ ---\n")
	for _, e := range os.Environ() {
		fmt.Fprintln(f, logger.RedactEnv(e))
	}
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	if cerr := f.Close(); cerr != nil {
		return "", errors.Wrap(cerr, "close crash file")
	}

	dumpPath := filepath.Join(dir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", errors.Wrap(err, "move crash dump into place")
	}
	_ = os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE dumps goroutine stacks to the log and cancels as well.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Log.Info("signal_received", zap.String("signal", s.String()), zap.String("msg", "shutdown requested"))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, unix.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Log.Warn("signal_received", zap.String("signal", s.String()), zap.String("goroutines", string(buf[:n])))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}
