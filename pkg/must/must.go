// Package must provides helpers for best-effort cleanup operations whose
// errors are worth logging but not worth propagating: closing a listener
// during shutdown, unlocking a cache entry after a deferred panic, removing a
// stale staging file. Each helper takes the logger it should report to so
// that gatherer, tracer, and cache code can route these messages through
// their own sublogger.
package must

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

func Fprint(w io.Writer, logger *logging.Logger, a ...any) {
	s := fmt.Sprint(a...)
	n, err := fmt.Fprint(w, s)
	if err != nil {
		logger.Warnf("unable to Fprint %q: %s", s, err.Error())
	}
	if n < len(s) {
		logger.Warnf("unable to Fprint all of %q; printed only %d of %d bytes", s, n, len(s))
	}
}

func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

func Serve(ws interface{ Serve(net.Listener) error }, nl net.Listener, logger *logging.Logger) {
	if err := ws.Serve(nl); err != nil {
		logger.Warnf("unable to serve %q: %s", nl.Addr(), err.Error())
	}
}

func WriteString(ws interface{ WriteString(string) (int, error) }, s string, logger *logging.Logger) {
	n, err := ws.WriteString(s)
	if err != nil {
		logger.Warnf("unable to write string %q: %s", s, err.Error())
	}
	if n < len(s) {
		logger.Warnf("unable to write all of string %q; only wrote %d of %d bytes", s, n, len(s))
	}
}

func CloseWrite(cw interface{ CloseWrite() error }, logger *logging.Logger) {
	if err := cw.CloseWrite(); err != nil {
		logger.Warnf("unable to CloseWrite: %s", err.Error())
	}
}

func Signal(s interface{ Signal(os.Signal) error }, sig os.Signal, logger *logging.Logger) {
	if err := s.Signal(sig); err != nil {
		logger.Warnf("unable to signal %q: %s", sig, err.Error())
	}
}

func Terminate(s interface{ Terminate() error }, logger *logging.Logger) {
	if err := s.Terminate(); err != nil {
		logger.Warnf("unable to terminate: %s", err.Error())
	}
}

func Remove(r interface{ Remove(string) error }, path string, logger *logging.Logger) {
	if err := r.Remove(path); err != nil {
		logger.Warnf("unable to remove %q: %s", path, err.Error())
	}
}

func Unlock(locker interface{ Unlock() error }, logger *logging.Logger) {
	if err := locker.Unlock(); err != nil {
		logger.Warnf("unable to unlock: %s", err.Error())
	}
}

func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("unable to remove %q: %s", name, err.Error())
	}
}

func Truncate(t interface{ Truncate(int64) error }, size int64, logger *logging.Logger) {
	if err := t.Truncate(size); err != nil {
		logger.Warnf("unable to truncate to size %d: %s", size, err.Error())
	}
}

func Kill(s interface{ Kill() error }, logger *logging.Logger) {
	if err := s.Kill(); err != nil {
		logger.Warnf("unable to kill: %s", err.Error())
	}
}

func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("unable to copy from source to destination: %s", err.Error())
	}
}

func RemoveFile(rf interface{ RemoveFile(string) error }, name string, logger *logging.Logger) {
	if err := rf.RemoveFile(name); err != nil {
		logger.Warnf("unable to remove file %q: %s", name, err.Error())
	}
}

func Shutdown(sd interface{ Shutdown() error }, logger *logging.Logger) {
	if err := sd.Shutdown(); err != nil {
		logger.Warnf("unable to shutdown: %s", err.Error())
	}
}

func Flush(sd interface{ Flush() error }, logger *logging.Logger) {
	if err := sd.Flush(); err != nil {
		logger.Warnf("unable to flush: %s", err.Error())
	}
}

func Release(r interface{ Release() error }, logger *logging.Logger) {
	if err := r.Release(); err != nil {
		logger.Warnf("unable to release: %s", err.Error())
	}
}

// Encode is used for best-effort encoding of non-critical side-channel
// messages (e.g. a heartbeat) where a failure should be logged but should not
// abort the caller.
func Encode(e interface{ Encode(v any) error }, value any, logger *logging.Logger) {
	if err := e.Encode(value); err != nil {
		logger.Warnf("unable to encode %v: %s", value, err.Error())
	}
}

func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("unable to succeed at %s: %s", task, err.Error())
	}
}
