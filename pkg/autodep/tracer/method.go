// Package tracer implements the syscall-intercepting side of autodep: it
// launches (or attaches to) a job's process tree, observes the filesystem
// accesses it performs, and reports them as depmodel.AccessEvents to a
// gatherer. Three interposition methods share the same syscall descriptor
// table and event model: ptrace (implemented directly, linux/amd64 only,
// without a seccomp filter), and library-audit/library-preload (orchestrated from the Go side,
// actually performed by an externally supplied shared object).
package tracer

import (
	"context"
	"syscall"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/event"
	"github.com/cesar-douady/open-lmake-sub004/pkg/process"
)

// Method identifies an interposition technique.
type Method uint8

const (
	// MethodPtrace intercepts syscalls via PTRACE_SYSCALL. No seccomp
	// filter is installed: the tracee stops at the entry and exit of every
	// syscall, and stops for syscalls absent from the descriptor table are
	// ignored.
	MethodPtrace Method = iota
	// MethodLdAudit intercepts libc calls via the dynamic linker's audit
	// interface (LD_AUDIT), which requires every traced binary to be
	// dynamically linked against the traced libc.
	MethodLdAudit
	// MethodLdPreload intercepts libc calls via symbol interposition
	// (LD_PRELOAD), the lightest-weight method but the easiest for a job
	// to defeat (e.g. by statically linking or calling syscall(2) directly).
	MethodLdPreload
)

// String returns a human-readable name for the method.
func (m Method) String() string {
	switch m {
	case MethodPtrace:
		return "ptrace"
	case MethodLdAudit:
		return "ld-audit"
	case MethodLdPreload:
		return "ld-preload"
	default:
		return "unknown"
	}
}

// ParseMethod parses a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "ptrace":
		return MethodPtrace, nil
	case "ld-audit":
		return MethodLdAudit, nil
	case "ld-preload":
		return MethodLdPreload, nil
	default:
		return 0, errors.Errorf("unknown tracer method: %q", s)
	}
}

// ErrInterposerUnavailable is returned by the library-audit and
// library-preload methods' Start when no interposer shared object has been
// configured: unlike ptrace, these methods depend on an externally built
// .so this module does not compile itself.
var ErrInterposerUnavailable = errors.New("no interposer shared object configured for this method")

// processAttributesFor returns the SysProcAttr every Launcher spawns its
// traced child with: DetachedProcessAttributes (a new session, so a kill
// cascade reaches every descendant) when the job runs AsSession (spec
// §4.3.5), or a plain new process group otherwise.
func processAttributesFor(asSession bool) *syscall.SysProcAttr {
	if asSession {
		return process.DetachedProcessAttributes()
	}
	return &syscall.SysProcAttr{Setpgid: true}
}

// Launcher starts and traces a single top-level job process, forwarding
// every observed access as a depmodel.AccessEvent to the supplied encoder
// until the process tree exits.
type Launcher interface {
	// Start launches argv (with the given working directory and
	// environment) under interposition and blocks until the entire process
	// tree has exited or ctx is canceled, emitting events to emit as they
	// occur. It returns the launched process's exit code.
	Start(ctx context.Context, argv []string, dir string, env []string, emit func(*event.Message) error) (int, error)
}
