package tracer

import (
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/event"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
	"github.com/cesar-douady/open-lmake-sub004/pkg/process"
)

// AutodepEnv is the struct the Tracer exports to a traced child as
// LMAKE_AUTODEP_ENV (spec §6, "Environment bridging": "base64/url-encoded
// struct holding socket paths, enabled flags, source dirs, tmp mapping").
// Its wire layout is this module's own affair: the only consumer is the
// external interposer .so, which this module does not build, so there is
// nothing on the Go side to keep it symmetric with.
type AutodepEnv struct {
	MasterSocketPath string
	SrcDirs          []string
	TmpDir           string
	TmpView          string
}

// fieldSeparator and listSeparator delimit AutodepEnv's fields before
// base64 encoding. Neither can appear in a path, so no escaping is needed.
const (
	fieldSeparator = "\x00"
	listSeparator  = "\x01"
)

// Encode renders e as the base64/url-encoded blob LMAKE_AUTODEP_ENV carries.
func (e AutodepEnv) Encode() string {
	fields := []string{
		e.MasterSocketPath,
		strings.Join(e.SrcDirs, listSeparator),
		e.TmpDir,
		e.TmpView,
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(fields, fieldSeparator)))
}

// libraryVarFor returns the dynamic-linker environment variable a method
// hooks: LD_AUDIT for MethodLdAudit, LD_PRELOAD for MethodLdPreload.
func libraryVarFor(method Method) string {
	if method == MethodLdAudit {
		return "LD_AUDIT"
	}
	return "LD_PRELOAD"
}

// withLibraryVar sets key to interposerPath in env, prepending rather than
// overwriting any value already present (spec §6: "preserving any prior
// value by prepending").
func withLibraryVar(env []string, key, interposerPath string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			out = append(out, prefix+interposerPath+":"+strings.TrimPrefix(kv, prefix))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, prefix+interposerPath)
	}
	return out
}

// libraryLauncher implements Launcher for the library-audit and
// library-preload methods (spec §4.2, items 1-2): a real child process is
// spawned through the host's own dynamic linker, which is handed an
// externally supplied interposer shared object via LD_AUDIT/LD_PRELOAD.
// Unlike the ptrace method, everything past "spawn and reap" happens
// inside the interposer and arrives back here only over the master
// socket, so Start itself is a thin, ordinary os/exec wrapper.
type libraryLauncher struct {
	logger         *logging.Logger
	method         Method
	interposerPath string
	autodepEnv     AutodepEnv
	asSession      bool
}

// NewLibraryLauncher constructs a Launcher for MethodLdAudit or
// MethodLdPreload. interposerPath names the externally built shared object;
// if empty, Start reports ErrInterposerUnavailable rather than attempting
// to launch an untraced job.
func NewLibraryLauncher(method Method, interposerPath string, autodepEnv AutodepEnv, asSession bool, logger *logging.Logger) Launcher {
	return &libraryLauncher{
		logger:         logger.Sublogger("tracer." + method.String()),
		method:         method,
		interposerPath: interposerPath,
		autodepEnv:     autodepEnv,
		asSession:      asSession,
	}
}

func (l *libraryLauncher) Start(ctx context.Context, argv []string, dir string, env []string, emit func(*event.Message) error) (int, error) {
	if l.interposerPath == "" {
		return -1, ErrInterposerUnavailable
	}
	if len(argv) == 0 {
		return -1, errors.New("empty argv")
	}

	childEnv := append(append([]string{}, env...), "LMAKE_AUTODEP_ENV="+l.autodepEnv.Encode())
	childEnv = withLibraryVar(childEnv, libraryVarFor(l.method), l.interposerPath)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = childEnv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.SysProcAttr = processAttributesFor(l.asSession)

	var stderrTail strings.Builder
	cmd.Stderr = &teeWriter{w: os.Stderr, tail: &stderrTail}

	if err := cmd.Start(); err != nil {
		return -1, errors.Wrap(err, "unable to start traced process")
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-waitDone
	case waitErr = <-waitDone:
	}

	code, codeErr := process.ExitCodeForProcessState(cmd.ProcessState)
	if codeErr != nil {
		return -1, errors.Wrap(codeErr, "unable to determine traced process exit code")
	}

	if waitErr != nil && process.OutputIsPOSIXCommandNotFound(stderrTail.String()) {
		l.logger.Warnf("traced command appears not to have been found: %s", argv[0])
	}

	if ctx.Err() != nil {
		return code, ctx.Err()
	}
	return code, nil
}

// teeWriter copies everything written to w into tail as well, so the
// child's stderr can still be inspected for a "command not found" style
// message after being forwarded live to the parent's own stderr.
type teeWriter struct {
	w    *os.File
	tail *strings.Builder
}

func (t *teeWriter) Write(p []byte) (int, error) {
	t.tail.Write(p)
	return t.w.Write(p)
}
