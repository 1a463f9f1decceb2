package tracer

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/event"
	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
	"github.com/cesar-douady/open-lmake-sub004/pkg/timeutil"
)

// ptraceLauncher implements Launcher using PTRACE_SYSCALL. It is the only
// method requiring no external interposer: everything is driven directly
// from this process via golang.org/x/sys/unix. It only supports linux/amd64;
// other platforms fall back to the library-audit or library-preload
// methods.
type ptraceLauncher struct {
	logger *logging.Logger

	guard    *loopGuard
	confirms *confirmTracker

	// asSession mirrors Config.AsSession: when set, the traced child is
	// started in its own session (via pkg/process's
	// DetachedProcessAttributes) so the kill cascade reaches every
	// descendant rather than just the immediate child's process group.
	asSession bool

	// cwdMu is declared for chdir/fchdir bookkeeping but no code path
	// locks it: the launcher keeps no per-thread working directory, and
	// every syscall stop, chdir and fchdir included, is handled one at a
	// time by the tracing loop.
	cwdMu sync.Mutex
}

// NewPtraceLauncher constructs a Launcher using the ptrace method.
func NewPtraceLauncher(asSession bool, logger *logging.Logger) Launcher {
	return &ptraceLauncher{
		logger:    logger.Sublogger("tracer.ptrace"),
		guard:     newLoopGuard(),
		confirms:  &confirmTracker{},
		asSession: asSession,
	}
}

// threadState tracks per-thread bookkeeping across the syscall-entry and
// syscall-exit stops of a single traced syscall.
type threadState struct {
	inSyscall   bool
	number      int
	descriptor  syscallDescriptor
	path        string
	secondPath  string
	entryTimeNs int64
}

func (l *ptraceLauncher) Start(ctx context.Context, argv []string, dir string, env []string, emit func(*event.Message) error) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("empty argv")
	}

	// PTRACE_SYSCALL and friends are all relative to the calling OS
	// thread, so the whole tracing loop must run pinned to a single
	// locked thread for its entire lifetime.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	attrs := processAttributesFor(l.asSession)
	attrs.Ptrace = true
	cmd.SysProcAttr = attrs

	if err := cmd.Start(); err != nil {
		return -1, errors.Wrap(err, "unable to start traced process")
	}
	pid := cmd.Process.Pid

	var waitStatus unix.WaitStatus
	if _, err := unix.Wait4(pid, &waitStatus, 0, nil); err != nil {
		return -1, errors.Wrap(err, "unable to wait for initial stop")
	}

	// No seccomp filter is installed, so PTRACE_SYSCALL stops the tracee
	// at every syscall; handleSyscallStop ignores those whose number is
	// not in the descriptor table.
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD|unix.PTRACE_O_TRACEEXEC|
		unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_TRACEFORK|unix.PTRACE_O_TRACEVFORK|unix.PTRACE_O_EXITKILL); err != nil {
		return -1, errors.Wrap(err, "unable to set ptrace options")
	}

	states := map[int]*threadState{pid: {}}
	done := make(chan struct{})
	exitCode := -1
	var waitErr error

	go func() {
		defer close(done)
		for {
			if err := unix.PtraceSyscall(pid, 0); err != nil {
				waitErr = errors.Wrap(err, "unable to resume traced thread")
				return
			}
			var status unix.WaitStatus
			wpid, err := unix.Wait4(-1, &status, 0, nil)
			if err != nil {
				waitErr = errors.Wrap(err, "unable to wait for traced thread")
				return
			}
			if wpid == pid && status.Exited() {
				exitCode = status.ExitStatus()
				return
			}
			// PTRACE_O_TRACESYSGOOD marks syscall stops as SIGTRAP|0x80.
			if status.Stopped() && status.StopSignal() == unix.SIGTRAP|0x80 {
				l.handleSyscallStop(wpid, states, emit)
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-done
		return exitCode, ctx.Err()
	case <-done:
		return exitCode, waitErr
	}
}

// handleSyscallStop processes one PTRACE_SYSCALL stop, which alternates
// between syscall entry and syscall exit for a given thread.
func (l *ptraceLauncher) handleSyscallStop(tid int, states map[int]*threadState, emit func(*event.Message) error) {
	state, ok := states[tid]
	if !ok {
		state = &threadState{}
		states[tid] = state
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		l.logger.Warnf("unable to read registers for tid %d: %v", tid, err)
		return
	}

	if !state.inSyscall {
		state.inSyscall = true
		state.number = int(regs.Orig_rax)
		state.entryTimeNs = timeutil.NowNanoseconds()

		desc, traced := descriptorFor(state.number)
		state.descriptor = desc
		if !traced {
			return
		}

		if state.number == vforkSyscallNumber {
			// Redirect vfork to fork: vfork would suspend this thread
			// until the child execs or exits, but the tracer needs to
			// observe the child's own stops concurrently.
			regs.Orig_rax = uint64(forkSyscallNumber)
			_ = unix.PtraceSetRegs(tid, &regs)
		}

		if l.guard.Enter(tid) {
			return
		}

		state.path = l.readPathArg(tid, &regs, desc.pathArg, 0)
		if desc.hasSecondPath {
			state.secondPath = l.readPathArg(tid, &regs, desc.pathArg, 1)
		}
		return
	}

	// Syscall exit.
	state.inSyscall = false
	l.guard.Exit(tid)

	desc := state.descriptor
	if desc.name == "" {
		return
	}

	result := int64(regs.Rax)
	digest := digestForClass(desc, result)

	msg := &event.Message{
		Event: depmodel.AccessEvent{
			TimestampNs: state.entryTimeNs,
			Proc:        depmodel.ProcAccess,
			File:        depmodel.Path(state.path),
			Digest:      digest,
		},
	}

	if desc.class == classWriteContent && digest.Write == depmodel.WriteMaybe {
		msg.Event.Digest.ID = l.confirms.allocate()
	}

	if err := emit(msg); err != nil {
		l.logger.Warnf("unable to emit access event: %v", err)
	}

	if desc.class == classExec && result == 0 {
		if deps, err := sharedLibraryDeps(state.path); err == nil {
			for _, dep := range deps {
				_ = emit(&event.Message{Event: depmodel.AccessEvent{
					TimestampNs: timeutil.NowNanoseconds(),
					Proc:        depmodel.ProcAccess,
					File:        depmodel.Path(dep),
					Digest:      depmodel.Digest{Accesses: depmodel.AccessReg},
				}})
			}
		}
	}
}

// digestForClass derives the Accesses/Write bits implied by a syscall class
// and its result, absent any rule-level flag information (which the
// gatherer attaches later by consulting configured dep/target rules).
func digestForClass(desc syscallDescriptor, result int64) depmodel.Digest {
	d := depmodel.Digest{}
	switch desc.class {
	case classStat:
		d.Accesses = depmodel.AccessStat
	case classReadLink:
		d.Accesses = depmodel.AccessLnk
	case classReadDir:
		d.Accesses = depmodel.AccessStat
		d.ReadDir = true
	case classReadContent, classExec:
		d.Accesses = depmodel.AccessReg
	case classWriteContent, classRename, classUnlink, classLink:
		if result >= 0 {
			d.Write = depmodel.WriteYes
		} else {
			d.Write = depmodel.WriteMaybe
		}
	}
	return d
}

// readPathArg reads a NUL-terminated path string from the traced process's
// memory for the given positional path argument (0 for the primary path, 1
// for a second path in two-path syscalls like rename).
func (l *ptraceLauncher) readPathArg(tid int, regs *unix.PtraceRegs, kind argKind, which int) string {
	if kind == argNone || kind == argFd {
		return ""
	}

	var addr uint64
	switch {
	case kind == argPath && which == 0:
		addr = regs.Rdi
	case kind == argPath && which == 1:
		addr = regs.Rsi
	case kind == argPathAt && which == 0:
		addr = regs.Rsi
	case kind == argPathAt && which == 1:
		addr = regs.Rdx
	}
	if addr == 0 {
		return ""
	}

	return readCString(tid, uintptr(addr))
}

// readCString reads a NUL-terminated string from the traced process's
// address space at addr, one word at a time via PEEKDATA.
func readCString(tid int, addr uintptr) string {
	const maxLength = 4096
	var buf []byte
	word := make([]byte, 8)
	for len(buf) < maxLength {
		n, err := unix.PtracePeekData(tid, addr+uintptr(len(buf)), word)
		if err != nil || n == 0 {
			break
		}
		for _, b := range word {
			if b == 0 {
				return string(buf)
			}
			buf = append(buf, b)
		}
	}
	return string(buf)
}
