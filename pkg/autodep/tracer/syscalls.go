package tracer

// argKind classifies how a traced syscall's argument refers to a
// filesystem path and which descriptor (if any) it is resolved against.
type argKind uint8

const (
	argNone argKind = iota
	// argPath indicates the argument is a plain NUL-terminated path,
	// resolved against the process's current working directory.
	argPath
	// argPathAt indicates the argument is a NUL-terminated path resolved
	// against a preceding dirfd argument (the *at() syscall family).
	argPathAt
	// argFd indicates the argument is a file descriptor referring directly
	// to an already-open file (no path component at all, e.g. fstat).
	argFd
)

// syscallClass classifies the access semantics of a traced syscall, driving
// which Accesses/Write bits the tracer attaches to the resulting event.
type syscallClass uint8

const (
	classStat syscallClass = iota
	classReadContent
	classWriteContent
	classReadLink
	classReadDir
	classExec
	classChdir
	classChroot
	classMount
	classRename
	classUnlink
	classLink
)

// syscallDescriptor describes, for one syscall number, how the tracer
// extracts path arguments and what access semantics to attach.
type syscallDescriptor struct {
	name       string
	pathArg    argKind
	class      syscallClass
	// hasSecondPath is set for two-path syscalls (rename, link, symlink):
	// the tracer must resolve both the source and destination arguments.
	hasSecondPath bool
	// noFollow is set for syscalls that act on a symlink itself rather
	// than its target (lstat-family, unlink, readlink).
	noFollow bool
}

// maxSyscallNumber bounds the fixed-size descriptor table. Linux x86-64
// syscall numbers top out well under this; the table is sized generously
// to tolerate future syscall additions without a table resize.
const maxSyscallNumber = 512

// descriptors is the fixed syscall descriptor table, indexed by syscall
// number and shared by every interposition method: the ptrace method reads
// it by the raw syscall number read from the stopped thread's registers; the audit/preload
// methods read it by the number the interposer .so reports over its
// reporting channel, which is constructed from the same table so the two
// stay in lockstep.
var descriptors [maxSyscallNumber]syscallDescriptor

func register(number int, d syscallDescriptor) {
	descriptors[number] = d
}

func init() {
	// Numbers below are the linux/amd64 syscall table; other
	// architectures are out of scope for the ptrace method (see
	// ptrace_linux_amd64.go), but the table itself is architecture-neutral
	// so the audit/preload methods, which run in the traced process's own
	// address space, can reuse it regardless of host architecture.
	register(2, syscallDescriptor{name: "open", pathArg: argPath, class: classReadContent})
	register(257, syscallDescriptor{name: "openat", pathArg: argPathAt, class: classReadContent})
	register(4, syscallDescriptor{name: "stat", pathArg: argPath, class: classStat})
	register(6, syscallDescriptor{name: "lstat", pathArg: argPath, class: classStat, noFollow: true})
	register(262, syscallDescriptor{name: "newfstatat", pathArg: argPathAt, class: classStat})
	register(89, syscallDescriptor{name: "readlink", pathArg: argPath, class: classReadLink, noFollow: true})
	register(267, syscallDescriptor{name: "readlinkat", pathArg: argPathAt, class: classReadLink, noFollow: true})
	register(21, syscallDescriptor{name: "access", pathArg: argPath, class: classStat})
	register(269, syscallDescriptor{name: "faccessat", pathArg: argPathAt, class: classStat})
	register(80, syscallDescriptor{name: "chdir", pathArg: argPath, class: classChdir})
	register(81, syscallDescriptor{name: "fchdir", pathArg: argFd, class: classChdir})
	register(161, syscallDescriptor{name: "chroot", pathArg: argPath, class: classChroot})
	register(165, syscallDescriptor{name: "mount", pathArg: argPath, class: classMount})
	register(82, syscallDescriptor{name: "rename", pathArg: argPath, class: classRename, hasSecondPath: true})
	register(264, syscallDescriptor{name: "renameat", pathArg: argPathAt, class: classRename, hasSecondPath: true})
	register(316, syscallDescriptor{name: "renameat2", pathArg: argPathAt, class: classRename, hasSecondPath: true})
	register(87, syscallDescriptor{name: "unlink", pathArg: argPath, class: classUnlink, noFollow: true})
	register(263, syscallDescriptor{name: "unlinkat", pathArg: argPathAt, class: classUnlink, noFollow: true})
	register(86, syscallDescriptor{name: "link", pathArg: argPath, class: classLink, hasSecondPath: true})
	register(265, syscallDescriptor{name: "linkat", pathArg: argPathAt, class: classLink, hasSecondPath: true})
	register(88, syscallDescriptor{name: "symlink", pathArg: argPath, class: classLink, hasSecondPath: true})
	register(266, syscallDescriptor{name: "symlinkat", pathArg: argPathAt, class: classLink, hasSecondPath: true})
	register(83, syscallDescriptor{name: "mkdir", pathArg: argPath, class: classWriteContent})
	register(258, syscallDescriptor{name: "mkdirat", pathArg: argPathAt, class: classWriteContent})
	register(59, syscallDescriptor{name: "execve", pathArg: argPath, class: classExec})
	register(322, syscallDescriptor{name: "execveat", pathArg: argPathAt, class: classExec})
	register(217, syscallDescriptor{name: "getdents64", pathArg: argFd, class: classReadDir})
}

// descriptorFor returns the descriptor for a syscall number, if traced.
func descriptorFor(number int) (syscallDescriptor, bool) {
	if number < 0 || number >= maxSyscallNumber {
		return syscallDescriptor{}, false
	}
	d := descriptors[number]
	if d.name == "" {
		return syscallDescriptor{}, false
	}
	return d, true
}

// vforkSyscallNumber and forkSyscallNumber are used by the ptrace method to
// redirect vfork to fork: vfork suspends the parent until the child execs
// or exits, which would deadlock a single-threaded tracer waiting on both.
const (
	vforkSyscallNumber = 58
	forkSyscallNumber  = 57
	cloneSyscallNumber = 56
)
