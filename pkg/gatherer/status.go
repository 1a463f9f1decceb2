package gatherer

// Status is the outcome a job's execution settles into, synthesized by the
// gatherer when it decides the job's fate rather than simply forwarding the
// traced process's own exit code (spec §6, "Exit codes").
type Status uint8

const (
	// StatusRunning is the initial state: the job is still executing.
	StatusRunning Status = iota
	// StatusOk indicates the job exited successfully and no policy
	// violation was recorded.
	StatusOk
	// StatusErr indicates the job exited, but a policy violation or
	// unexpected write was recorded against it.
	StatusErr
	// StatusKilled records the gatherer's decision to kill the job, taken on
	// timeout or on a tracer Panic event; a policy violation sets StatusErr
	// instead.
	StatusKilled
	// StatusEarlyErr indicates the job could not even be started because the
	// master socket could not be opened; a launcher that fails to start the
	// child yields StatusErr.
	StatusEarlyErr
	// StatusLateLost indicates a heartbeat probe of the upstream daemon
	// failed.
	StatusLateLost
	// StatusChkDeps indicates the job is currently blocked awaiting a
	// ChkDeps reply from the upstream daemon.
	StatusChkDeps
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusOk:
		return "ok"
	case StatusErr:
		return "err"
	case StatusKilled:
		return "killed"
	case StatusEarlyErr:
		return "early-err"
	case StatusLateLost:
		return "late-lost"
	case StatusChkDeps:
		return "chk-deps"
	default:
		return "unknown"
	}
}

// Terminal reports whether this status represents a final outcome (as
// opposed to StatusRunning or StatusChkDeps, which are transient).
func (s Status) Terminal() bool {
	switch s {
	case StatusOk, StatusErr, StatusKilled, StatusEarlyErr, StatusLateLost:
		return true
	default:
		return false
	}
}

// ErrorClass identifies the category of a policy violation, used to
// deduplicate remediation hints within a single job (spec §7,
// "remediation hints attached once per error class"; supplemented from
// original_source's per-job hint deduplication, see DESIGN.md).
type ErrorClass uint8

const (
	ErrorClassTmpAccess ErrorClass = iota
	ErrorClassUnexpectedWrite
	ErrorClassMountOrChroot
	ErrorClassStaticDepUnlinked
	ErrorClassUpstreamUnavailable
)

// remediationHint returns the human-readable, user-facing hint attached to
// the first occurrence of a given error class within a job.
func remediationHint(class ErrorClass) string {
	switch class {
	case ErrorClassTmpAccess:
		return "job accessed a path outside its private tmp view while no_tmp is set; declare the dependency explicitly or relax no_tmp"
	case ErrorClassUnexpectedWrite:
		return "job wrote to a file not declared as a target; add Target/Allow flags or stop writing to it"
	case ErrorClassMountOrChroot:
		return "job attempted mount/chroot, which is not permitted under autodep tracing"
	case ErrorClassStaticDepUnlinked:
		return "job unlinked a file declared as a static dependency"
	case ErrorClassUpstreamUnavailable:
		return "upstream daemon did not respond to a sync request before the heartbeat deadline"
	default:
		return ""
	}
}
