package gatherer

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/event"
	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/tracer"
	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/ipc"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
	"github.com/cesar-douady/open-lmake-sub004/pkg/must"
	"github.com/cesar-douady/open-lmake-sub004/pkg/state"
	"github.com/cesar-douady/open-lmake-sub004/pkg/timeutil"
)

// UpstreamClient models the scheduler daemon's request queue as an external
// collaborator (spec §1: explicitly out of scope, "named through their
// consumed/produced interfaces"). The gatherer calls it on the reactor
// goroutine for Heartbeat, DepDirect, DepVerbose and sync ChkDeps requests,
// so event processing waits for those round-trips; an async ChkDeps is
// forwarded from its own goroutine and its reply is discarded.
type UpstreamClient interface {
	// ChkDeps forwards a snapshot digest and returns whether the upstream
	// daemon considers the job's dependencies as they stand acceptable to
	// continue.
	ChkDeps(ctx context.Context, digest depmodel.JobDigest) (ok bool, err error)
	// DepDirect registers a single dependency with the daemon directly and
	// returns the recorded content digest, if the daemon has one on file.
	DepDirect(ctx context.Context, file depmodel.Path) (depmodel.Crc, error)
	// DepVerbose is DepDirect's richer counterpart used when the caller
	// also wants to know whether the file is currently up to date.
	DepVerbose(ctx context.Context, file depmodel.Path) (crc depmodel.Crc, upToDate bool, err error)
	// Heartbeat probes the upstream daemon's liveness. Gather calls it on
	// every HeartbeatInterval tick for the whole job, whether or not a sync
	// request is outstanding.
	Heartbeat(ctx context.Context) error
}

// Config bundles the tunables the Gatherer needs for a single job run.
type Config struct {
	// MasterSocketPath is the path of the UNIX socket accepting per-job
	// slave connections from the traced process tree (used by the
	// library-audit and library-preload tracer methods; the ptrace method
	// reports events via a direct in-process callback instead, so this may
	// be empty when MethodPtrace is configured).
	MasterSocketPath string
	// Timeout is the wall-clock deadline for the whole job.
	Timeout time.Duration
	// KillCascade is the escalating signal list for a kill decision. Gather
	// arms its ticker and counts rounds, but sends none of the signals to
	// the job.
	KillCascade KillCascade
	// NetworkDelay is added to every timeout computation involving the
	// upstream daemon, and bounds the end-of-life drain wait
	// (network_delay + 1s, spec §4.3.3).
	NetworkDelay time.Duration
	// HeartbeatInterval is how often the upstream daemon is probed. The
	// probe runs for the whole job, not only while a sync request is
	// outstanding. Zero disables the heartbeat.
	HeartbeatInterval time.Duration
	// AsSession records whether the job runs in its own session (spec
	// §4.3.5). Gather does not read it; the session is set up by the tracer
	// launcher it is given.
	AsSession bool
	// Analyze carries the parameters the final analysis pass needs.
	Analyze AnalyzeConfig
}

// Gatherer hosts the event server for a single job execution: it accepts
// AccessEvents from the tracer (whether delivered by direct callback or
// over the wire), merges them into AccessInfo, supervises the job's
// lifecycle, and produces the final JobDigest.
//
// All AccessInfo mutation happens on the single goroutine running Gather;
// every other goroutine (connection readers, the upstream client, the
// guard watcher, the traced child) only ever posts onto channels consumed
// by that goroutine (spec §4.3.5: "All AccessInfo updates happen on the
// gathering thread; worker threads never mutate").
type Gatherer struct {
	logger   *logging.Logger
	cfg      Config
	upstream UpstreamClient

	infos    map[depmodel.Path]*AccessInfo
	patterns []accessPatternRule
	hints    seenErrorClasses

	status      Status
	statusLock  *state.TrackingLock
	statusIndex *state.Tracker

	incoming chan inboundMessage
	errs     chan error

	guard *guardWatcher
}

// inboundMessage pairs a decoded Message with the connection it arrived on,
// so a synchronous reply (ChkDeps, DepDirect/DepVerbose, List) can be sent
// back down the same fd it was requested on (spec §6). conn is nil for
// events delivered by a direct in-process callback rather than over a
// socket (the ptrace tracer method runs in the gatherer's own process and
// has no connection to reply on; such sync requests are best-effort only).
type inboundMessage struct {
	msg  *event.Message
	conn net.Conn
}

// New creates a Gatherer for a single job run.
func New(cfg Config, upstream UpstreamClient, logger *logging.Logger) *Gatherer {
	tracker := state.NewTracker()
	return &Gatherer{
		logger:      logger.Sublogger("gatherer"),
		cfg:         cfg,
		upstream:    upstream,
		infos:       make(map[depmodel.Path]*AccessInfo),
		hints:       make(seenErrorClasses),
		incoming:    make(chan inboundMessage, 256),
		errs:        make(chan error, 8),
		statusLock:  state.NewTrackingLock(tracker),
		statusIndex: tracker,
	}
}

// Status returns the gatherer's current status.
func (g *Gatherer) Status() Status {
	g.statusLock.Lock()
	defer g.statusLock.UnlockWithoutNotify()
	return g.status
}

func (g *Gatherer) setStatus(s Status) {
	g.statusLock.Lock()
	g.status = s
	g.statusLock.Unlock()
}

// WaitForStatusChange blocks until the job's status has changed from the
// index previously observed by the caller (pass 0 to get the current status
// immediately), so an external caller polling this job's outcome (spec §1:
// the scheduler daemon, named only through the interfaces it consumes) can
// be notified without its own separate signaling channel.
func (g *Gatherer) WaitForStatusChange(ctx context.Context, previousIndex uint64) (uint64, Status, error) {
	index, err := g.statusIndex.WaitForChange(ctx, previousIndex)
	return index, g.Status(), err
}

// emit is the callback passed to tracer.Launcher.Start. It may be called
// concurrently (library-audit/preload connections each run their own
// reader goroutine; the ptrace method calls it from its single parent
// thread), so it does nothing but hand the message to the reactor
// goroutine over a channel.
func (g *Gatherer) emit(msg *event.Message) error {
	g.post(inboundMessage{msg: msg})
	return nil
}

func (g *Gatherer) post(im inboundMessage) {
	select {
	case g.incoming <- im:
		return
	default:
	}
	// The buffered fast path is full; block rather than drop an event, since
	// a dropped Access event would silently corrupt the final digest.
	g.incoming <- im
}

// serveMasterSocket accepts slave connections on the master socket and
// decodes framed Messages from each onto the shared incoming channel. Used
// by the library-audit and library-preload methods, whose interposer runs
// in the traced process's own address space and so can only report over
// IPC (spec §4.3.1, "master socket").
func (g *Gatherer) serveMasterSocket(ctx context.Context, listener net.Listener) {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		must.Close(listener, g.logger)
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case g.errs <- errors.Wrap(err, "master socket accept failed"):
			default:
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer must.Close(conn, g.logger)
			g.serveConnection(conn)
		}()
	}
}

// serveConnection decodes Messages from a single slave connection in order
// (FIFO per connection, per spec §4.3.1/§5) until it closes or a decode
// error occurs.
func (g *Gatherer) serveConnection(conn net.Conn) {
	// A slave that connects but never sends its first frame would otherwise
	// pin this goroutine (and the connection's fd) open indefinitely;
	// RecommendedDialTimeout bounds how long it gets to prove itself live,
	// mirroring the same constant's role bounding the dial side in pkg/ipc.
	if err := conn.SetReadDeadline(time.Now().Add(ipc.RecommendedDialTimeout)); err != nil {
		g.logger.Warn(errors.Wrap(err, "unable to set initial read deadline on job connection"))
	}

	decoder := event.NewDecoder(conn)
	gotFirst := false
	for {
		msg, err := decoder.Decode()
		if err != nil {
			if err != io.EOF {
				select {
				case g.errs <- errors.Wrap(err, "decode failed on job connection"):
				default:
				}
			}
			return
		}
		if !gotFirst {
			gotFirst = true
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				g.logger.Warn(errors.Wrap(err, "unable to clear read deadline on job connection"))
			}
		}
		g.post(inboundMessage{msg: msg, conn: conn})
	}
}

// handleMessage dispatches a single decoded Message per the table in spec
// §4.3.2. It runs exclusively on the reactor goroutine.
func (g *Gatherer) handleMessage(ctx context.Context, msg *event.Message, conn net.Conn) {
	ev := msg.Event
	path := ev.File

	switch ev.Proc {
	case depmodel.ProcAccess:
		g.infoFor(path).recordAccess(ev)

	case depmodel.ProcConfirm:
		g.infoFor(path).recordConfirm(ev.Digest.ID, ev.Digest.Write == depmodel.WriteYes)

	case depmodel.ProcChkDeps:
		g.handleChkDeps(ctx, msg, conn)

	case depmodel.ProcDepDirect:
		g.handleDepDirect(ctx, msg, conn, false)

	case depmodel.ProcDepVerbose:
		g.handleDepDirect(ctx, msg, conn, true)

	case depmodel.ProcList:
		g.handleList(msg, conn)

	case depmodel.ProcTmp:
		g.policyViolation(ErrorClassTmpAccess)

	case depmodel.ProcMount, depmodel.ProcChroot:
		g.policyViolation(ErrorClassMountOrChroot)

	case depmodel.ProcGuard:
		g.infoFor(path)
		if g.guard != nil && g.cfg.Analyze.Resolve != nil {
			if real, ok := g.cfg.Analyze.Resolve(path.Dir()); ok {
				if err := g.guard.Guard(real); err != nil {
					g.logger.Warn(err)
				}
			}
		}

	case depmodel.ProcPanic:
		g.logger.Errorf("tracer panic: %s", ev.Message)
		g.setStatus(StatusKilled)

	case depmodel.ProcTrace:
		g.logger.Tracef("%s", ev.Message)

	case depmodel.ProcAccessPattern:
		if rule, err := parseAccessPattern(ev.Message, ev.TimestampNs); err == nil {
			g.patterns = append(g.patterns, rule)
		} else {
			g.logger.Warn(err)
		}
	}
}

func (g *Gatherer) infoFor(path depmodel.Path) *AccessInfo {
	info, ok := g.infos[path]
	if !ok {
		info = newAccessInfo(path)
		g.infos[path] = info
	}
	return info
}

func (g *Gatherer) policyViolation(class ErrorClass) {
	g.logger.Warnf("%s", remediationHint(class))
	g.setStatus(StatusErr)
}

// handleChkDeps implements the "delayed" ChkDeps request (spec §4.3.2):
// once invoked, it synthesizes a snapshot digest from the state
// accumulated so far and forwards it to the daemon, optionally blocking
// the requesting connection until the reply arrives.
func (g *Gatherer) handleChkDeps(ctx context.Context, msg *event.Message, conn net.Conn) {
	snapshot := analyze(g.infos, g.patterns, g.cfg.Analyze)

	reply := func() {
		ok, err := g.upstream.ChkDeps(ctx, snapshot)
		if msg.Sync == event.SyncNo {
			return
		}
		if err != nil {
			g.logger.Warn(errors.Wrap(err, "ChkDeps request failed"))
			ok = false
		}
		g.replyBool(conn, ok)
	}

	if msg.Sync == event.SyncNo {
		go reply()
		return
	}
	g.setStatus(StatusChkDeps)
	reply()
	if g.Status() == StatusChkDeps {
		g.setStatus(StatusRunning)
	}
}

// handleDepDirect implements DepDirect/DepVerbose forwarding: the daemon is
// consulted for a file's recorded content digest and, on reply, the file is
// registered as a dep (spec §4.3.2).
func (g *Gatherer) handleDepDirect(ctx context.Context, msg *event.Message, conn net.Conn, verbose bool) {
	path := msg.Event.File
	info := g.infoFor(path)
	info.forceIsDep = true

	var crc depmodel.Crc
	var err error
	if verbose {
		var upToDate bool
		crc, upToDate, err = g.upstream.DepVerbose(ctx, path)
		_ = upToDate
	} else {
		crc, err = g.upstream.DepDirect(ctx, path)
	}
	if err != nil {
		g.logger.Warn(errors.Wrapf(err, "dep request failed for %s", path))
	}

	if msg.Sync != event.SyncNo {
		g.replyCrc(conn, crc)
	}
}

// handleList implements the delayed List request: it returns the names of
// targets/deps recorded so far matching a write/read filter (spec §4.3.2).
func (g *Gatherer) handleList(msg *event.Message, conn net.Conn) {
	wantWrites := msg.Event.Digest.Write != depmodel.WriteNo

	var names []string
	for path, info := range g.infos {
		if wantWrites {
			if _, written := info.FirstWrite(); written {
				names = append(names, string(path))
			}
		} else {
			if !info.accesses.IsEmpty() {
				names = append(names, string(path))
			}
		}
	}

	if msg.Sync != event.SyncNo {
		g.replyList(conn, names)
	}
}

// replyBool, replyCrc, and replyList send a minimal reply frame back down
// the same connection a sync request arrived on (spec §6: "sync:u8 ...
// Yes means reply expected on same fd").
func (g *Gatherer) replyBool(conn net.Conn, ok bool) {
	if conn == nil {
		return
	}
	enc := event.NewEncoder(conn)
	write := depmodel.WriteNo
	if ok {
		write = depmodel.WriteYes
	}
	must.Encode(replyEncoder{enc}, &event.Message{
		Event: depmodel.AccessEvent{Proc: depmodel.ProcChkDeps, Digest: depmodel.Digest{Write: write}},
	}, g.logger)
}

func (g *Gatherer) replyCrc(conn net.Conn, crc depmodel.Crc) {
	if conn == nil {
		return
	}
	enc := event.NewEncoder(conn)
	must.Encode(replyEncoder{enc}, &event.Message{
		Event: depmodel.AccessEvent{Proc: depmodel.ProcDepDirect, Message: crc.String()},
	}, g.logger)
}

func (g *Gatherer) replyList(conn net.Conn, names []string) {
	if conn == nil {
		return
	}
	enc := event.NewEncoder(conn)
	joined := ""
	for i, n := range names {
		if i > 0 {
			joined += "\n"
		}
		joined += n
	}
	must.Encode(replyEncoder{enc}, &event.Message{
		Event: depmodel.AccessEvent{Proc: depmodel.ProcList, Message: joined},
	}, g.logger)
}

// replyEncoder adapts *event.Encoder.Encode's concrete *Message parameter
// to the interface{ Encode(v any) error } shape must.Encode expects.
type replyEncoder struct{ enc *event.Encoder }

func (r replyEncoder) Encode(v any) error {
	return r.enc.Encode(v.(*event.Message))
}

// Gather runs a single job to completion: it spawns the child through
// launcher, drives the single-goroutine reactor loop over every event
// source named in spec §4.3.1, and returns the final JobDigest alongside
// the terminal Status and the job's raw process exit code.
func (g *Gatherer) Gather(ctx context.Context, launcher tracer.Launcher, argv []string, dir string, env []string) (depmodel.JobDigest, Status, int, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer g.statusIndex.Terminate()

	g.cfg.Analyze.StartNs = nowFunc()
	g.setStatus(StatusRunning)

	var masterListener net.Listener
	if g.cfg.MasterSocketPath != "" {
		var err error
		masterListener, err = ipc.NewListener(g.cfg.MasterSocketPath)
		if err != nil {
			return depmodel.JobDigest{}, StatusEarlyErr, 0, errors.Wrap(err, "unable to open master socket")
		}
		defer must.Close(masterListener, g.logger)
		go g.serveMasterSocket(jobCtx, masterListener)
	}

	if gw, err := newGuardWatcher(g.logger); err == nil {
		g.guard = gw
		defer must.Close(g.guard, g.logger)
	} else {
		g.logger.Warn(err)
	}

	exitCh := make(chan exitResult, 1)
	go func() {
		code, err := launcher.Start(jobCtx, argv, dir, env, g.emit)
		exitCh <- exitResult{code: code, err: err}
	}()

	d := newDeadlines(g.cfg.Timeout, g.cfg.HeartbeatInterval)
	defer d.stopAll()

	var exitCode int
	var exitErr error

	for {
		var killTickerC <-chan time.Time
		if d.killTicker != nil {
			killTickerC = d.killTicker.C
		}
		var drainC <-chan time.Time
		if d.drainTimer != nil {
			drainC = d.drainTimer.C
		}
		var heartbeatC <-chan time.Time
		if d.heartbeat != nil {
			heartbeatC = d.heartbeat.C
		}
		var guardSettledC <-chan struct{}
		var guardErrorsC <-chan error
		if g.guard != nil {
			guardSettledC = g.guard.Settled()
			guardErrorsC = g.guard.Errors()
		}

		select {
		case im := <-g.incoming:
			g.handleMessage(jobCtx, im.msg, im.conn)

		case err := <-g.errs:
			g.logger.Warn(err)

		case res := <-exitCh:
			exitCode, exitErr = res.code, res.err
			if drainC == nil {
				d.armDrain(g.cfg.NetworkDelay)
			}

		case <-d.timeout.C:
			g.setStatus(StatusKilled)
			if !d.killDecided.Marked() {
				d.killDecided.Mark()
				d.armKillCascade(g.cfg.KillCascade.Interval)
			}

		case <-killTickerC:
			d.killRound++

		case <-drainC:
			cancel()
			return g.finish(exitErr), g.Status(), exitCode, nil

		case <-heartbeatC:
			if err := g.upstream.Heartbeat(jobCtx); err != nil {
				g.setStatus(StatusLateLost)
				if !d.killDecided.Marked() {
					d.killDecided.Mark()
					d.armKillCascade(g.cfg.KillCascade.Interval)
				}
			}

		case _, ok := <-guardSettledC:
			if ok {
				g.logger.Debugf("guarded directory settled; deferred re-stat may proceed")
			}

		case err, ok := <-guardErrorsC:
			if ok {
				g.logger.Warn(err)
			}

		case <-jobCtx.Done():
			return g.finish(jobCtx.Err()), g.Status(), exitCode, jobCtx.Err()
		}
	}
}

type exitResult struct {
	code int
	err  error
}

// finish runs the final analysis pass and settles the terminal status.
func (g *Gatherer) finish(jobErr error) depmodel.JobDigest {
	digest := analyze(g.infos, g.patterns, g.cfg.Analyze)
	if g.Status() == StatusRunning || g.Status() == StatusChkDeps {
		if jobErr != nil {
			g.setStatus(StatusErr)
		} else if digest.Msg != "" {
			g.setStatus(StatusErr)
		} else {
			g.setStatus(StatusOk)
		}
	}
	return digest
}

// nowFunc is overridable in tests so deterministic timestamps can be used
// without depending on wall-clock time.
var nowFunc = timeutil.NowNanoseconds
