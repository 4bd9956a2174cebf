// Package watcher polls one account's mailbox on an interval and feeds
// unseen mail to the materializer. At most one pass runs at a time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/events"
	"coursemail-engine/internal/mailclient"
	"coursemail-engine/internal/materialize"
	"coursemail-engine/internal/metrics"
	"coursemail-engine/internal/secrets"
)

var (
	ErrNoCredential      = errors.New("watcher: no credential for account")
	ErrStartupConnection = errors.New("watcher: startup connection test failed")
	ErrStopped           = errors.New("watcher: stopped")
	ErrAlreadyStarted    = errors.New("watcher: already started")

	errReconnectThrottled = errors.New("reconnect throttled")
)

// CredentialSource returns secrets.ErrNotFound when the account has no
// credential. Any other error is treated as transient.
type CredentialSource interface {
	Lookup(ctx context.Context, accountID string) (domain.MailboxCredential, error)
}

type Processor interface {
	Process(ctx context.Context, reader materialize.MarkReader, msgs []domain.RawMessage, accountID string) materialize.Result
}

type Deps struct {
	Transport   Transport
	Credentials CredentialSource
	Processor   Processor
	Hub         *events.Hub
	Logger      *slog.Logger

	// FetchLimit bounds ListUnread; 0 means mailclient.DefaultFetchLimit.
	FetchLimit int
	// ReconnectEvery is the minimum spacing between reconnect attempts.
	ReconnectEvery time.Duration
}

type Watcher struct {
	cfg     domain.WatchConfig
	d       Deps
	log     *slog.Logger
	limiter *rate.Limiter

	state  atomic.Int32
	busy   atomic.Bool
	status atomic.Value // Status

	statusMu sync.Mutex

	mu       sync.Mutex
	started  bool
	stopped  bool
	passes   sync.WaitGroup
	baseCtx  context.Context
	stopCh   chan struct{}
	loopDone chan struct{}

	finishOnce sync.Once
	done       chan struct{}
	err        error
}

func New(cfg domain.WatchConfig, d Deps) *Watcher {
	if d.FetchLimit <= 0 {
		d.FetchLimit = mailclient.DefaultFetchLimit
	}
	if d.ReconnectEvery <= 0 {
		d.ReconnectEvery = 30 * time.Second
	}
	lg := d.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = int(cfg.Interval() / time.Minute)
	}

	w := &Watcher{
		cfg:     cfg,
		d:       d,
		log:     lg.With("component", "watcher", "account", cfg.AccountID),
		limiter: rate.NewLimiter(rate.Every(d.ReconnectEvery), 1),
		baseCtx: context.Background(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.status.Store(Status{
		AccountID:       cfg.AccountID,
		State:           Stopped,
		IntervalMinutes: cfg.IntervalMinutes,
		AutoProcess:     cfg.AutoProcess,
	})
	return w
}

func (w *Watcher) AccountID() string { return w.cfg.AccountID }

func (w *Watcher) State() State { return State(w.state.Load()) }

func (w *Watcher) Status() Status {
	return w.status.Load().(Status)
}

// Done is closed once the watcher has stopped, either through Stop or a
// fatal error.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err is the fatal error that ended the watcher, nil after a clean Stop.
func (w *Watcher) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Start validates the credential and the connection, then runs an initial
// pass and keeps polling until Stop, ctx cancellation or a fatal error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	w.started = true
	w.mu.Unlock()

	cred, err := w.lookup(ctx)
	if err != nil {
		return w.abortStart(err)
	}
	if !w.d.Transport.TestConnection(ctx, cred) {
		return w.abortStart(fmt.Errorf("%w: %s", ErrStartupConnection, cred))
	}

	w.mu.Lock()
	w.baseCtx = context.WithoutCancel(ctx)
	w.loopDone = make(chan struct{})
	w.mu.Unlock()

	w.setState(Idle)
	w.updateStatus(func(st *Status) { st.Running = true })
	w.log.Info("watcher started", "interval", w.cfg.Interval(), "auto_process", w.cfg.AutoProcess)

	go w.loop(ctx)
	return nil
}

func (w *Watcher) abortStart(err error) error {
	w.log.Error("watcher start failed", "error", err)
	w.finish(err)
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.loopDone)

	t := time.NewTicker(w.cfg.Interval())
	defer t.Stop()

	w.spawn("startup")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher context done", "error", ctx.Err())
			return
		case <-w.stopCh:
			return
		case <-w.done:
			return
		case <-t.C:
			w.spawn("timer")
		}
	}
}

// Trigger asks for an immediate pass without waiting for it. It reports
// false when a pass is already running (the request is dropped) or the
// watcher has stopped.
func (w *Watcher) Trigger() bool {
	return w.spawn("manual")
}

// CheckNow runs a pass on the caller's goroutine. ran is false when
// another pass was in progress and nothing was done. It works on a watcher
// that was never started, for one-shot runs.
func (w *Watcher) CheckNow(ctx context.Context) (res materialize.Result, ran bool, err error) {
	if !w.acquire("check-now") {
		if w.isFinished() {
			return res, false, ErrStopped
		}
		return res, false, nil
	}
	defer w.release()

	res, err = w.pass(context.WithoutCancel(ctx), "check-now")
	return res, true, err
}

func (w *Watcher) spawn(reason string) bool {
	if !w.acquire(reason) {
		return false
	}
	w.mu.Lock()
	ctx := w.baseCtx
	w.mu.Unlock()

	go func() {
		defer w.release()
		_, _ = w.pass(ctx, reason)
	}()
	return true
}

// acquire takes the single-flight guard and registers the pass so Stop
// can wait for it.
func (w *Watcher) acquire(reason string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.isFinished() {
		return false
	}
	if !w.busy.CompareAndSwap(false, true) {
		w.log.Info("pass skipped, another pass is running", "reason", reason)
		metrics.Passes.WithLabelValues("skipped").Inc()
		w.publish(events.PassSkipped, map[string]string{"reason": reason})
		return false
	}
	w.passes.Add(1)
	return true
}

func (w *Watcher) release() {
	w.busy.Store(false)
	w.passes.Done()
}

// Stop prevents further passes, waits for a running pass to finish and for
// the loop to exit. It does not interrupt the running pass.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	close(w.stopCh)
	loopDone := w.loopDone
	w.mu.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	w.passes.Wait()

	w.finish(nil)
	w.log.Info("watcher stopped")
}

func (w *Watcher) isFinished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Watcher) finish(err error) {
	w.finishOnce.Do(func() {
		w.err = err
		w.setState(Stopped)
		w.updateStatus(func(st *Status) {
			st.Running = false
			if err != nil {
				st.LastError = err.Error()
			}
		})
		close(w.done)
	})
}

func (w *Watcher) fatal(err error) {
	w.log.Error("watcher halted", "error", err)
	w.publish(events.PassFailed, map[string]any{"error": err.Error(), "fatal": true})
	w.finish(err)
}

// pass runs with the single-flight guard held.
func (w *Watcher) pass(ctx context.Context, reason string) (materialize.Result, error) {
	if w.State() == Reconnecting {
		if err := w.reconnect(ctx); err != nil {
			if !errors.Is(err, errReconnectThrottled) && !w.isFinished() {
				w.recordFailure(err)
			}
			return materialize.Result{}, err
		}
	}

	start := time.Now()
	w.setState(Checking)
	w.updateStatus(func(st *Status) {
		st.Processing = true
		st.LastRunAt = start
	})
	w.publish(events.PassStarted, map[string]string{"reason": reason})
	w.log.Info("pass started", "reason", reason)

	res, err := w.runSession(ctx)
	metrics.PassDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		w.setState(Idle)
		metrics.Passes.WithLabelValues("ok").Inc()
		w.updateStatus(func(st *Status) {
			st.Processing = false
			st.LastOkAt = time.Now()
			st.LastError = ""
			st.LastResult = res
			st.TotalProcessed += res.Processed
			st.TotalCreated += res.Created
			st.Passes++
		})
		w.publish(events.PassCompleted, res)
		w.log.Info("pass completed",
			"processed", res.Processed,
			"created", res.Created,
			"skipped", res.Skipped,
			"duplicates", res.Duplicates,
			"failed", res.Failed,
			"took", time.Since(start).Round(time.Millisecond),
		)
		return res, nil

	case errors.Is(err, ErrNoCredential) || mailclient.IsAuth(err):
		w.updateStatus(func(st *Status) { st.Processing = false })
		w.fatal(err)
		return res, err

	case mailclient.IsConnection(err):
		metrics.ConnectionErrors.Inc()
		w.setState(Reconnecting)
		w.updateStatus(func(st *Status) {
			st.Processing = false
			st.LastResult = res
			st.TotalProcessed += res.Processed
			st.TotalCreated += res.Created
			st.Passes++
		})
		w.recordFailure(err)
		return res, err

	default:
		w.setState(Idle)
		w.updateStatus(func(st *Status) { st.Processing = false; st.Passes++ })
		w.recordFailure(err)
		return res, err
	}
}

func (w *Watcher) runSession(ctx context.Context) (materialize.Result, error) {
	cred, err := w.lookup(ctx)
	if err != nil {
		return materialize.Result{}, err
	}

	mb, err := w.d.Transport.Dial(ctx, cred)
	if err != nil {
		return materialize.Result{}, err
	}
	defer mb.Close()

	msgs, err := mb.ListUnread(ctx, w.d.FetchLimit)
	if err != nil {
		return materialize.Result{}, err
	}
	w.log.Debug("unseen messages", "count", len(msgs))

	if !w.cfg.AutoProcess {
		w.log.Info("auto-process disabled, leaving messages unseen", "unseen", len(msgs))
		return materialize.Result{}, nil
	}

	res := w.d.Processor.Process(ctx, mb, msgs, w.cfg.AccountID)
	if res.ConnErr != nil {
		return res, res.ConnErr
	}
	return res, nil
}

// reconnect checks the server with a fresh login. A credential rejection
// here is fatal like anywhere else.
func (w *Watcher) reconnect(ctx context.Context) error {
	if !w.limiter.Allow() {
		w.log.Info("reconnect throttled")
		return errReconnectThrottled
	}

	cred, err := w.lookup(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			w.fatal(err)
		} else {
			w.log.Warn("reconnect credential lookup failed", "error", err)
		}
		return err
	}

	mb, err := w.d.Transport.Dial(ctx, cred)
	if err != nil {
		if mailclient.IsAuth(err) {
			w.fatal(err)
		} else {
			w.log.Warn("reconnect failed", "error", err)
		}
		return err
	}
	mb.Close()

	w.log.Info("reconnected")
	w.setState(Idle)
	return nil
}

// lookup wraps a missing credential in ErrNoCredential, which halts the
// watcher. Other failures (keychain, database) only fail the pass.
func (w *Watcher) lookup(ctx context.Context) (domain.MailboxCredential, error) {
	cred, err := w.d.Credentials.Lookup(ctx, w.cfg.AccountID)
	switch {
	case err == nil:
		return cred, nil
	case errors.Is(err, secrets.ErrNotFound):
		return cred, fmt.Errorf("%w %q: %w", ErrNoCredential, w.cfg.AccountID, err)
	default:
		return cred, fmt.Errorf("watcher: credential lookup %q: %w", w.cfg.AccountID, err)
	}
}

func (w *Watcher) recordFailure(err error) {
	metrics.Passes.WithLabelValues("failed").Inc()
	w.updateStatus(func(st *Status) { st.LastError = err.Error() })
	w.publish(events.PassFailed, map[string]any{"error": err.Error(), "state": w.State()})
	w.log.Warn("pass failed", "state", w.State(), "error", err)
}

func (w *Watcher) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	w.updateStatus(func(st *Status) { st.State = s })
	for _, other := range allStates {
		v := 0.0
		if other == s {
			v = 1
		}
		metrics.WatcherState.WithLabelValues(w.cfg.AccountID, other.String()).Set(v)
	}
	if prev != s {
		w.publish(events.StateChanged, map[string]State{"from": prev, "to": s})
	}
}

func (w *Watcher) updateStatus(fn func(*Status)) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	st := w.status.Load().(Status)
	fn(&st)
	w.status.Store(st)
}

func (w *Watcher) publish(typ string, data any) {
	w.d.Hub.Publish(events.MakeEvent(w.cfg.AccountID, typ, data))
}
