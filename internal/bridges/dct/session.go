package dct

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Named scheduler tasks. Arming a name replaces the previous task.
const (
	taskReconnect          = "reconnect"
	taskPoll               = "poll"
	taskRamp               = "ramp"
	taskRecordIntoEarliest = "record-into-earliest"
	taskInFlight           = "in-flight"
)

// Journal kinds recorded by the session.
const (
	JournalSent         = "sent"
	JournalFailed       = "failed"
	JournalDropped      = "dropped"
	JournalRefused      = "refused"
	JournalConnected    = "connected"
	JournalDisconnected = "disconnected"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Journal records command traffic and connection changes. Implementations
// must not block.
type Journal interface {
	Record(kind, command, detail string)
}

// Listener receives a copy of the device state after changes. Bursts of
// changes are coalesced, so a listener sees the latest state rather than
// every intermediate one.
type Listener func(DeviceState)

// SessionOptions configures a Session.
type SessionOptions struct {
	Settings  Settings
	Dialer    Dialer
	Scheduler Scheduler
	Logger    Logger
	Journal   Journal
	Metrics   *Metrics
	Persister SettingsPersister

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Session drives one device: the connection lifecycle, the command queue,
// reply processing and the buffer operations.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - One mutex guards the device state, the queue and the connection.
//     Transport and scheduler callbacks take it before touching anything.
//   - Callbacks from a replaced connection are ignored.
type Session struct {
	mu sync.Mutex

	cfg       Settings
	dialer    Dialer
	sched     Scheduler
	logger    Logger
	journal   Journal
	metrics   *Metrics
	persister SettingsPersister
	now       func() time.Time
	parse     func(string) Event

	state DeviceState
	queue *CommandQueue
	conn  Conn
	gen   uint64
	ramp  *rampRun

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	listeners    []Listener
	changed      chan struct{}
	quit         chan struct{}
	dispatchDone chan struct{}
}

// NewSession validates the options and creates an idle session.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidParameter)
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrInvalidParameter)
	}
	cfg := opts.Settings.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:          cfg,
		dialer:       opts.Dialer,
		sched:        opts.Scheduler,
		logger:       opts.Logger,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		persister:    opts.Persister,
		now:          opts.Now,
		parse:        Parse,
		state:        newDeviceState(cfg.Buffers),
		queue:        NewCommandQueue(cfg.InFlightTimeout),
		changed:      make(chan struct{}, 1),
		quit:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Subscribe registers a state listener. Listeners run on a single
// dispatcher goroutine and must not call back into Stop.
func (s *Session) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start connects to the device. A failed first dial is not an error: the
// session keeps retrying in the background like after any transport
// failure.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.dispatchLoop()
	s.connect()
	return nil
}

// Stop cancels all timers, closes the connection and waits for the reader
// and the listener dispatcher to exit. It is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	old := s.dropConnLocked("session stopped")
	s.state.Connection = StateDisconnected
	s.mu.Unlock()

	s.sched.Stop()
	if old != nil {
		_ = old.Close()
		<-old.Done()
	}
	if started {
		close(s.quit)
		<-s.dispatchDone
	}
	s.logger.Info("dct session stopped")
}

// Reconnect drops the current connection and dials again immediately.
func (s *Session) Reconnect() {
	s.connect()
}

// Snapshot returns a copy of the device state.
func (s *Session) Snapshot() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Settings returns the session settings currently in effect.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// IsConnected reports whether the device connection is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// QueueLength returns the number of commands waiting to be sent.
func (s *Session) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// connect replaces any existing connection with a fresh dial. It must be
// called without the lock held; the dial itself runs unlocked.
func (s *Session) connect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.sched.Cancel(taskReconnect)
	old := s.dropConnLocked("reconnecting")

	host, port := s.cfg.Host, s.cfg.Port
	if host == "" || port == 0 {
		s.state.Connection = StateDisconnected
		s.markChangedLocked()
		s.mu.Unlock()
		closeConn(old)
		s.logger.Warn("device host or port not configured, not connecting")
		return
	}

	s.gen++
	gen := s.gen
	s.state.Connection = StateConnecting
	s.markChangedLocked()
	ctx := s.ctx
	s.mu.Unlock()

	closeConn(old)
	s.logger.Info("connecting to device", "url", DeviceURL(host, port))

	conn, err := s.dialer.Dial(ctx, host, port, Events{
		OnMessage: func(frame string) { s.handleFrame(gen, frame) },
		OnError:   func(err error) { s.handleTransportError(gen, err) },
		OnClose:   func() { s.handleClose(gen) },
	})

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		closeConn(conn)
		return
	}
	if err != nil {
		s.scheduleReconnectLocked(err)
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.onOpenLocked()
	s.mu.Unlock()
}

// onOpenLocked runs the post-connect handshake: optional mode sync, the
// initial data pull, one immediate poll, then the polling interval.
func (s *Session) onOpenLocked() {
	s.state.Connection = StateConnected
	s.metrics.setConnected(true)
	s.record(JournalConnected, "", DeviceURL(s.cfg.Host, s.cfg.Port))
	s.logger.Info("connected to device", "host", s.cfg.Host, "port", s.cfg.Port)

	if s.cfg.SetModes {
		s.enqueueLocked(fmt.Sprintf("%s %s", ModeRecording, s.cfg.RecordingMode))
		s.enqueueLocked(fmt.Sprintf("%s %s", ModePlayback, s.cfg.PlaybackMode))
		s.enqueueLocked(fmt.Sprintf("%s %s", ModeStop, s.cfg.StopMode))
	}

	for _, cmd := range []string{"version", "rec_mode ?", "play_mode ?", "stop_mode ?", "video_mode ?", "fps_mode ?"} {
		s.enqueueLocked(cmd)
	}

	s.pollLocked()
	s.startPollingLocked()

	if s.cfg.RecordIntoEarliest {
		s.afterLocked(taskRecordIntoEarliest, s.cfg.Delays.RecordIntoEarliest, func() {
			_ = s.recordIntoEarliestLocked()
		})
	}
	s.markChangedLocked()
}

func (s *Session) startPollingLocked() {
	s.sched.Cancel(taskPoll)
	if !s.cfg.Polling {
		return
	}
	s.logger.Info("starting polling interval", "interval", s.cfg.PollInterval)
	s.everyLocked(taskPoll, s.cfg.PollInterval, s.pollLocked)
}

// pollLocked requests buffer status, plus position and marks while a
// buffer is playing.
func (s *Session) pollLocked() {
	s.enqueueLocked("status 0")
	if s.state.anyWithStatus(StatusPlay) {
		s.enqueueLocked("pos")
		s.enqueueLocked("mark_pos")
	}
}

// dropConnLocked detaches the current connection and everything that
// depends on it. The caller closes the returned connection after
// releasing the lock.
func (s *Session) dropConnLocked(reason string) Conn {
	s.gen++
	s.sched.Cancel(taskPoll)
	s.sched.Cancel(taskInFlight)
	s.sched.Cancel(taskRecordIntoEarliest)
	s.stopRampLocked()

	if n := s.queue.Reset(); n > 0 {
		s.logger.Warn("dropping queued commands", "count", n, "reason", reason)
	}
	s.metrics.setQueueLength(0)

	old := s.conn
	s.conn = nil
	if old != nil {
		s.metrics.setConnected(false)
		s.record(JournalDisconnected, "", reason)
	}
	return old
}

// scheduleReconnectLocked handles a transport failure: polling stops and
// a single reconnect is armed.
func (s *Session) scheduleReconnectLocked(err error) Conn {
	old := s.dropConnLocked(err.Error())
	s.state.Connection = StateReconnecting
	s.markChangedLocked()
	s.metrics.reconnect()
	s.logger.Warn("connection error, attempting to reconnect",
		"error", err,
		"delay", s.cfg.ReconnectDelay,
	)
	s.armReconnectLocked(s.cfg.ReconnectDelay)
	return old
}

func (s *Session) armReconnectLocked(delay time.Duration) {
	var t Task
	t = s.sched.After(taskReconnect, delay, func() {
		s.mu.Lock()
		skip := s.stopped || t.Cancelled()
		s.mu.Unlock()
		if !skip {
			s.connect()
		}
	})
}

func (s *Session) handleTransportError(gen uint64, err error) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	old := s.scheduleReconnectLocked(err)
	s.mu.Unlock()
	closeConn(old)
}

func (s *Session) handleClose(gen uint64) {
	s.mu.Lock()
	current := !s.stopped && gen == s.gen
	s.mu.Unlock()
	if current {
		s.logger.Debug("device connection closed")
	}
}

// handleFrame processes one inbound frame. The reply releases the
// in-flight command and the next queued command is sent.
func (s *Session) handleFrame(gen uint64, frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || gen != s.gen {
		return
	}

	if s.cfg.Verbose {
		s.logger.Debug("received data", "data", frame)
	}
	s.state.LastResponse = strings.TrimSpace(frame)
	cmd := s.queue.Ack()
	s.sched.Cancel(taskInFlight)

	s.processFrameLocked(cmd, frame)
	s.drainLocked()
	s.markChangedLocked()
}

func (s *Session) processFrameLocked(cmd, frame string) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.parseError("panic")
			s.logger.Error("error processing data", "panic", r, "data", frame)
		}
	}()

	ev := s.parse(frame)
	s.metrics.reply(ev.Kind())

	switch e := ev.(type) {
	case FailEvent:
		s.metrics.failed()
		s.record(JournalFailed, cmd, e.Line)
		s.logger.Warn("error received", "reply", e.Line, "command", cmd)
		return
	case OKEvent:
		return
	case UnknownEvent:
		if e.Malformed {
			s.metrics.parseError("malformed")
			s.logger.Warn("invalid reply received", "reason", e.Reason, "line", e.Line)
			return
		}
		s.logger.Debug("unknown response", "line", e.Line, "command", cmd)
		return
	}

	res := s.state.apply(ev)
	for _, line := range res.malformed {
		s.metrics.parseError("status_line")
		s.logger.Warn("invalid buffer status data received", "line", line)
	}
	for _, line := range res.ignored {
		s.logger.Debug("ignoring status for unconfigured buffer", "line", line)
	}
	if _, ok := ev.(StatusEvent); ok {
		s.metrics.observeBuffers(s.state.Buffers[:s.state.BufferCount])
	}
}

// enqueueLocked queues cmd and arms the fallback drain. Without a
// connection the command is dropped with a warning.
func (s *Session) enqueueLocked(cmd string) error {
	if s.conn == nil {
		s.metrics.dropped()
		s.record(JournalDropped, cmd, "not connected")
		s.logger.Warn("device not connected, command not queued", "command", cmd)
		return ErrNotConnected
	}

	if s.queue.Enqueue(cmd) && s.cfg.Verbose {
		s.logger.Debug("queueing command", "command", cmd)
	}
	s.metrics.setQueueLength(s.queue.Len())
	s.afterLocked("", s.cfg.Delays.QueueFallback, s.drainLocked)
	return nil
}

// drainLocked sends the head of the queue if nothing is in flight.
func (s *Session) drainLocked() {
	if s.conn == nil {
		return
	}

	cmd, expired, ok := s.queue.Next(s.now())
	if expired != "" {
		s.metrics.inFlightTimeout()
		s.logger.Warn("no reply to command, releasing queue", "command", expired, "timeout", s.cfg.InFlightTimeout)
	}
	if !ok {
		return
	}
	s.metrics.setQueueLength(s.queue.Len())

	if s.cfg.Verbose {
		s.logger.Debug("sending command", "command", cmd)
	}
	if err := s.conn.Send(cmd); err != nil {
		s.record(JournalFailed, cmd, err.Error())
		s.logger.Error("error sending command", "command", cmd, "error", err)
		old := s.scheduleReconnectLocked(err)
		if old != nil {
			go closeConn(old)
		}
		return
	}

	// Re-drain once the reply is overdue.
	s.afterLocked(taskInFlight, s.queue.Timeout(), s.drainLocked)

	s.metrics.sent()
	s.record(JournalSent, cmd, "")
	s.state.LastCommand = cmd
	s.markChangedLocked()
}

// afterLocked arms a one-shot task whose callback runs under the lock and
// is skipped once cancelled or after Stop.
func (s *Session) afterLocked(name string, d time.Duration, fn func()) Task {
	var t Task
	t = s.sched.After(name, d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || t.Cancelled() {
			return
		}
		fn()
	})
	return t
}

// everyLocked arms an interval task whose callback runs under the lock.
func (s *Session) everyLocked(name string, d time.Duration, fn func()) Task {
	var t Task
	t = s.sched.Every(name, d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || t.Cancelled() {
			return
		}
		fn()
	})
	return t
}

// refuseLocked logs and counts a refused operation.
func (s *Session) refuseLocked(op string, err error) error {
	s.metrics.refused(op)
	reason := errorCause(err)
	s.record(JournalRefused, op, reason)
	s.logger.Warn("operation refused", "operation", op, "reason", reason)
	return err
}

func (s *Session) record(kind, command, detail string) {
	if s.journal != nil {
		s.journal.Record(kind, command, detail)
	}
}

// markChangedLocked schedules a listener notification.
func (s *Session) markChangedLocked() {
	s.state.UpdatedAt = s.now()
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) dispatchLoop() {
	defer close(s.dispatchDone)
	for {
		select {
		case <-s.quit:
			return
		case <-s.changed:
			s.mu.Lock()
			snap := s.state.Clone()
			listeners := append([]Listener(nil), s.listeners...)
			s.mu.Unlock()

			for _, fn := range listeners {
				fn(snap)
			}
		}
	}
}

func closeConn(c Conn) {
	if c != nil {
		_ = c.Close()
	}
}

// errorCause strips the refusal wrapper for log fields.
func errorCause(err error) string {
	var r *refusal
	if errors.As(err, &r) {
		return r.reason
	}
	return err.Error()
}
