package dct

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// mockConn implements Conn and records every command sent.
type mockConn struct {
	mu       sync.Mutex
	sent     []string
	answered int
	sendErr  error
	closed   bool
	done     *closeOnce
}

func newMockConn() *mockConn {
	return &mockConn{done: newCloseOnce()}
}

func (c *mockConn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.done.Close()
	return nil
}

func (c *mockConn) Done() <-chan struct{} {
	return c.done.Done()
}

func (c *mockConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

func (c *mockConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockConn) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// nextUnanswered returns the oldest sent command without a reply yet.
func (c *mockConn) nextUnanswered() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered >= len(c.sent) {
		return "", false
	}
	cmd := c.sent[c.answered]
	c.answered++
	return cmd, true
}

// mockDialer implements Dialer. Each Dial returns a fresh mockConn unless
// an error is queued.
type mockDialer struct {
	mu     sync.Mutex
	conns  []*mockConn
	events []Events
	errs   []error
	dials  int
}

func (d *mockDialer) Dial(_ context.Context, _ string, _ int, ev Events) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newMockConn()
	d.conns = append(d.conns, c)
	d.events = append(d.events, ev)
	return c, nil
}

func (d *mockDialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.errs = append(d.errs, errs...)
	d.mu.Unlock()
}

func (d *mockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the latest connection and its callbacks.
func (d *mockDialer) Last() (*mockConn, Events) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, Events{}
	}
	return d.conns[len(d.conns)-1], d.events[len(d.events)-1]
}

// manualScheduler implements Scheduler on a virtual clock. Callbacks run
// synchronously on the goroutine calling Advance.
type manualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	tasks   []*manualTask
	stopped bool
}

type manualTask struct {
	s         *manualScheduler
	name      string
	due       time.Time
	every     time.Duration
	seq       int
	fn        func()
	cancelled bool
	fired     bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (t *manualTask) Cancel() {
	t.s.mu.Lock()
	t.cancelled = true
	t.s.mu.Unlock()
}

func (t *manualTask) Cancelled() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.cancelled
}

func (m *manualScheduler) arm(name string, d, every time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{s: m, name: name, due: m.now.Add(d), every: every, seq: m.seq, fn: fn}
	if m.stopped {
		t.cancelled = true
		return t
	}
	if name != "" {
		for _, old := range m.tasks {
			if old.name == name {
				old.cancelled = true
			}
		}
	}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *manualScheduler) After(name string, d time.Duration, fn func()) Task {
	return m.arm(name, d, 0, fn)
}

func (m *manualScheduler) Every(name string, d time.Duration, fn func()) Task {
	return m.arm(name, d, d, fn)
}

func (m *manualScheduler) Cancel(name string) {
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.name == name {
			t.cancelled = true
		}
	}
}

func (m *manualScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, t := range m.tasks {
		t.cancelled = true
	}
	m.tasks = nil
}

func (m *manualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Active reports whether a live task with the given name exists.
func (m *manualScheduler) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.name == name && !t.cancelled && !t.fired {
			return true
		}
	}
	return false
}

// Advance moves the clock forward, running due callbacks in due order.
func (m *manualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var next *manualTask
		live := m.tasks[:0]
		for _, t := range m.tasks {
			if t.cancelled || t.fired {
				continue
			}
			live = append(live, t)
			if t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
				next = t
			}
		}
		m.tasks = live
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.due
		if next.every > 0 {
			next.due = next.due.Add(next.every)
		} else {
			next.fired = true
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

// logEntry is one captured log call.
type logEntry struct {
	Level string
	Msg   string
	KV    []any
}

// captureLogger implements Logger and keeps every entry.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{Level: level, Msg: msg, KV: kv})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *captureLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *captureLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *captureLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

// Has reports whether a message at level contains substr.
func (l *captureLogger) Has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

func (l *captureLogger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// memJournal implements Journal in memory.
type memJournal struct {
	mu      sync.Mutex
	entries [][3]string
}

func (j *memJournal) Record(kind, command, detail string) {
	j.mu.Lock()
	j.entries = append(j.entries, [3]string{kind, command, detail})
	j.mu.Unlock()
}

func (j *memJournal) Kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e[0])
	}
	return out
}

// memPersister implements SettingsPersister.
type memPersister struct {
	mu    sync.Mutex
	host  string
	count int
	saves int
}

func (p *memPersister) SaveDeviceHost(host string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.host = host
	p.saves++
	return nil
}

func (p *memPersister) SaveBufferCount(count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = count
	p.saves++
	return nil
}

// fakeDevice answers commands the way the recorder does. Buffer statuses
// are the device-side truth returned by "status 0".
type fakeDevice struct {
	status   [MaxBuffers]string
	recorded [MaxBuffers]int
	pos      int
	fail     map[string]bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{status: [MaxBuffers]string{"Free", "Free", "Free", "Free"}}
}

func (f *fakeDevice) reply(cmd string) string {
	if f.fail[cmd] {
		return "FAIL"
	}
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "version":
		return "version\r\nPlatform: DCT-4\r\nSerial-Number: 1234\r\nFirmware: 2.1.0\r\n"
	case "rec_mode", "play_mode", "stop_mode":
		if len(fields) > 1 && fields[1] == "?" {
			return fields[0] + " 0"
		}
		return "OK"
	case "video_mode":
		if len(fields) > 1 && fields[1] == "?" {
			return "video_mode 5"
		}
		return "OK"
	case "fps_mode":
		if len(fields) > 1 && fields[1] == "?" {
			return "fps_mode 2"
		}
		return "OK"
	case "status":
		var b strings.Builder
		b.WriteString("status 0\r\n")
		for i, st := range f.status {
			fmt.Fprintf(&b, "B%d: %d/10000 %s\r\n", i+1, f.recorded[i], st)
		}
		return b.String()
	case "pos":
		return fmt.Sprintf("pos %d", f.pos)
	case "mark_pos":
		return "mark_pos 10 90"
	default:
		return "OK"
	}
}

// harness bundles a started session with its fakes.
type harness struct {
	t       *testing.T
	s       *Session
	dialer  *mockDialer
	sched   *manualScheduler
	log     *captureLogger
	journal *memJournal
	persist *memPersister
	device  *fakeDevice
	metrics *Metrics
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Host = "192.0.2.10"
	s.Polling = false
	return s
}

// newIdleHarness builds a session against a fake device without
// starting it.
func newIdleHarness(t *testing.T, mutate func(*Settings)) *harness {
	t.Helper()

	cfg := testSettings()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:       t,
		dialer:  &mockDialer{},
		sched:   newManualScheduler(),
		log:     &captureLogger{},
		journal: &memJournal{},
		persist: &memPersister{},
		device:  newFakeDevice(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	s, err := NewSession(SessionOptions{
		Settings:  cfg,
		Dialer:    h.dialer,
		Scheduler: h.sched,
		Logger:    h.log,
		Journal:   h.journal,
		Persister: h.persist,
		Metrics:   h.metrics,
		Now:       h.sched.Now,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	h.s = s
	t.Cleanup(s.Stop)
	return h
}

// newHarness starts a session against a fake device and completes the
// connect handshake.
func newHarness(t *testing.T, mutate func(*Settings)) *harness {
	t.Helper()

	h := newIdleHarness(t, mutate)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.settle()
	return h
}

// conn returns the current mock connection.
func (h *harness) conn() *mockConn {
	c, _ := h.dialer.Last()
	if c == nil {
		h.t.Fatal("no connection dialled")
	}
	return c
}

// reply delivers a frame on the current connection.
func (h *harness) reply(frame string) {
	_, ev := h.dialer.Last()
	ev.OnMessage(frame)
}

// pump answers sent commands with the fake device until none are left.
func (h *harness) pump() {
	for range 200 {
		c, _ := h.dialer.Last()
		if c == nil {
			return
		}
		cmd, ok := c.nextUnanswered()
		if !ok {
			return
		}
		h.reply(h.device.reply(cmd))
	}
	h.t.Fatal("device conversation did not settle")
}

// settle lets pending drains fire and answers everything sent.
func (h *harness) settle() {
	h.sched.Advance(h.s.cfg.Delays.QueueFallback)
	h.pump()
}

// advance moves time forward and answers everything sent.
func (h *harness) advance(d time.Duration) {
	h.sched.Advance(d)
	h.pump()
}

// sentSince returns the commands sent after the first n.
func (h *harness) sentSince(n int) []string {
	all := h.conn().Sent()
	if n > len(all) {
		return nil
	}
	return all[n:]
}

// syncStatus pushes the fake device's buffer table into the session.
func (h *harness) syncStatus() {
	h.t.Helper()
	if err := h.s.SendCommand("status 0"); err != nil {
		h.t.Fatalf("SendCommand(status 0) error = %v", err)
	}
	h.settle()
}

func intPtr(v int) *int { return &v }

var errBoom = errors.New("boom")

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
