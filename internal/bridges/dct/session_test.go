package dct

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewSession_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts SessionOptions
	}{
		{"missing dialer", SessionOptions{Scheduler: newManualScheduler()}},
		{"missing scheduler", SessionOptions{Dialer: &mockDialer{}}},
		{"bad buffers", SessionOptions{Dialer: &mockDialer{}, Scheduler: newManualScheduler(), Settings: Settings{Buffers: 7}}},
		{"bad mode", SessionOptions{Dialer: &mockDialer{}, Scheduler: newManualScheduler(), Settings: Settings{StopMode: "9"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession(tt.opts); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("NewSession() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestSession_Handshake(t *testing.T) {
	h := newHarness(t, nil)

	want := []string{"version", "rec_mode ?", "play_mode ?", "stop_mode ?", "video_mode ?", "fps_mode ?", "status 0"}
	if diff := cmp.Diff(want, h.conn().Sent()); diff != "" {
		t.Errorf("handshake mismatch (-want +got):\n%s", diff)
	}

	st := h.s.Snapshot()
	if st.Connection != StateConnected {
		t.Errorf("Connection = %s, want connected", st.Connection)
	}
	if st.Version["platform"] != "DCT-4" || st.Version["serialnumber"] != "1234" {
		t.Errorf("Version = %v", st.Version)
	}
	if st.Modes.Video != 5 || st.Modes.FrameRateMode != 2 {
		t.Errorf("Modes = %+v", st.Modes)
	}
	for i := range MaxBuffers {
		if st.Buffers[i].Status != StatusFree || st.Buffers[i].Available != 10000 {
			t.Errorf("buffer %d = %+v", i+1, st.Buffers[i])
		}
	}
	if st.LastCommand != "status 0" {
		t.Errorf("LastCommand = %q", st.LastCommand)
	}
	if !slices.Contains(h.journal.Kinds(), JournalConnected) {
		t.Error("connect not journalled")
	}
}

func TestSession_HandshakeSetsModes(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.SetModes = true
		s.RecordingMode = "1"
		s.StopMode = "2"
	})

	got := h.conn().Sent()[:3]
	want := []string{"rec_mode 1", "play_mode 0", "stop_mode 2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mode sync mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_RecordIntoEarliestOnConnect(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.RecordIntoEarliest = true })
	n := len(h.conn().Sent())

	h.advance(1100 * time.Millisecond)

	if diff := cmp.Diff([]string{"rec 1"}, h.sentSince(n)); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if !h.s.Snapshot().CurrentlyRecording {
		t.Error("expected recording after connect")
	}
}

func TestSession_Polling(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.Polling = true })
	n := len(h.conn().Sent())

	h.advance(250 * time.Millisecond)
	if diff := cmp.Diff([]string{"status 0"}, h.sentSince(n)); diff != "" {
		t.Fatalf("first poll mismatch (-want +got):\n%s", diff)
	}

	// Once a buffer plays, position and marks are polled too.
	h.device.status[0] = "Play"
	h.device.recorded[0] = 100
	h.advance(250 * time.Millisecond)
	n = len(h.conn().Sent())
	h.advance(250 * time.Millisecond)

	want := []string{"status 0", "pos", "mark_pos"}
	if diff := cmp.Diff(want, h.sentSince(n)); diff != "" {
		t.Errorf("playing poll mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_DedupPendingCommands(t *testing.T) {
	h := newHarness(t, nil)

	for range 3 {
		if err := h.s.SendCommand("status 0"); err != nil {
			t.Fatalf("SendCommand() error = %v", err)
		}
	}
	if got := h.s.QueueLength(); got != 1 {
		t.Errorf("QueueLength() = %d, want 1", got)
	}
}

func TestSession_NotConnectedDropsCommands(t *testing.T) {
	h := newIdleHarness(t, nil)
	h.dialer.FailNext(errBoom)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if st := h.s.Snapshot(); st.Connection != StateReconnecting {
		t.Errorf("Connection = %s, want reconnecting", st.Connection)
	}
	if err := h.s.Pause(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Pause() error = %v, want ErrNotConnected", err)
	}
	if !h.log.Has("warn", "device not connected, command not queued") {
		t.Error("expected not-connected warning")
	}
	if !slices.Contains(h.journal.Kinds(), JournalDropped) {
		t.Error("dropped command not journalled")
	}

	h.sched.Advance(DefaultReconnectDelay)
	h.pump()

	if got := h.dialer.Dials(); got != 2 {
		t.Errorf("Dials() = %d, want 2", got)
	}
	if !h.s.IsConnected() {
		t.Error("expected reconnect to succeed")
	}
}

func TestSession_ReconnectAfterTransportError(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.Polling = true })
	oldConn, oldEvents := h.dialer.Last()

	oldEvents.OnError(errBoom)

	if !oldConn.IsClosed() {
		t.Error("failed connection should be closed")
	}
	st := h.s.Snapshot()
	if st.Connection != StateReconnecting {
		t.Errorf("Connection = %s, want reconnecting", st.Connection)
	}
	if h.sched.Active(taskPoll) {
		t.Error("polling should stop on disconnect")
	}
	if !h.sched.Active(taskReconnect) {
		t.Error("reconnect should be armed")
	}
	if !h.log.Has("warn", "connection error, attempting to reconnect") {
		t.Error("expected reconnect warning")
	}

	// A second error from the dead connection must not arm another dial.
	oldEvents.OnError(errBoom)

	h.sched.Advance(DefaultReconnectDelay)
	h.settle()

	if got := h.dialer.Dials(); got != 2 {
		t.Errorf("Dials() = %d, want 2", got)
	}
	if st := h.s.Snapshot(); st.Connection != StateConnected {
		t.Errorf("Connection = %s, want connected", st.Connection)
	}
	if !h.sched.Active(taskPoll) {
		t.Error("polling should restart after reconnect")
	}

	// Frames from the replaced connection are ignored.
	oldEvents.OnMessage("status 0\r\nB1: 5/10 Used")
	if got := h.s.Snapshot().Buffers[0].Status; got != StatusFree {
		t.Errorf("stale frame applied: buffer 1 = %s", got)
	}
}

func TestSession_SendFailureReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.conn().SetSendError(errBoom)

	if err := h.s.Reboot(); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	h.sched.Advance(50 * time.Millisecond)

	if st := h.s.Snapshot(); st.Connection != StateReconnecting {
		t.Errorf("Connection = %s, want reconnecting", st.Connection)
	}
	if !h.log.Has("error", "error sending command") {
		t.Error("expected send error log")
	}
	if !slices.Contains(h.journal.Kinds(), JournalFailed) {
		t.Error("send failure not journalled")
	}
}

func TestSession_InFlightTimeoutReleasesQueue(t *testing.T) {
	h := newHarness(t, nil)
	n := len(h.conn().Sent())

	_ = h.s.SendCommand("pos")
	h.sched.Advance(50 * time.Millisecond)
	_ = h.s.Reboot()
	h.sched.Advance(50 * time.Millisecond)

	if diff := cmp.Diff([]string{"pos"}, h.sentSince(n)); diff != "" {
		t.Fatalf("second command sent while first in flight (-want +got):\n%s", diff)
	}

	h.sched.Advance(2 * time.Second)
	_ = h.s.SendCommand("stop_mode ?")
	h.sched.Advance(50 * time.Millisecond)

	if diff := cmp.Diff([]string{"pos", "reboot"}, h.sentSince(n)); diff != "" {
		t.Errorf("queue not released (-want +got):\n%s", diff)
	}
	if !h.log.Has("warn", "no reply to command") {
		t.Error("expected in-flight timeout warning")
	}
}

func TestSession_FailReply(t *testing.T) {
	h := newHarness(t, nil)
	h.device.fail = map[string]bool{"reboot": true}

	if err := h.s.Reboot(); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	h.settle()

	if !h.log.Has("warn", "error received") {
		t.Error("expected FAIL warning")
	}
	if !slices.Contains(h.journal.Kinds(), JournalFailed) {
		t.Error("FAIL not journalled")
	}
	if got := h.s.Snapshot().LastResponse; got != "FAIL" {
		t.Errorf("LastResponse = %q, want FAIL", got)
	}
}

func TestSession_IgnoresStatusForUnconfiguredBuffers(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.Buffers = 2 })
	h.device.status[2] = "Used"
	h.syncStatus()

	st := h.s.Snapshot()
	if st.Buffers[2].Status != StatusOffline {
		t.Errorf("buffer 3 = %s, want Offline", st.Buffers[2].Status)
	}
	if !h.log.Has("debug", "ignoring status for unconfigured buffer") {
		t.Error("expected ignored-status debug log")
	}
}

func TestSession_MalformedStatusLine(t *testing.T) {
	h := newHarness(t, nil)

	_ = h.s.SendCommand("status 0")
	h.sched.Advance(50 * time.Millisecond)
	h.reply("status 0\r\nB1: 10/20 Used\r\nB2: x/1 Used")

	if !h.log.Has("warn", "invalid buffer status data received") {
		t.Error("expected malformed status warning")
	}
	st := h.s.Snapshot()
	if st.Buffers[0].Status != StatusUsed || st.Buffers[1].Status != StatusFree {
		t.Errorf("buffers = %+v", st.Buffers[:2])
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.conn()

	h.s.Stop()
	h.s.Stop()

	if !conn.IsClosed() {
		t.Error("connection should be closed on stop")
	}
	if h.s.IsConnected() {
		t.Error("IsConnected() should be false after stop")
	}
	if err := h.s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestSession_ListenersSeeLatestState(t *testing.T) {
	h := newIdleHarness(t, nil)

	var (
		mu     sync.Mutex
		latest DeviceState
		calls  int
	)
	h.s.Subscribe(func(st DeviceState) {
		mu.Lock()
		latest = st
		calls++
		mu.Unlock()
	})

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.settle()

	eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0 && latest.Connection == StateConnected && latest.Version["platform"] == "DCT-4"
	}, "listener never saw the connected state")
}

func TestSession_ReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.conn()

	h.s.Reconnect()
	h.settle()

	if !first.IsClosed() {
		t.Error("previous connection should be closed")
	}
	if h.conn() == first {
		t.Error("expected a new connection")
	}
	if h.dialer.Dials() != 2 {
		t.Errorf("Dials() = %d, want 2", h.dialer.Dials())
	}
}

func TestSession_NoHostDoesNotDial(t *testing.T) {
	h := newIdleHarness(t, func(s *Settings) { s.Host = "" })
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if h.dialer.Dials() != 0 {
		t.Errorf("Dials() = %d, want 0", h.dialer.Dials())
	}
	if !h.log.Has("warn", "not configured") {
		t.Error("expected missing host warning")
	}
}

func TestSession_InFlightTimeoutDrainsWithoutNewInput(t *testing.T) {
	h := newHarness(t, nil)
	n := len(h.conn().Sent())

	_ = h.s.SendCommand("pos")
	h.sched.Advance(50 * time.Millisecond)
	_ = h.s.Reboot()
	h.sched.Advance(50 * time.Millisecond)

	if diff := cmp.Diff([]string{"pos"}, h.sentSince(n)); diff != "" {
		t.Fatalf("second command sent while first in flight (-want +got):\n%s", diff)
	}

	h.sched.Advance(30 * time.Second)

	if diff := cmp.Diff([]string{"pos", "reboot"}, h.sentSince(n)); diff != "" {
		t.Errorf("queued command stuck behind unanswered one (-want +got):\n%s", diff)
	}
	if !h.log.Has("warn", "no reply to command") {
		t.Error("expected in-flight timeout warning")
	}
}

func TestSession_ReplyCancelsInFlightTimer(t *testing.T) {
	h := newHarness(t, nil)

	_ = h.s.SendCommand("pos")
	h.settle()
	if h.sched.Active(taskInFlight) {
		t.Error("in-flight timer still armed after reply")
	}

	h.sched.Advance(30 * time.Second)
	if h.log.Has("warn", "no reply to command") {
		t.Error("answered command reported as timed out")
	}
}

func TestSession_PanicWhileProcessingFrame(t *testing.T) {
	h := newHarness(t, nil)
	n := len(h.conn().Sent())

	h.s.mu.Lock()
	h.s.parse = func(frame string) Event {
		if frame == "pos 0" {
			panic("corrupt frame")
		}
		return Parse(frame)
	}
	h.s.mu.Unlock()

	h.device.status[0] = "Used"
	h.device.recorded[0] = 4000
	_ = h.s.SendCommand("pos")
	_ = h.s.SendCommand("status 0")
	h.settle()

	if !h.log.Has("error", "error processing data") {
		t.Error("expected panic to be logged")
	}
	if diff := cmp.Diff([]string{"pos", "status 0"}, h.sentSince(n)); diff != "" {
		t.Errorf("queue stalled after panic (-want +got):\n%s", diff)
	}
	b := h.s.Snapshot().Buffers[0]
	if b.Status != StatusUsed || b.Recorded != 4000 {
		t.Errorf("buffer 1 = %+v, want Used with 4000 recorded", b)
	}
	if h.s.QueueLength() != 0 {
		t.Errorf("QueueLength() = %d, want 0", h.s.QueueLength())
	}
}

func TestSession_UnknownReplies(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantWarn bool
	}{
		{"malformed position", "pos abc", true},
		{"malformed marks", "mark_pos 10", true},
		{"unrecognised line", "hello there", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_ = h.s.SendCommand("pos")
			h.sched.Advance(50 * time.Millisecond)

			h.reply(tt.frame)

			if got := h.log.Has("warn", "invalid reply received"); got != tt.wantWarn {
				t.Errorf("invalid reply warning = %v, want %v", got, tt.wantWarn)
			}
			if got := h.log.Has("debug", "unknown response"); got == tt.wantWarn {
				t.Errorf("unknown response debug = %v, want %v", got, !tt.wantWarn)
			}
		})
	}
}
