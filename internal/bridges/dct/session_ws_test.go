package dct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
	"k8s.io/utils/clock"
)

// recorderDevice is a WebSocket server that plays a two-buffer
// recorder: it answers the connect handshake, reports buffer 1 as
// recording after "rec 1" and as free again after "rec_stop".
type recorderDevice struct {
	srv *httptest.Server

	mu        sync.Mutex
	received  []string
	recording bool
}

func newRecorderDevice(t *testing.T) *recorderDevice {
	t.Helper()
	d := &recorderDevice{}
	upgrader := websocket.Upgrader{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			reply := d.answer(strings.TrimSpace(string(data)))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *recorderDevice) answer(cmd string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, cmd)

	switch cmd {
	case "version":
		return "version\r\nPlatform: DCT-4\r\nSerial-Number: 77\r\n"
	case "rec_mode ?", "play_mode ?", "stop_mode ?":
		return strings.TrimSuffix(cmd, "?") + "0"
	case "video_mode ?":
		return "video_mode 5"
	case "fps_mode ?":
		return "fps_mode 2"
	case "status 0":
		if d.recording {
			return "B1: 10 / 100 reco\r\nB2: 0 / 0 free"
		}
		return "B1: 0 / 0 free\r\nB2: 0 / 0 free"
	case "rec 1":
		d.recording = true
	case "rec_stop":
		d.recording = false
	}
	return "OK"
}

func (d *recorderDevice) sawCommand(cmd string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.received, cmd)
}

func TestSession_RecordCycleOverWebSocket(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dev := newRecorderDevice(t)
	defer dev.srv.Close()
	host, port := serverHostPort(t, dev.srv)

	cfg := DefaultSettings()
	cfg.Host = host
	cfg.Port = port
	cfg.Buffers = 2
	cfg.Polling = false

	log := &captureLogger{}
	s, err := NewSession(SessionOptions{
		Settings:  cfg,
		Dialer:    NewWSDialer(),
		Scheduler: NewClockScheduler(clock.RealClock{}),
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		st := s.Snapshot()
		return st.Connection == StateConnected &&
			st.Buffers[0].Status == StatusFree &&
			st.Buffers[1].Status == StatusFree &&
			s.QueueLength() == 0
	}, "handshake did not complete")

	if err := s.Record(0, false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	eventually(t, 5*time.Second, func() bool { return dev.sawCommand("rec 1") }, "rec 1 never reached the device")

	if err := s.SendCommand("status 0"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		st := s.Snapshot()
		return st.Buffers[0].Status == StatusRecord
	}, "buffer 1 never reported recording")

	st := s.Snapshot()
	if !st.CurrentlyRecording || st.CurrentRecordingBuffer != 1 {
		t.Errorf("recording state = %v/%d, want true/1", st.CurrentlyRecording, st.CurrentRecordingBuffer)
	}
	if st.Buffers[0].Recorded != 10 || st.Buffers[0].Available != 100 {
		t.Errorf("buffer 1 = %+v, want 10/100", st.Buffers[0])
	}

	if err := s.RecordStop(RecordStopOptions{}); err != nil {
		t.Fatalf("RecordStop() error = %v", err)
	}
	eventually(t, 5*time.Second, func() bool { return dev.sawCommand("rec_stop") }, "rec_stop never reached the device")

	st = s.Snapshot()
	if st.CurrentlyRecording || st.LastRecordingBuffer != 1 || st.CurrentRecordingBuffer != 0 {
		t.Errorf("after stop: recording=%v last=%d current=%d, want false/1/0",
			st.CurrentlyRecording, st.LastRecordingBuffer, st.CurrentRecordingBuffer)
	}

	s.Stop()
	if s.IsConnected() {
		t.Error("still connected after Stop")
	}
	if log.Count("error") != 0 {
		t.Errorf("unexpected error logs: %d", log.Count("error"))
	}
}
