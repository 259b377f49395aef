package dct

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRampRequest_Schedule(t *testing.T) {
	tests := []struct {
		name         string
		req          RampRequest
		wantSteps    int
		wantInterval time.Duration
		wantErr      bool
	}{
		{"time even", RampRequest{TotalTime: 400, Mode: RampByTime, StepTime: 100}, 4, 100 * time.Millisecond, false},
		{"time rounds steps up", RampRequest{TotalTime: 450, Mode: RampByTime, StepTime: 100}, 5, 100 * time.Millisecond, false},
		{"steps rounds interval up", RampRequest{TotalTime: 1000, Mode: RampBySteps, Steps: 3}, 3, 334 * time.Millisecond, false},
		{"zero total", RampRequest{Mode: RampByTime, StepTime: 100}, 0, 0, true},
		{"zero step time", RampRequest{TotalTime: 100, Mode: RampByTime}, 0, 0, true},
		{"zero steps", RampRequest{TotalTime: 100, Mode: RampBySteps}, 0, 0, true},
		{"unknown mode", RampRequest{TotalTime: 100, Mode: "linear"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, interval, err := tt.req.schedule()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameter) {
					t.Errorf("schedule() error = %v, want ErrInvalidParameter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("schedule() error = %v", err)
			}
			if steps != tt.wantSteps || interval != tt.wantInterval {
				t.Errorf("schedule() = %d, %v; want %d, %v", steps, interval, tt.wantSteps, tt.wantInterval)
			}
		})
	}
}

func TestRampRequest_SpeedAt(t *testing.T) {
	tests := []struct {
		name      string
		ramp, end int
		step, of  int
		want      int
	}{
		{"quarter", 20, 100, 1, 4, 40},
		{"half", 20, 100, 2, 4, 60},
		{"rounds down", 0, 10, 1, 3, 3},
		{"rounds up", 0, 10, 2, 3, 7},
		{"descending", 100, -100, 1, 2, 0},
		{"clamped", 900, 2000, 1, 2, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := RampRequest{RampSpeed: tt.ramp, EndSpeed: tt.end}
			if got := r.speedAt(tt.step, tt.of); got != tt.want {
				t.Errorf("speedAt(%d, %d) = %d, want %d", tt.step, tt.of, got, tt.want)
			}
		})
	}
}

func playCommands(sent []string) []string {
	var out []string
	for _, cmd := range sent {
		if strings.HasPrefix(cmd, "play ") {
			out = append(out, cmd)
		}
	}
	return out
}

// rampHarness returns a harness with buffer 1 holding a recording.
func rampHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	h.device.status[0] = "Used"
	h.syncStatus()
	return h
}

func TestRampPlay_FullRamp(t *testing.T) {
	h := rampHarness(t)
	n := len(h.conn().Sent())

	err := h.s.RampPlay(RampRequest{
		Buffer:     1,
		StartSpeed: 10,
		RampSpeed:  20,
		RampFrame:  100,
		EndSpeed:   100,
		EndFrame:   intPtr(900),
		TotalTime:  400,
		Mode:       RampByTime,
		StepTime:   100,
	})
	if err != nil {
		t.Fatalf("RampPlay() error = %v", err)
	}
	if !h.s.Snapshot().Ramping {
		t.Fatal("Ramping should be set while the ramp waits for its frame")
	}

	// Nothing beyond the start speed until the position reaches the ramp frame.
	h.advance(100 * time.Millisecond)
	if diff := cmp.Diff([]string{"play 1 10"}, playCommands(h.sentSince(n))); diff != "" {
		t.Fatalf("pre-trigger mismatch (-want +got):\n%s", diff)
	}

	h.device.pos = 150
	_ = h.s.SendCommand("pos")
	h.settle()
	h.advance(500 * time.Millisecond)

	want := []string{"play 1 10", "play 1 20", "play 1 40", "play 1 60", "play 1 80", "play 1 100 900"}
	if diff := cmp.Diff(want, playCommands(h.sentSince(n))); diff != "" {
		t.Errorf("ramp commands mismatch (-want +got):\n%s", diff)
	}

	st := h.s.Snapshot()
	if st.Ramping {
		t.Error("Ramping should clear after the last step")
	}
	if st.LastSpeed != 100 || st.Buffers[0].Speed != 100 {
		t.Errorf("speed = %d/%d, want 100", st.LastSpeed, st.Buffers[0].Speed)
	}
	if h.sched.Active(taskRamp) {
		t.Error("ramp task should be cancelled")
	}
}

func TestRampPlay_Refusals(t *testing.T) {
	h := rampHarness(t)
	req := RampRequest{Buffer: 1, StartSpeed: 10, RampFrame: 1000, TotalTime: 100, Mode: RampBySteps, Steps: 2}

	if err := h.s.RampPlay(RampRequest{Buffer: 2, TotalTime: 100, Mode: RampBySteps, Steps: 2}); !errors.Is(err, ErrRefused) {
		t.Errorf("RampPlay(free buffer) error = %v, want ErrRefused", err)
	}
	if err := h.s.RampPlay(RampRequest{Buffer: 1, Mode: RampBySteps}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("RampPlay(bad schedule) error = %v, want ErrInvalidParameter", err)
	}

	if err := h.s.RampPlay(req); err != nil {
		t.Fatalf("RampPlay() error = %v", err)
	}
	err := h.s.RampPlay(req)
	if !errors.Is(err, ErrRampInProgress) || !errors.Is(err, ErrRefused) {
		t.Errorf("second RampPlay() error = %v, want ErrRampInProgress", err)
	}
}

func TestStopRamp(t *testing.T) {
	h := rampHarness(t)
	req := RampRequest{Buffer: 1, StartSpeed: 10, RampFrame: 1000, TotalTime: 100, Mode: RampBySteps, Steps: 2}

	if err := h.s.RampPlay(req); err != nil {
		t.Fatalf("RampPlay() error = %v", err)
	}
	h.s.StopRamp()

	if h.s.Snapshot().Ramping {
		t.Error("Ramping should clear on StopRamp")
	}
	if h.sched.Active(taskRamp) {
		t.Error("ramp task should be cancelled")
	}
	if err := h.s.RampPlay(req); err != nil {
		t.Errorf("RampPlay() after stop error = %v", err)
	}
}

func TestRampPlay_StopsOnDisconnect(t *testing.T) {
	h := rampHarness(t)
	req := RampRequest{Buffer: 1, StartSpeed: 10, RampFrame: 1000, TotalTime: 100, Mode: RampBySteps, Steps: 2}
	if err := h.s.RampPlay(req); err != nil {
		t.Fatalf("RampPlay() error = %v", err)
	}

	_, ev := h.dialer.Last()
	ev.OnError(errBoom)

	if h.s.Snapshot().Ramping {
		t.Error("ramp should stop when the connection drops")
	}
	if h.sched.Active(taskRamp) {
		t.Error("ramp task should be cancelled")
	}
}
