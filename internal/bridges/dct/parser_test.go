package dct

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{"fail", "FAIL", FailEvent{Line: "FAIL"}},
		{"fail with text", "play 1 10 FAIL\r\n", FailEvent{Line: "play 1 10 FAIL"}},
		{"ok", "OK\r\n", OKEvent{Line: "OK"}},
		{"rec_mode", "rec_mode 1", ModeEvent{Mode: ModeRecording, Value: "1"}},
		{"play_mode", "play_mode 0\r\n", ModeEvent{Mode: ModePlayback, Value: "0"}},
		{"stop_mode echo with query", "stop_mode ?\r\nstop_mode 2", ModeEvent{Mode: ModeStop, Value: "2"}},
		{"mode without value", "rec_mode", ModeEvent{Mode: ModeRecording}},
		{"pos", "pos 1234", PositionEvent{Pos: 1234}},
		{"pos malformed", "pos abc", UnknownEvent{Line: "pos abc", Reason: "malformed pos reply", Malformed: true}},
		{"mark_pos", "mark_pos 10 200", MarkEvent{In: 10, Out: 200}},
		{"mark_pos short", "mark_pos 10", UnknownEvent{Line: "mark_pos 10", Reason: "malformed mark_pos reply", Malformed: true}},
		{"video_mode", "video_mode 9", VideoModeEvent{Mode: 9}},
		{"fps_mode", "fps_mode 3", FrameRateModeEvent{Mode: 3}},
		{"fps", "fps 120 60", FrameRateEvent{Sensor: 120, Display: 60}},
		{"empty", "\r\n\r\n", UnknownEvent{Reason: "empty frame"}},
		{"unknown", "hello there", UnknownEvent{Line: "hello there", Reason: "unrecognised reply"}},
		{"ok then data", "OK\r\npos 55", PositionEvent{Pos: 55}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.frame)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.frame, diff)
			}
		})
	}
}

func TestParse_StatusBlock(t *testing.T) {
	frame := "status 0\r\nB1: 1500/10000 Used\r\nB2: 20/9000 Reco\r\nB3: 0 / 10000 Free\r\nB4: 5/10 Paus\r\n"

	ev, ok := Parse(frame).(StatusEvent)
	if !ok {
		t.Fatalf("Parse() = %T, want StatusEvent", Parse(frame))
	}

	want := []StatusLine{
		{Buffer: 1, Recorded: 1500, Available: 10000, Status: StatusUsed, Raw: "B1: 1500/10000 Used"},
		{Buffer: 2, Recorded: 20, Available: 9000, Status: StatusRecord, Raw: "B2: 20/9000 Reco"},
		{Buffer: 3, Recorded: 0, Available: 10000, Status: StatusFree, Raw: "B3: 0 / 10000 Free"},
		{Buffer: 4, Recorded: 5, Available: 10, Status: StatusPause, Raw: "B4: 5/10 Paus"},
	}
	if diff := cmp.Diff(want, ev.Lines); diff != "" {
		t.Errorf("status lines mismatch (-want +got):\n%s", diff)
	}
	if len(ev.Malformed) != 0 {
		t.Errorf("Malformed = %v, want none", ev.Malformed)
	}
}

func TestParse_StatusBlockWithoutHeader(t *testing.T) {
	ev, ok := Parse("B1: 10/20 Play").(StatusEvent)
	if !ok {
		t.Fatal("expected StatusEvent for bare buffer line")
	}
	if len(ev.Lines) != 1 || ev.Lines[0].Status != StatusPlay {
		t.Errorf("Lines = %+v", ev.Lines)
	}
}

func TestParse_StatusMalformedLines(t *testing.T) {
	frame := "status 0\r\nB1: 10/20 Used\r\nB2: x/20 Used\r\nB3: 1/2 Weird\r\ngarbage"

	ev, ok := Parse(frame).(StatusEvent)
	if !ok {
		t.Fatal("expected StatusEvent")
	}
	if len(ev.Lines) != 1 {
		t.Errorf("len(Lines) = %d, want 1", len(ev.Lines))
	}
	want := []string{"B2: x/20 Used", "B3: 1/2 Weird", "garbage"}
	if diff := cmp.Diff(want, ev.Malformed); diff != "" {
		t.Errorf("Malformed mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_VersionBlock(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  map[string]string
	}{
		{
			name:  "platform key",
			frame: "version\r\nPlatform: DCT-4\r\nSerial-Number: A1\r\n",
			want:  map[string]string{"platform": "DCT-4", "serialnumber": "A1"},
		},
		{
			name:  "platform anywhere",
			frame: "Firmware Version: 2.0\r\nplatform: x",
			want:  map[string]string{"firmwareversion": "2.0", "platform": "x"},
		},
		{
			name:  "two key value lines",
			frame: "Model: R1\r\nBuild: 77",
			want:  map[string]string{"model": "R1", "build": "77"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Parse(tt.frame).(VersionEvent)
			if !ok {
				t.Fatalf("Parse() = %T, want VersionEvent", Parse(tt.frame))
			}
			if diff := cmp.Diff(tt.want, ev.Info); diff != "" {
				t.Errorf("Info mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_SingleKeyValueIsUnknown(t *testing.T) {
	if _, ok := Parse("Model: R1").(UnknownEvent); !ok {
		t.Error("a single key/value line should not be a version block")
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("  a \r\n\r\nb\n\n c\r")
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("splitLines mismatch (-want +got):\n%s", diff)
	}
}
