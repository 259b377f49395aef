package dct

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is a classified device reply.
type Event interface {
	// Kind returns a short name for logs and metrics.
	Kind() string
}

// FailEvent is an explicit FAIL reply to the previous command.
type FailEvent struct{ Line string }

// OKEvent is a plain OK reply.
type OKEvent struct{ Line string }

// ModeEvent echoes rec_mode, play_mode or stop_mode. Value is the raw
// device value and may be empty or unknown.
type ModeEvent struct {
	Mode  ModeKind
	Value string
}

// StatusLine is one parsed "B<n>: <recorded> / <available> <status>" line.
type StatusLine struct {
	Buffer    int
	Recorded  int
	Available int
	Status    BufferStatus
	Raw       string
}

// StatusEvent is a buffer status block. Lines that could not be parsed
// are collected in Malformed.
type StatusEvent struct {
	Lines     []StatusLine
	Malformed []string
}

// PositionEvent reports the playback frame of the current playback buffer.
type PositionEvent struct{ Pos int }

// MarkEvent reports mark in/out of the current playback buffer.
type MarkEvent struct{ In, Out int }

// VideoModeEvent reports the video mode id.
type VideoModeEvent struct{ Mode int }

// FrameRateModeEvent reports the frame rate mode id.
type FrameRateModeEvent struct{ Mode int }

// FrameRateEvent reports sensor and display frame rates.
type FrameRateEvent struct{ Sensor, Display int }

// VersionEvent is a key/value version block.
type VersionEvent struct{ Info map[string]string }

// UnknownEvent is a reply nothing else matched, or a recognised reply
// whose value line was malformed (Malformed set).
type UnknownEvent struct {
	Line      string
	Reason    string
	Malformed bool
}

func (FailEvent) Kind() string          { return "fail" }
func (OKEvent) Kind() string            { return "ok" }
func (ModeEvent) Kind() string          { return "mode" }
func (StatusEvent) Kind() string        { return "status" }
func (PositionEvent) Kind() string      { return "pos" }
func (MarkEvent) Kind() string          { return "mark_pos" }
func (VideoModeEvent) Kind() string     { return "video_mode" }
func (FrameRateModeEvent) Kind() string { return "fps_mode" }
func (FrameRateEvent) Kind() string     { return "fps" }
func (VersionEvent) Kind() string       { return "version" }
func (UnknownEvent) Kind() string       { return "unknown" }

var (
	statusLineRe = regexp.MustCompile(`^B(\d+):\s*(\d+)\s*/\s*(\d+)\s+(\w+)`)
	statusHeadRe = regexp.MustCompile(`^B\d+:`)
	keyValueRe   = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
)

// matcher is one row of the classification table. match is tested against
// the first line of a frame; parse receives every line.
type matcher struct {
	name  string
	match func(first string, fields []string) bool
	parse func(lines []string) Event
}

// matchers is evaluated top to bottom; the first hit wins.
var matchers = []matcher{
	{"fail", func(_ string, f []string) bool { return hasToken(f, "FAIL") }, parseFail},
	{"ok", func(_ string, f []string) bool { return hasToken(f, "OK") }, parseOK},
	{"rec_mode", leading(string(ModeRecording)), parseMode(ModeRecording)},
	{"play_mode", leading(string(ModePlayback)), parseMode(ModePlayback)},
	{"stop_mode", leading(string(ModeStop)), parseMode(ModeStop)},
	{"status", func(l string, f []string) bool { return leading("status")(l, f) || statusHeadRe.MatchString(l) }, parseStatus},
	{"pos", leading("pos"), parsePosition},
	{"mark_pos", leading("mark_pos"), parseMarks},
	{"video_mode", leading("video_mode"), parseVideoMode},
	{"fps_mode", leading("fps_mode"), parseFrameRateMode},
	{"fps", leading("fps"), parseFrameRate},
	{"version", leading("version"), parseVersion},
}

// Parse classifies one inbound frame.
//
// Frames are split into lines on CR/LF and blank lines are dropped. Any
// frame carrying a "platform:" line is a version block; otherwise the first
// line selects the parser. A frame with only blank lines yields an
// UnknownEvent.
func Parse(frame string) Event {
	lines := splitLines(frame)
	if len(lines) == 0 {
		return UnknownEvent{Reason: "empty frame"}
	}
	return classify(lines)
}

func classify(lines []string) Event {
	if hasPlatformKey(lines) {
		return parseVersion(lines)
	}

	first := lines[0]
	fields := strings.Fields(first)

	for _, m := range matchers {
		if !m.match(first, fields) {
			continue
		}
		// A bare OK ahead of a data block acknowledges the command; the
		// data behind it still needs classifying.
		if m.name == "ok" && len(lines) > 1 {
			return classify(lines[1:])
		}
		return m.parse(lines)
	}

	if isVersionBlock(lines) {
		return parseVersion(lines)
	}
	return UnknownEvent{Line: first, Reason: "unrecognised reply"}
}

func splitLines(frame string) []string {
	raw := strings.FieldsFunc(frame, func(r rune) bool { return r == '\r' || r == '\n' })
	lines := raw[:0]
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func hasToken(fields []string, token string) bool {
	for _, f := range fields {
		if f == token || strings.TrimRight(f, ":.!") == token {
			return true
		}
	}
	return false
}

func leading(token string) func(string, []string) bool {
	return func(_ string, fields []string) bool {
		return len(fields) > 0 && fields[0] == token
	}
}

// valueLine finds the first line starting with key that carries exactly
// n fields and no query marker.
func valueLine(lines []string, key string, n int) ([]string, bool) {
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) == n && f[0] == key && f[1] != "?" {
			return f, true
		}
	}
	return nil, false
}

func atoiFields(f []string) ([]int, bool) {
	out := make([]int, len(f))
	for i, s := range f {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func parseFail(lines []string) Event { return FailEvent{Line: lines[0]} }

func parseOK(lines []string) Event { return OKEvent{Line: lines[0]} }

func parseMode(kind ModeKind) func([]string) Event {
	return func(lines []string) Event {
		if f, ok := valueLine(lines, string(kind), 2); ok {
			return ModeEvent{Mode: kind, Value: f[1]}
		}
		return ModeEvent{Mode: kind}
	}
}

func parseStatus(lines []string) Event {
	var ev StatusEvent
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) > 0 && f[0] == "status" || hasToken(f, "OK") {
			continue
		}

		m := statusLineRe.FindStringSubmatch(l)
		if m == nil {
			ev.Malformed = append(ev.Malformed, l)
			continue
		}
		nums, ok := atoiFields(m[1:4])
		status, known := ParseBufferStatus(m[4])
		if !ok || !known || status == StatusOffline {
			ev.Malformed = append(ev.Malformed, l)
			continue
		}
		ev.Lines = append(ev.Lines, StatusLine{
			Buffer:    nums[0],
			Recorded:  nums[1],
			Available: nums[2],
			Status:    status,
			Raw:       l,
		})
	}
	return ev
}

func parsePosition(lines []string) Event {
	if f, ok := valueLine(lines, "pos", 2); ok {
		if v, ok := atoiFields(f[1:]); ok {
			return PositionEvent{Pos: v[0]}
		}
	}
	return UnknownEvent{Line: lines[0], Reason: "malformed pos reply", Malformed: true}
}

func parseMarks(lines []string) Event {
	if f, ok := valueLine(lines, "mark_pos", 3); ok {
		if v, ok := atoiFields(f[1:]); ok {
			return MarkEvent{In: v[0], Out: v[1]}
		}
	}
	return UnknownEvent{Line: lines[0], Reason: "malformed mark_pos reply", Malformed: true}
}

func parseVideoMode(lines []string) Event {
	if f, ok := valueLine(lines, "video_mode", 2); ok {
		if v, ok := atoiFields(f[1:]); ok {
			return VideoModeEvent{Mode: v[0]}
		}
	}
	return UnknownEvent{Line: lines[0], Reason: "malformed video_mode reply", Malformed: true}
}

func parseFrameRateMode(lines []string) Event {
	if f, ok := valueLine(lines, "fps_mode", 2); ok {
		if v, ok := atoiFields(f[1:]); ok {
			return FrameRateModeEvent{Mode: v[0]}
		}
	}
	return UnknownEvent{Line: lines[0], Reason: "malformed fps_mode reply", Malformed: true}
}

func parseFrameRate(lines []string) Event {
	if f, ok := valueLine(lines, "fps", 3); ok {
		if v, ok := atoiFields(f[1:]); ok {
			return FrameRateEvent{Sensor: v[0], Display: v[1]}
		}
	}
	return UnknownEvent{Line: lines[0], Reason: "malformed fps reply", Malformed: true}
}

// versionKey lower-cases a version key and strips dashes and spaces, so
// "Serial-Number" becomes "serialnumber".
func versionKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "", " ", "").Replace(k)
}

func parseVersion(lines []string) Event {
	info := make(map[string]string)
	for _, l := range lines {
		m := keyValueRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		info[versionKey(m[1])] = strings.TrimSpace(m[2])
	}
	return VersionEvent{Info: info}
}

func hasPlatformKey(lines []string) bool {
	for _, l := range lines {
		if m := keyValueRe.FindStringSubmatch(l); m != nil && versionKey(m[1]) == "platform" {
			return true
		}
	}
	return false
}

// isVersionBlock accepts a block of at least two "key: value" lines.
func isVersionBlock(lines []string) bool {
	pairs := 0
	for _, l := range lines {
		if keyValueRe.MatchString(l) {
			pairs++
		}
	}
	return pairs >= 2
}
