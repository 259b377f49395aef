package dct

import (
	"strconv"
	"strings"
)

// BufferStatus is the canonical state of a recording buffer.
type BufferStatus string

// Buffer statuses. The device reports four-letter tokens that are
// normalised to these values by the status parser.
const (
	StatusFree    BufferStatus = "Free"
	StatusUsed    BufferStatus = "Used"
	StatusRecord  BufferStatus = "Record"
	StatusPlay    BufferStatus = "Play"
	StatusPause   BufferStatus = "Pause"
	StatusOffline BufferStatus = "Offline"
)

// ParseBufferStatus maps a device status word (case-insensitive) or a
// canonical status name to a BufferStatus.
func ParseBufferStatus(word string) (BufferStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "free":
		return StatusFree, true
	case "used":
		return StatusUsed, true
	case "reco", "record":
		return StatusRecord, true
	case "play":
		return StatusPlay, true
	case "paus", "pause":
		return StatusPause, true
	case "offline":
		return StatusOffline, true
	default:
		return "", false
	}
}

// Choice is one entry of a fixed option list offered to operators.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Speed limits in device units; 10 is normal forward speed.
const (
	MinSpeed     = -1000
	MaxSpeed     = 1000
	DefaultSpeed = 10
)

// Speed is a labelled playback speed.
type Speed struct {
	Value int    `json:"id"`
	Label string `json:"label"`
}

// Speeds lists the labelled playback speeds understood by the device.
var Speeds = []Speed{
	{-1000, "Backward x100"},
	{-100, "Backward x10"},
	{-50, "Backward x5"},
	{-10, "Backward x1"},
	{-5, "Backward x1/2"},
	{0, "Pause"},
	{5, "Forward x1/2"},
	{10, "Forward x1"},
	{50, "Forward x5"},
	{100, "Forward x10"},
	{1000, "Forward x100"},
}

// SpeedLabel returns the label of a known speed, or the number itself.
func SpeedLabel(speed int) string {
	for _, s := range Speeds {
		if s.Value == speed {
			return s.Label
		}
	}
	return strconv.Itoa(speed)
}

// ClampSpeed bounds a speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	if speed > MaxSpeed {
		return MaxSpeed
	}
	if speed < MinSpeed {
		return MinSpeed
	}
	return speed
}

// Mode option lists. The first entry of each is the fallback for
// unrecognised device values.
var (
	RecordingModes = []Choice{{"0", "Loop"}, {"1", "Once"}}
	PlaybackModes  = []Choice{{"0", "Loop"}, {"1", "Once"}}
	StopModes      = []Choice{{"0", "Live"}, {"1", "Black"}, {"2", "Color Bars"}}
	SeekModes      = []Choice{{"1", "Absolute"}, {"0", "Relative"}}
	SwitchModes    = []Choice{{"1", "SSM Mode"}, {"0", "Trigger Mode"}}
	NetworkTypes   = []Choice{{"dhcp", "DHCP"}, {"static", "Static"}}
)

// VideoMode is a device video format with its nominal frame rate.
type VideoMode struct {
	ID        int     `json:"id"`
	Label     string  `json:"label"`
	FrameRate float64 `json:"frame_rate"`
}

// VideoModes lists the video formats the device reports via video_mode.
var VideoModes = []VideoMode{
	{4, "1080p30", 30},
	{5, "1080p25", 25},
	{6, "1080p24", 24},
	{7, "1080p23.98", 23.98},
	{8, "1080p29.97", 29.97},
	{9, "1080p50", 50},
	{10, "1080p60", 60},
	{11, "1080i60", 60},
	{12, "1080i50", 50},
	{13, "1080i59.94", 59.94},
	{14, "1080p59.94", 59.94},
}

// LookupVideoMode finds a video mode by its numeric id.
func LookupVideoMode(id int) (VideoMode, bool) {
	for _, m := range VideoModes {
		if m.ID == id {
			return m, true
		}
	}
	return VideoMode{}, false
}

// ModeKind names one of the device's configurable mode settings.
type ModeKind string

// Mode kinds. The values double as the device command names.
const (
	ModeRecording ModeKind = "rec_mode"
	ModePlayback  ModeKind = "play_mode"
	ModeStop      ModeKind = "stop_mode"
)

// Choices returns the option list for the mode kind.
func (k ModeKind) Choices() []Choice {
	switch k {
	case ModeRecording:
		return RecordingModes
	case ModePlayback:
		return PlaybackModes
	case ModeStop:
		return StopModes
	default:
		return nil
	}
}

// Valid reports whether k is a known mode kind.
func (k ModeKind) Valid() bool {
	return k.Choices() != nil
}

// normalizeChoice returns value when it is one of choices, otherwise the
// first choice id.
func normalizeChoice(choices []Choice, value string) string {
	for _, c := range choices {
		if c.ID == value {
			return value
		}
	}
	if len(choices) == 0 {
		return value
	}
	return choices[0].ID
}

// validChoice reports whether value is one of choices.
func validChoice(choices []Choice, value string) bool {
	for _, c := range choices {
		if c.ID == value {
			return true
		}
	}
	return false
}

// choiceLabel returns the label for value, or value itself when unknown.
func choiceLabel(choices []Choice, value string) string {
	for _, c := range choices {
		if c.ID == value {
			return c.Label
		}
	}
	return value
}
