package dct

import (
	"maps"
	"time"
)

// MaxBuffers is the number of recording buffers the device provides.
const MaxBuffers = 4

// ConnectionState is the lifecycle state of the device connection.
type ConnectionState string

// Connection states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Buffer is one device recording slot.
type Buffer struct {
	Index     int          `json:"buffer"`
	Recorded  int          `json:"recorded"`
	Available int          `json:"available"`
	Status    BufferStatus `json:"status"`
	Pos       int          `json:"pos"`
	Speed     int          `json:"speed"`
	MarkIn    int          `json:"mark_in"`
	MarkOut   int          `json:"mark_out"`
}

// Modes holds the device mode settings last reported by the device.
type Modes struct {
	Recording     string `json:"recording"`
	Playback      string `json:"playback"`
	Stop          string `json:"stop"`
	Video         int    `json:"video"`
	FrameRateMode int    `json:"frame_rate_mode"`
}

// DeviceState is the in-memory model of the device.
//
// The session owns the live value and mutates it under its lock. Readers
// receive copies from Session.Snapshot.
type DeviceState struct {
	Connection  ConnectionState `json:"connection"`
	BufferCount int             `json:"buffer_count"`
	Buffers     []Buffer        `json:"buffers"`
	Modes       Modes           `json:"modes"`

	CurrentRecordingBuffer int  `json:"current_recording_buffer"`
	CurrentPlaybackBuffer  int  `json:"current_playback_buffer"`
	LastRecordingBuffer    int  `json:"last_recording_buffer"`
	LastSpeed              int  `json:"last_speed"`
	CurrentlyRecording     bool `json:"currently_recording"`
	CurrentlyPlaying       bool `json:"currently_playing"`
	Ramping                bool `json:"ramping"`

	Version    map[string]string `json:"version,omitempty"`
	SensorFPS  int               `json:"sensor_fps"`
	DisplayFPS int               `json:"display_fps"`

	LastCommand  string    `json:"last_command"`
	LastResponse string    `json:"last_response"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newDeviceState(count int) DeviceState {
	s := DeviceState{Connection: StateDisconnected}
	s.resetBuffers(count)
	return s
}

// resetBuffers rebuilds all buffer slots for a new buffer count and clears
// the session counters. Slots beyond count are Offline.
func (s *DeviceState) resetBuffers(count int) {
	s.BufferCount = count
	s.Buffers = make([]Buffer, MaxBuffers)
	for i := range s.Buffers {
		s.Buffers[i] = Buffer{Index: i + 1, Status: StatusFree}
		if i >= count {
			s.Buffers[i].Status = StatusOffline
		}
	}
	s.CurrentlyRecording = false
	s.CurrentlyPlaying = false
	s.LastRecordingBuffer = 0
	s.CurrentRecordingBuffer = 0
	s.CurrentPlaybackBuffer = 0
}

// buffer returns the addressable buffer with the given index, or nil when
// the index is outside 1..BufferCount.
func (s *DeviceState) buffer(index int) *Buffer {
	if index < 1 || index > s.BufferCount || index > len(s.Buffers) {
		return nil
	}
	return &s.Buffers[index-1]
}

// firstWithStatus returns the lowest addressable buffer index in the given
// status, or 0.
func (s *DeviceState) firstWithStatus(status BufferStatus) int {
	for i := 1; i <= s.BufferCount; i++ {
		if s.Buffers[i-1].Status == status {
			return i
		}
	}
	return 0
}

func (s *DeviceState) anyWithStatus(status BufferStatus) bool {
	return s.firstWithStatus(status) != 0
}

// reset returns a buffer to Free with zeroed playback fields. The
// frame counts are left for the next status poll to correct.
func (b *Buffer) reset() {
	b.Pos = 0
	b.Speed = 0
	b.MarkIn = 0
	b.MarkOut = 0
	b.Status = StatusFree
}

// Clone returns a deep copy.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.Buffers = append([]Buffer(nil), s.Buffers...)
	out.Version = maps.Clone(s.Version)
	return out
}

// applyResult describes what an applied event did to the model.
type applyResult struct {
	ignored   []string
	malformed []string
}

// apply folds a parsed device event into the model.
func (s *DeviceState) apply(ev Event) applyResult {
	var res applyResult

	switch e := ev.(type) {
	case ModeEvent:
		value := normalizeChoice(e.Mode.Choices(), e.Value)
		switch e.Mode {
		case ModeRecording:
			s.Modes.Recording = value
		case ModePlayback:
			s.Modes.Playback = value
		case ModeStop:
			s.Modes.Stop = value
		}

	case StatusEvent:
		res.malformed = e.Malformed
		for _, line := range e.Lines {
			b := s.buffer(line.Buffer)
			if b == nil {
				res.ignored = append(res.ignored, line.Raw)
				continue
			}
			b.Recorded = line.Recorded
			b.Available = line.Available
			b.Status = line.Status
			if line.Status == StatusRecord {
				s.CurrentRecordingBuffer = line.Buffer
			}
		}

	case PositionEvent:
		if b := s.buffer(s.CurrentPlaybackBuffer); b != nil {
			b.Pos = e.Pos
		}

	case MarkEvent:
		if b := s.buffer(s.CurrentPlaybackBuffer); b != nil {
			b.MarkIn = e.In
			b.MarkOut = e.Out
		}

	case VideoModeEvent:
		s.Modes.Video = e.Mode

	case FrameRateModeEvent:
		s.Modes.FrameRateMode = e.Mode

	case FrameRateEvent:
		s.SensorFPS = e.Sensor
		s.DisplayFPS = e.Display

	case VersionEvent:
		s.Version = maps.Clone(e.Info)
	}

	return res
}
