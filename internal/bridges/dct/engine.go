package dct

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// RecordStopOptions controls what happens after a recording is stopped.
type RecordStopOptions struct {
	// AutoPlay starts playback once the buffer has settled, unless
	// something is already playing.
	AutoPlay bool

	// Buffer is the buffer to play. 0 means the buffer just recorded.
	Buffer int

	// FirstUsed plays the lowest buffer in Used status instead of Buffer.
	FirstUsed bool

	Speed int
	Frame *int
}

// NetworkSettings describes a device IPv4 configuration.
type NetworkSettings struct {
	// Type is "dhcp" or "static".
	Type    string `json:"type"`
	IP      string `json:"ip"`
	Subnet  string `json:"subnet"`
	Gateway string `json:"gateway"`
}

// Play starts playback of buffer at speed, optionally from frame.
//
// Buffer 0 plays the last recorded buffer, or buffer 1 when nothing has
// been recorded yet. Speed is clamped to the device range. Buffers that
// are recording or free are refused.
func (s *Session) Play(buffer, speed int, frame *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked(buffer, speed, frame)
}

func (s *Session) playLocked(buffer, speed int, frame *int) error {
	if err := s.requireBuffersLocked("play"); err != nil {
		return err
	}
	if buffer == 0 {
		buffer = s.lastRecordedOrFirstLocked()
	}

	b, err := s.playableLocked("play", buffer)
	if err != nil {
		return err
	}

	speed = ClampSpeed(speed)
	cmd := fmt.Sprintf("play %d %d", buffer, speed)
	if frame != nil {
		cmd = fmt.Sprintf("%s %d", cmd, *frame)
	}
	if err := s.enqueueLocked(cmd); err != nil {
		return err
	}

	s.state.CurrentPlaybackBuffer = buffer
	b.Speed = speed
	s.state.LastSpeed = speed
	s.state.CurrentlyPlaying = true
	s.markChangedLocked()
	return nil
}

// playableLocked returns the buffer when it exists and holds a recording.
func (s *Session) playableLocked(op string, buffer int) (*Buffer, error) {
	b := s.state.buffer(buffer)
	if b == nil {
		return nil, s.refuseLocked(op, refuseWith(ErrInvalidParameter, fmt.Sprintf("buffer %d is not configured", buffer)))
	}
	switch b.Status {
	case StatusRecord:
		return nil, s.refuseLocked(op, refuse(fmt.Sprintf("buffer %d is currently recording, cannot play", buffer)))
	case StatusFree:
		return nil, s.refuseLocked(op, refuse(fmt.Sprintf("buffer %d is free, cannot play an empty buffer", buffer)))
	}
	return b, nil
}

func (s *Session) lastRecordedOrFirstLocked() int {
	if s.state.LastRecordingBuffer == 0 {
		return 1
	}
	return s.state.LastRecordingBuffer
}

// Pause pauses playback.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enqueueLocked("pause"); err != nil {
		return err
	}
	s.state.CurrentlyPlaying = false
	s.markChangedLocked()
	return nil
}

// StopPlayback stops playback.
func (s *Session) StopPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping playback", "buffer", s.state.CurrentPlaybackBuffer)
	if err := s.enqueueLocked("stop"); err != nil {
		return err
	}
	s.state.CurrentlyPlaying = false
	s.markChangedLocked()
	return nil
}

// Record starts recording into buffer after a short settle delay.
//
// Buffer 0 selects the lowest Free buffer. A named buffer that is not
// Free is refused unless freeIfUsed is set, in which case it is freed
// first. With sequential recording enforced, recording into a lower
// buffer than the one currently recording is refused.
func (s *Session) Record(buffer int, freeIfUsed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(buffer, freeIfUsed)
}

func (s *Session) recordLocked(buffer int, freeIfUsed bool) error {
	if err := s.requireBuffersLocked("record"); err != nil {
		return err
	}
	if s.conn == nil {
		return s.refuseLocked("record", refuseWith(ErrNotConnected, "cannot record while disconnected"))
	}

	if buffer == 0 {
		buffer = s.state.firstWithStatus(StatusFree)
		if buffer == 0 {
			return s.refuseLocked("record", refuseWith(ErrNoFreeBuffer, "no free buffers available to record to"))
		}
		s.logger.Info("recording to first free buffer", "buffer", buffer)
	} else {
		b := s.state.buffer(buffer)
		if b == nil {
			return s.refuseLocked("record", refuseWith(ErrInvalidParameter, fmt.Sprintf("buffer %d is not configured", buffer)))
		}
		if b.Status != StatusFree {
			if !freeIfUsed {
				return s.refuseLocked("record", refuse(fmt.Sprintf("buffer %d is not free, cannot record", buffer)))
			}
			if err := s.freeLocked(buffer, false); err != nil {
				return err
			}
		}
	}

	if err := s.sequentialCheckLocked(buffer); err != nil {
		return err
	}

	target := buffer
	s.afterLocked("", s.cfg.Delays.RecordSettle, func() {
		if err := s.sequentialCheckLocked(target); err != nil {
			return
		}
		if s.state.CurrentlyRecording && s.state.CurrentRecordingBuffer == target {
			// A repeated request for the same buffer within the settle delay.
			return
		}
		if err := s.enqueueLocked(fmt.Sprintf("rec %d", target)); err != nil {
			return
		}
		s.state.LastRecordingBuffer = s.state.CurrentRecordingBuffer
		s.state.CurrentRecordingBuffer = target
		s.state.CurrentlyRecording = true
		s.logger.Info("recording to buffer", "buffer", target)
		s.markChangedLocked()
	})
	return nil
}

func (s *Session) sequentialCheckLocked(buffer int) error {
	if s.cfg.ForceSequentialRecording && s.state.CurrentlyRecording && s.state.CurrentRecordingBuffer > buffer {
		return s.refuseLocked("record", refuse(fmt.Sprintf(
			"cannot record to buffer %d while recording to higher buffer %d", buffer, s.state.CurrentRecordingBuffer)))
	}
	return nil
}

// RecordIntoEarliest starts recording into the lowest Free buffer.
func (s *Session) RecordIntoEarliest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordIntoEarliestLocked()
}

func (s *Session) recordIntoEarliestLocked() error {
	if err := s.requireBuffersLocked("recordIntoEarliest"); err != nil {
		return err
	}
	buffer := s.state.firstWithStatus(StatusFree)
	if buffer == 0 {
		return s.refuseLocked("recordIntoEarliest", refuseWith(ErrNoFreeBuffer, "no free buffers available to record to"))
	}
	s.logger.Info("recording into earliest free buffer", "buffer", buffer)
	return s.recordLocked(buffer, false)
}

// RecordStop stops the current recording. The recorded buffer becomes the
// last recording buffer and its position and marks are cleared.
func (s *Session) RecordStop(opts RecordStopOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CurrentlyRecording {
		return s.refuseLocked("recordStop", refuse("cannot stop recording when not recording"))
	}
	if err := s.enqueueLocked("rec_stop"); err != nil {
		return err
	}

	s.state.CurrentlyRecording = false
	s.state.LastRecordingBuffer = s.state.CurrentRecordingBuffer
	s.state.CurrentRecordingBuffer = 0
	if b := s.state.buffer(s.state.LastRecordingBuffer); b != nil {
		b.Pos = 0
		b.MarkIn = 0
		b.MarkOut = 0
	}
	s.markChangedLocked()

	if opts.AutoPlay {
		s.afterLocked("", s.cfg.Delays.AutoPlayResolve, func() { s.autoPlayLocked(opts) })
	}
	return nil
}

// autoPlayLocked resolves the auto-play target once the stopped buffer
// has had time to flip from Record to Used.
func (s *Session) autoPlayLocked(opts RecordStopOptions) {
	buffer := opts.Buffer
	switch {
	case opts.FirstUsed:
		buffer = s.state.firstWithStatus(StatusUsed)
		if buffer == 0 {
			s.logger.Warn("no buffers are currently in use, cannot auto play a buffer yet")
			return
		}
	case buffer == 0:
		buffer = s.lastRecordedOrFirstLocked()
	}

	if s.state.CurrentlyPlaying {
		s.logger.Warn("cannot auto-play when already playing", "playing", s.state.CurrentPlaybackBuffer)
		return
	}

	s.logger.Info("auto-playing buffer", "buffer", buffer, "speed", opts.Speed)
	s.afterLocked("", s.cfg.Delays.AutoPlaySettle, func() {
		_ = s.playLocked(buffer, opts.Speed, opts.Frame)
	})
}

// MarkIn sets the mark in point of the playing buffer. A nil frame uses
// the current playback position.
func (s *Session) MarkIn(frame *int) error {
	return s.mark("mark_in", frame)
}

// MarkOut sets the mark out point of the playing buffer. A nil frame uses
// the current playback position.
func (s *Session) MarkOut(frame *int) error {
	return s.mark("mark_out", frame)
}

func (s *Session) mark(cmd string, frame *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CurrentlyPlaying {
		return s.refuseLocked(cmd, refuse("cannot mark a frame when not playing"))
	}
	pos := 0
	if frame != nil {
		pos = *frame
	} else if b := s.state.buffer(s.state.CurrentPlaybackBuffer); b != nil {
		pos = b.Pos
	}
	if pos < 0 {
		return fmt.Errorf("%w: frame must not be negative: %d", ErrInvalidParameter, pos)
	}
	return s.enqueueLocked(fmt.Sprintf("%s %d", cmd, pos))
}

// Seek moves playback to pos. Mode "1" is absolute, "0" relative.
func (s *Session) Seek(mode string, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validChoice(SeekModes, mode) {
		return fmt.Errorf("%w: seek mode %q", ErrInvalidParameter, mode)
	}
	if !s.state.CurrentlyPlaying {
		return s.refuseLocked("seek", refuse("cannot seek to frame when not playing"))
	}
	return s.enqueueLocked(fmt.Sprintf("seek %s %d 0", mode, pos))
}

// FreeBuffer clears buffer, or every buffer when buffer is 0. A buffer
// that is recording cannot be freed. With startRecording, recording into
// the freed buffer (buffer 1 after freeing all) starts after a delay.
func (s *Session) FreeBuffer(buffer int, startRecording bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeLocked(buffer, startRecording)
}

func (s *Session) freeLocked(buffer int, startRecording bool) error {
	if err := s.requireBuffersLocked("freeBuffer"); err != nil {
		return err
	}

	if buffer != 0 {
		if s.state.buffer(buffer) == nil {
			return s.refuseLocked("freeBuffer", refuseWith(ErrInvalidParameter, fmt.Sprintf("buffer %d is not configured", buffer)))
		}
		if s.state.CurrentlyRecording && s.state.CurrentRecordingBuffer == buffer {
			return s.refuseLocked("freeBuffer", refuse(fmt.Sprintf("cannot free buffer %d while recording to it", buffer)))
		}
	} else if s.state.CurrentlyRecording {
		return s.refuseLocked("freeBuffer", refuse("cannot free all buffers while recording to one of them"))
	}

	if err := s.enqueueLocked(fmt.Sprintf("free %d", buffer)); err != nil {
		return err
	}

	if buffer == 0 {
		s.logger.Info("freeing all buffers")
		s.state.CurrentRecordingBuffer = 0
		s.state.CurrentPlaybackBuffer = 0
		s.state.CurrentlyRecording = false
		s.state.CurrentlyPlaying = false
		for i := 1; i <= s.state.BufferCount; i++ {
			s.state.Buffers[i-1].reset()
		}
	} else {
		s.logger.Info("freeing buffer", "buffer", buffer)
		s.state.buffer(buffer).reset()
		if s.state.LastRecordingBuffer == buffer {
			s.state.LastRecordingBuffer = 0
			s.state.CurrentlyRecording = false
		}
		if s.state.CurrentPlaybackBuffer == buffer {
			s.state.CurrentPlaybackBuffer = 0
			s.state.CurrentlyPlaying = false
		}
	}
	s.markChangedLocked()

	if startRecording && !s.state.CurrentlyRecording {
		target := max(buffer, 1)
		s.afterLocked("", s.cfg.Delays.FreeThenRecord, func() {
			_ = s.recordLocked(target, false)
		})
	}
	return nil
}

// ChangeMode sets a recording, playback or stop mode.
func (s *Session) ChangeMode(kind ModeKind, value string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: mode kind %q", ErrInvalidParameter, kind)
	}
	if !validChoice(kind.Choices(), value) {
		return fmt.Errorf("%w: %s value %q", ErrInvalidParameter, kind, value)
	}
	s.logger.Info("changing mode", "mode", kind, "value", value)
	return s.issue(fmt.Sprintf("%s %s", kind, value))
}

// SetVideoMode selects a video format by id.
func (s *Session) SetVideoMode(mode int) error {
	if _, ok := LookupVideoMode(mode); !ok {
		return fmt.Errorf("%w: video mode %d", ErrInvalidParameter, mode)
	}
	s.logger.Info("changing video mode", "mode", mode)
	return s.issue(fmt.Sprintf("video_mode %d", mode))
}

// SetFrameRateMode selects a frame rate mode.
func (s *Session) SetFrameRateMode(mode int) error {
	if mode < 0 {
		return fmt.Errorf("%w: frame rate mode %d", ErrInvalidParameter, mode)
	}
	s.logger.Info("changing frame rate mode", "mode", mode)
	return s.issue(fmt.Sprintf("fps_mode %d", mode))
}

// SetPhases sets the number of capture phases.
func (s *Session) SetPhases(phases int) error {
	if phases < 0 {
		return fmt.Errorf("%w: phases %d", ErrInvalidParameter, phases)
	}
	s.logger.Info("changing phases", "phases", phases)
	return s.issue(fmt.Sprintf("phases %d", phases))
}

// SwitchMode selects SSM ("1") or trigger ("0") mode.
func (s *Session) SwitchMode(mode string) error {
	if !validChoice(SwitchModes, mode) {
		return fmt.Errorf("%w: switch mode %q", ErrInvalidParameter, mode)
	}
	s.logger.Info("switching mode", "mode", mode)
	return s.issue(fmt.Sprintf("switch_mode %s", mode))
}

// Reboot reboots the device.
func (s *Session) Reboot() error {
	s.logger.Info("rebooting device")
	return s.issue("reboot")
}

// Shutdown powers the device off.
func (s *Session) Shutdown() error {
	s.logger.Info("shutting down device")
	return s.issue("shutdown")
}

// SendCommand queues a raw command.
func (s *Session) SendCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("%w: command must be a single non-empty line", ErrInvalidParameter)
	}
	return s.issue(cmd)
}

func (s *Session) issue(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(cmd)
}

// ChangeNetworkSettings reconfigures the device network and saves it on
// the device. A static address becomes the new host. The session
// reconnects once the device has had time to apply the change.
func (s *Session) ChangeNetworkSettings(ns NetworkSettings) error {
	var cmd string
	switch ns.Type {
	case "dhcp":
		cmd = "ipv4 0"
	case "static":
		if net.ParseIP(ns.IP) == nil {
			return fmt.Errorf("%w: ip %q", ErrInvalidParameter, ns.IP)
		}
		if prefix, err := strconv.Atoi(ns.Subnet); err != nil || prefix < 0 || prefix > 32 {
			return fmt.Errorf("%w: subnet prefix %q", ErrInvalidParameter, ns.Subnet)
		}
		if net.ParseIP(ns.Gateway) == nil {
			return fmt.Errorf("%w: gateway %q", ErrInvalidParameter, ns.Gateway)
		}
		cmd = fmt.Sprintf("ipv4 1 %s %s %s", ns.IP, ns.Subnet, ns.Gateway)
	default:
		return fmt.Errorf("%w: network type %q", ErrInvalidParameter, ns.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("changing network settings",
		"type", ns.Type,
		"ip", ns.IP,
		"subnet", ns.Subnet,
		"gateway", ns.Gateway,
	)
	if err := s.enqueueLocked(cmd); err != nil {
		return err
	}
	if err := s.enqueueLocked("save_settings"); err != nil {
		return err
	}

	if ns.Type == "static" {
		s.cfg.Host = ns.IP
		if s.persister != nil {
			if err := s.persister.SaveDeviceHost(ns.IP); err != nil {
				s.logger.Error("failed to persist device host", "host", ns.IP, "error", err)
			}
		}
	}

	s.logger.Info("network settings changed, reconnecting", "delay", s.cfg.ReconnectDelay)
	s.armReconnectLocked(s.cfg.ReconnectDelay)
	return nil
}

// SetBufferCount reconfigures how many buffers are in use. Zero disables
// every buffer operation. The count is persisted, the buffers and session
// counters are rebuilt, and recording into the first free buffer is
// attempted.
func (s *Session) SetBufferCount(count int) error {
	if count < 0 || count > MaxBuffers {
		return fmt.Errorf("%w: buffer count must be between 0 and %d, got %d", ErrInvalidParameter, MaxBuffers, count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if count == 0 {
		s.logger.Warn("buffer count set to 0, all buffer operations are disabled")
	} else {
		s.logger.Info("setting buffer count", "count", count)
		_ = s.enqueueLocked(fmt.Sprintf("count %d", count))
	}

	s.cfg.Buffers = count
	if s.persister != nil {
		if err := s.persister.SaveBufferCount(count); err != nil {
			s.logger.Error("failed to persist buffer count", "count", count, "error", err)
		}
	}

	s.stopRampLocked()
	s.state.resetBuffers(count)
	s.markChangedLocked()

	if count > 0 && s.conn != nil {
		_ = s.recordLocked(0, false)
	}
	return nil
}

func (s *Session) requireBuffersLocked(op string) error {
	if s.state.BufferCount == 0 {
		return s.refuseLocked(op, refuseWith(ErrBuffersDisabled, "buffer count is 0"))
	}
	return nil
}
