package dct

import (
	"fmt"
	"time"
)

// Default session timings. The settle delays give the device time to
// finish a transition before the next command targets the same buffer.
const (
	DefaultPort               = 9923
	DefaultPollInterval       = 250 * time.Millisecond
	DefaultReconnectDelay     = 10 * time.Second
	DefaultUnusedBufferText   = "N/A"
	defaultQueueFallback      = 50 * time.Millisecond
	defaultRecordSettle       = 20 * time.Millisecond
	defaultAutoPlayResolve    = 30 * time.Millisecond
	defaultAutoPlaySettle     = 20 * time.Millisecond
	defaultFreeThenRecord     = 50 * time.Millisecond
	defaultRecordIntoEarliest = time.Second
	defaultRampTriggerPoll    = 10 * time.Millisecond
)

// Delays holds the fixed waits the engine inserts between steps.
type Delays struct {
	QueueFallback      time.Duration
	RecordSettle       time.Duration
	AutoPlayResolve    time.Duration
	AutoPlaySettle     time.Duration
	FreeThenRecord     time.Duration
	RecordIntoEarliest time.Duration
	RampTriggerPoll    time.Duration
}

// Settings configures a device session.
type Settings struct {
	Host    string
	Port    int
	Buffers int

	Polling      bool
	PollInterval time.Duration

	// SetModes pushes the configured modes to the device on connect.
	SetModes      bool
	RecordingMode string
	PlaybackMode  string
	StopMode      string

	Verbose                  bool
	ForceSequentialRecording bool
	RecordIntoEarliest       bool
	UnusedBufferText         string

	ReconnectDelay  time.Duration
	InFlightTimeout time.Duration

	Delays Delays
}

// DefaultSettings returns settings for a four-buffer device with polling
// enabled.
func DefaultSettings() Settings {
	return Settings{
		Port:             DefaultPort,
		Buffers:          MaxBuffers,
		Polling:          true,
		PollInterval:     DefaultPollInterval,
		RecordingMode:    RecordingModes[0].ID,
		PlaybackMode:     PlaybackModes[0].ID,
		StopMode:         StopModes[0].ID,
		UnusedBufferText: DefaultUnusedBufferText,
		ReconnectDelay:   DefaultReconnectDelay,
		InFlightTimeout:  defaultInFlightTimeout,
	}.withDefaults()
}

// withDefaults fills zero timings with their defaults.
func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = DefaultReconnectDelay
	}
	if s.InFlightTimeout <= 0 {
		s.InFlightTimeout = defaultInFlightTimeout
	}
	if s.UnusedBufferText == "" {
		s.UnusedBufferText = DefaultUnusedBufferText
	}
	if s.RecordingMode == "" {
		s.RecordingMode = RecordingModes[0].ID
	}
	if s.PlaybackMode == "" {
		s.PlaybackMode = PlaybackModes[0].ID
	}
	if s.StopMode == "" {
		s.StopMode = StopModes[0].ID
	}

	d := &s.Delays
	setDefault(&d.QueueFallback, defaultQueueFallback)
	setDefault(&d.RecordSettle, defaultRecordSettle)
	setDefault(&d.AutoPlayResolve, defaultAutoPlayResolve)
	setDefault(&d.AutoPlaySettle, defaultAutoPlaySettle)
	setDefault(&d.FreeThenRecord, defaultFreeThenRecord)
	setDefault(&d.RecordIntoEarliest, defaultRecordIntoEarliest)
	setDefault(&d.RampTriggerPoll, defaultRampTriggerPoll)
	return s
}

func setDefault(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Validate checks the settings a session cannot run without.
func (s Settings) Validate() error {
	if s.Buffers < 0 || s.Buffers > MaxBuffers {
		return fmt.Errorf("%w: buffers must be between 0 and %d, got %d", ErrInvalidParameter, MaxBuffers, s.Buffers)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port out of range: %d", ErrInvalidParameter, s.Port)
	}
	for _, m := range []struct {
		kind  ModeKind
		value string
	}{
		{ModeRecording, s.RecordingMode},
		{ModePlayback, s.PlaybackMode},
		{ModeStop, s.StopMode},
	} {
		if m.value != "" && !validChoice(m.kind.Choices(), m.value) {
			return fmt.Errorf("%w: invalid %s %q", ErrInvalidParameter, m.kind, m.value)
		}
	}
	return nil
}

// SettingsPersister stores settings the session changes at runtime so they
// survive a restart.
type SettingsPersister interface {
	SaveDeviceHost(host string) error
	SaveBufferCount(count int) error
}
