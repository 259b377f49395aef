package dct

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Action names accepted by Dispatch.
const (
	ActionPlay                  = "play"
	ActionPause                 = "pause"
	ActionStop                  = "stop"
	ActionRecord                = "record"
	ActionRecordStop            = "recordStop"
	ActionMarkIn                = "markIn"
	ActionMarkOut               = "markOut"
	ActionSeek                  = "seek"
	ActionFreeBuffer            = "freeBuffer"
	ActionChangeMode            = "changeMode"
	ActionVideoMode             = "videoMode"
	ActionFrameRateMode         = "frameRateMode"
	ActionPhases                = "phases"
	ActionSwitchMode            = "switchMode"
	ActionChangeNetworkSettings = "changeNetworkSettings"
	ActionReboot                = "reboot"
	ActionShutdown              = "shutdown"
	ActionCustomCommand         = "customCommand"
	ActionSetBufferCount        = "setBufferCount"
	ActionRampPlay              = "rampPlay"
	ActionStopRamp              = "stopRamp"
	ActionRecordIntoEarliest    = "recordIntoEarliest"
)

type playParams struct {
	Buffer int  `json:"buffer"`
	Speed  *int `json:"speed"`
	Frame  *int `json:"frame"`
}

type recordParams struct {
	Buffer     int  `json:"buffer"`
	FreeIfUsed bool `json:"free_if_used"`
}

type recordStopParams struct {
	AutoPlay bool   `json:"auto_play"`
	Buffer   string `json:"buffer"`
	Speed    *int   `json:"speed"`
	Frame    *int   `json:"frame"`
}

type markParams struct {
	Frame *int `json:"frame"`
}

type seekParams struct {
	Mode     string `json:"mode"`
	Position int    `json:"position"`
}

type freeParams struct {
	Buffer         int  `json:"buffer"`
	StartRecording bool `json:"start_recording"`
}

type modeParams struct {
	Kind  ModeKind `json:"kind"`
	Value string   `json:"value"`
}

type intModeParams struct {
	Mode int `json:"mode"`
}

type phasesParams struct {
	Phases int `json:"phases"`
}

type switchModeParams struct {
	Mode string `json:"mode"`
}

type commandParams struct {
	Command string `json:"command"`
}

type countParams struct {
	Count int `json:"count"`
}

// actionTable maps action names to their handlers.
var actionTable = map[string]func(*Session, json.RawMessage) error{
	ActionPlay: func(s *Session, raw json.RawMessage) error {
		var p playParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		speed := DefaultSpeed
		if p.Speed != nil {
			speed = *p.Speed
		}
		return s.Play(p.Buffer, speed, p.Frame)
	},
	ActionPause: func(s *Session, _ json.RawMessage) error { return s.Pause() },
	ActionStop:  func(s *Session, _ json.RawMessage) error { return s.StopPlayback() },
	ActionRecord: func(s *Session, raw json.RawMessage) error {
		var p recordParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.Record(p.Buffer, p.FreeIfUsed)
	},
	ActionRecordStop: func(s *Session, raw json.RawMessage) error {
		var p recordStopParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		opts, err := p.options()
		if err != nil {
			return err
		}
		return s.RecordStop(opts)
	},
	ActionMarkIn: func(s *Session, raw json.RawMessage) error {
		var p markParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.MarkIn(p.Frame)
	},
	ActionMarkOut: func(s *Session, raw json.RawMessage) error {
		var p markParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.MarkOut(p.Frame)
	},
	ActionSeek: func(s *Session, raw json.RawMessage) error {
		p := seekParams{Mode: SeekModes[0].ID}
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.Seek(p.Mode, p.Position)
	},
	ActionFreeBuffer: func(s *Session, raw json.RawMessage) error {
		var p freeParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.FreeBuffer(p.Buffer, p.StartRecording)
	},
	ActionChangeMode: func(s *Session, raw json.RawMessage) error {
		var p modeParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.ChangeMode(p.Kind, p.Value)
	},
	ActionVideoMode: func(s *Session, raw json.RawMessage) error {
		var p intModeParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SetVideoMode(p.Mode)
	},
	ActionFrameRateMode: func(s *Session, raw json.RawMessage) error {
		var p intModeParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SetFrameRateMode(p.Mode)
	},
	ActionPhases: func(s *Session, raw json.RawMessage) error {
		var p phasesParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SetPhases(p.Phases)
	},
	ActionSwitchMode: func(s *Session, raw json.RawMessage) error {
		p := switchModeParams{Mode: SwitchModes[0].ID}
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SwitchMode(p.Mode)
	},
	ActionChangeNetworkSettings: func(s *Session, raw json.RawMessage) error {
		p := NetworkSettings{Type: NetworkTypes[0].ID}
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.ChangeNetworkSettings(p)
	},
	ActionReboot:   func(s *Session, _ json.RawMessage) error { return s.Reboot() },
	ActionShutdown: func(s *Session, _ json.RawMessage) error { return s.Shutdown() },
	ActionCustomCommand: func(s *Session, raw json.RawMessage) error {
		var p commandParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SendCommand(p.Command)
	},
	ActionSetBufferCount: func(s *Session, raw json.RawMessage) error {
		var p countParams
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.SetBufferCount(p.Count)
	},
	ActionRampPlay: func(s *Session, raw json.RawMessage) error {
		p := RampRequest{Mode: RampByTime}
		if err := decodeParams(raw, &p); err != nil {
			return err
		}
		return s.RampPlay(p)
	},
	ActionStopRamp: func(s *Session, _ json.RawMessage) error {
		s.StopRamp()
		return nil
	},
	ActionRecordIntoEarliest: func(s *Session, _ json.RawMessage) error { return s.RecordIntoEarliest() },
}

// options converts the wire form of the auto-play target: "" or "0" for
// the last recorded buffer, "firstUsed", or a buffer number.
func (p recordStopParams) options() (RecordStopOptions, error) {
	opts := RecordStopOptions{AutoPlay: p.AutoPlay, Frame: p.Frame}
	if p.Speed != nil {
		opts.Speed = *p.Speed
	}

	switch target := strings.TrimSpace(p.Buffer); target {
	case "", "0", "last":
	case "firstUsed":
		opts.FirstUsed = true
	default:
		n, err := strconv.Atoi(target)
		if err != nil || n < 1 || n > MaxBuffers {
			return opts, fmt.Errorf("%w: auto-play buffer %q", ErrInvalidParameter, target)
		}
		opts.Buffer = n
	}
	return opts, nil
}

// Dispatch runs the named action with JSON-encoded parameters. Empty
// parameters decode as defaults.
func (s *Session) Dispatch(action string, params json.RawMessage) error {
	fn, ok := actionTable[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return fn(s, params)
}

// ActionNames returns the registered action names, sorted.
func ActionNames() []string {
	names := make([]string, 0, len(actionTable))
	for name := range actionTable {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return nil
}
