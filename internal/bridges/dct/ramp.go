package dct

import (
	"fmt"
	"math"
	"time"
)

// RampMode selects how a ramp's step schedule is derived.
type RampMode string

// Ramp modes.
const (
	// RampByTime steps every StepTime; the step count follows from
	// TotalTime.
	RampByTime RampMode = "time"

	// RampBySteps runs Steps steps; the step interval follows from
	// TotalTime.
	RampBySteps RampMode = "steps"
)

// RampRequest describes a speed ramp.
//
// Playback starts at StartSpeed (from StartFrame when set). Once the
// playback position reaches RampFrame the speed jumps to RampSpeed and is
// then interpolated linearly to EndSpeed over TotalTime. The last step
// plays at EndSpeed, from EndFrame when set.
type RampRequest struct {
	Buffer     int      `json:"buffer"`
	StartSpeed int      `json:"start_speed"`
	StartFrame *int     `json:"start_frame,omitempty"`
	RampSpeed  int      `json:"ramp_speed"`
	RampFrame  int      `json:"ramp_frame"`
	EndSpeed   int      `json:"end_speed"`
	EndFrame   *int     `json:"end_frame,omitempty"`
	TotalTime  int      `json:"total_time_ms"`
	Mode       RampMode `json:"mode"`
	StepTime   int      `json:"step_time_ms,omitempty"`
	Steps      int      `json:"steps,omitempty"`
}

// schedule returns the step count and interval.
func (r RampRequest) schedule() (steps int, interval time.Duration, err error) {
	if r.TotalTime <= 0 {
		return 0, 0, fmt.Errorf("%w: ramp total time must be positive", ErrInvalidParameter)
	}

	switch r.Mode {
	case RampByTime:
		if r.StepTime <= 0 {
			return 0, 0, fmt.Errorf("%w: ramp step time must be positive", ErrInvalidParameter)
		}
		steps = int(math.Ceil(float64(r.TotalTime) / float64(r.StepTime)))
		return steps, time.Duration(r.StepTime) * time.Millisecond, nil
	case RampBySteps:
		if r.Steps <= 0 {
			return 0, 0, fmt.Errorf("%w: ramp steps must be positive", ErrInvalidParameter)
		}
		ms := int(math.Ceil(float64(r.TotalTime) / float64(r.Steps)))
		return r.Steps, time.Duration(ms) * time.Millisecond, nil
	default:
		return 0, 0, fmt.Errorf("%w: ramp mode %q", ErrInvalidParameter, r.Mode)
	}
}

// speedAt interpolates the speed of step i of n, rounded and clamped.
func (r RampRequest) speedAt(i, n int) int {
	v := float64(r.RampSpeed) + float64(r.EndSpeed-r.RampSpeed)*float64(i)/float64(n)
	return ClampSpeed(int(math.Round(v)))
}

type rampRun struct {
	req      RampRequest
	buffer   int
	steps    int
	interval time.Duration
	step     int
	task     Task
}

// RampPlay starts a speed ramp. Only one ramp runs at a time.
func (s *Session) RampPlay(req RampRequest) error {
	steps, interval, err := req.schedule()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ramp != nil {
		return s.refuseLocked("rampPlay", refuseWith(ErrRampInProgress, "ramping already in progress, cannot start another ramp"))
	}
	if err := s.requireBuffersLocked("rampPlay"); err != nil {
		return err
	}

	buffer := req.Buffer
	if buffer == 0 {
		buffer = s.lastRecordedOrFirstLocked()
	}
	if _, err := s.playableLocked("rampPlay", buffer); err != nil {
		return err
	}

	s.logger.Info("ramping playback",
		"buffer", buffer,
		"start_speed", req.StartSpeed,
		"ramp_frame", req.RampFrame,
		"ramp_speed", req.RampSpeed,
		"end_speed", req.EndSpeed,
		"mode", req.Mode,
		"steps", steps,
		"interval", interval,
	)
	if err := s.playLocked(buffer, req.StartSpeed, req.StartFrame); err != nil {
		return err
	}

	run := &rampRun{req: req, buffer: buffer, steps: steps, interval: interval}
	s.ramp = run
	s.state.Ramping = true
	run.task = s.everyLocked(taskRamp, s.cfg.Delays.RampTriggerPoll, func() { s.rampTriggerLocked(run) })
	s.markChangedLocked()
	return nil
}

// rampTriggerLocked waits for the playback position to reach the ramp
// frame, then switches to the step schedule.
func (s *Session) rampTriggerLocked(run *rampRun) {
	if s.ramp != run {
		return
	}
	b := s.state.buffer(run.buffer)
	if b == nil || b.Pos < run.req.RampFrame {
		return
	}

	s.logger.Debug("ramp frame reached", "buffer", run.buffer, "pos", b.Pos)
	s.rampSendLocked(run, run.req.RampSpeed, nil)
	run.task = s.everyLocked(taskRamp, run.interval, func() { s.rampStepLocked(run) })
}

func (s *Session) rampStepLocked(run *rampRun) {
	if s.ramp != run {
		return
	}
	run.step++

	if run.step < run.steps {
		s.rampSendLocked(run, run.req.speedAt(run.step, run.steps), nil)
		return
	}

	s.rampSendLocked(run, run.req.EndSpeed, run.req.EndFrame)
	s.logger.Info("ramp complete", "buffer", run.buffer, "speed", ClampSpeed(run.req.EndSpeed))
	s.stopRampLocked()
}

func (s *Session) rampSendLocked(run *rampRun, speed int, frame *int) {
	speed = ClampSpeed(speed)
	cmd := fmt.Sprintf("play %d %d", run.buffer, speed)
	if frame != nil {
		cmd = fmt.Sprintf("%s %d", cmd, *frame)
	}
	if err := s.enqueueLocked(cmd); err != nil {
		return
	}
	if b := s.state.buffer(run.buffer); b != nil {
		b.Speed = speed
	}
	s.state.LastSpeed = speed
	s.markChangedLocked()
}

// StopRamp cancels any running ramp.
func (s *Session) StopRamp() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping ramp")
	s.stopRampLocked()
}

func (s *Session) stopRampLocked() {
	if s.ramp != nil && s.ramp.task != nil {
		s.ramp.task.Cancel()
	}
	s.sched.Cancel(taskRamp)
	if s.ramp != nil || s.state.Ramping {
		s.ramp = nil
		s.state.Ramping = false
		s.markChangedLocked()
	}
}
