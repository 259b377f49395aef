package dct

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Feedback kinds evaluated by Feedback.
const (
	FeedbackBufferStatus  = "bufferStatus"
	FeedbackRecordingMode = "recordingMode"
	FeedbackPlaybackMode  = "playbackMode"
	FeedbackStopMode      = "stopMode"
)

// FeedbackArgs are the options of a feedback query.
type FeedbackArgs struct {
	Buffer int
	Status string
	Mode   string
}

// BufferChoices returns the buffer option list for a buffer count.
// Buffers beyond count are labelled offline.
func BufferChoices(count int) []Choice {
	out := make([]Choice, 0, MaxBuffers)
	for i := 1; i <= MaxBuffers; i++ {
		label := fmt.Sprintf("Buffer %d", i)
		if i > count {
			label += " (offline)"
		}
		out = append(out, Choice{ID: strconv.Itoa(i), Label: label})
	}
	return out
}

// FrameRate returns the frame rate used to convert frames to seconds:
// the rate of the current video mode, else the numeric frame rate mode,
// else 1.
func FrameRate(st DeviceState) float64 {
	if m, ok := LookupVideoMode(st.Modes.Video); ok {
		return m.FrameRate
	}
	if st.Modes.FrameRateMode > 0 {
		return float64(st.Modes.FrameRateMode)
	}
	return 1
}

// Seconds converts a frame count to seconds at the buffer's speed and
// formats it with two decimals. Speed 10 is real time; speed 0 counts as
// real time. Results that are not finite format as "0.00".
func Seconds(frames int, frameRate float64, speed int) string {
	v := float64(frames) / frameRate
	if speed != 0 {
		v /= math.Abs(float64(speed)) / float64(DefaultSpeed)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Variables projects the device state onto the named display values.
func Variables(st DeviceState, unusedText string) map[string]string {
	vars := make(map[string]string, 16*MaxBuffers)
	rate := FrameRate(st)

	vars["bufferCount"] = strconv.Itoa(st.BufferCount)

	for i := 1; i <= MaxBuffers; i++ {
		n := strconv.Itoa(i)
		if i > st.BufferCount || i > len(st.Buffers) {
			for _, key := range bufferVariableKeys {
				vars[key+n] = unusedText
			}
			continue
		}

		b := st.Buffers[i-1]
		vars["bufferFramesRecorded_"+n] = strconv.Itoa(b.Recorded)
		vars["bufferSecondsRecorded_"+n] = Seconds(b.Recorded, rate, b.Speed)
		vars["bufferFramesAvailable_"+n] = strconv.Itoa(b.Available)
		vars["bufferSecondsAvailable_"+n] = Seconds(b.Available, rate, b.Speed)
		vars["bufferStatus_"+n] = string(b.Status)
		vars["bufferPos_"+n] = strconv.Itoa(b.Pos)
		vars["bufferPosSeconds_"+n] = Seconds(b.Pos, rate, b.Speed)
		vars["bufferSpeed_"+n] = strconv.Itoa(b.Speed)
		vars["bufferMarkIn_"+n] = strconv.Itoa(b.MarkIn)
		vars["bufferMarkInSeconds_"+n] = Seconds(b.MarkIn, rate, b.Speed)
		vars["bufferMarkOut_"+n] = strconv.Itoa(b.MarkOut)
		vars["bufferMarkOutSeconds_"+n] = Seconds(b.MarkOut, rate, b.Speed)
	}

	vars["currentRecordingBuffer"] = strconv.Itoa(st.CurrentRecordingBuffer)
	vars["currentPlaybackBuffer"] = strconv.Itoa(st.CurrentPlaybackBuffer)
	vars["lastPlaybackSpeed"] = SpeedLabel(st.LastSpeed)
	vars["currentRecordingMode"] = choiceLabel(RecordingModes, st.Modes.Recording)
	vars["currentPlaybackMode"] = choiceLabel(PlaybackModes, st.Modes.Playback)
	vars["currentStopMode"] = choiceLabel(StopModes, st.Modes.Stop)

	if m, ok := LookupVideoMode(st.Modes.Video); ok {
		vars["videoMode"] = m.Label
	} else {
		vars["videoMode"] = strconv.Itoa(st.Modes.Video)
	}
	vars["frameRate"] = "Mode " + strconv.Itoa(st.Modes.FrameRateMode)
	vars["currentSensorFPS"] = strconv.Itoa(st.SensorFPS)
	vars["currentDisplayFPS"] = strconv.Itoa(st.DisplayFPS)

	vars["lastCommand"] = st.LastCommand
	vars["lastCommandResponse"] = st.LastResponse
	return vars
}

var bufferVariableKeys = []string{
	"bufferFramesRecorded_",
	"bufferSecondsRecorded_",
	"bufferFramesAvailable_",
	"bufferSecondsAvailable_",
	"bufferStatus_",
	"bufferPos_",
	"bufferPosSeconds_",
	"bufferSpeed_",
	"bufferMarkIn_",
	"bufferMarkInSeconds_",
	"bufferMarkOut_",
	"bufferMarkOutSeconds_",
}

// Feedback evaluates a boolean condition against the device state.
func Feedback(st DeviceState, kind string, args FeedbackArgs) (bool, error) {
	switch kind {
	case FeedbackBufferStatus:
		want, ok := ParseBufferStatus(args.Status)
		if !ok && strings.EqualFold(args.Status, "other") {
			want, ok = StatusOffline, true
		}
		if !ok {
			return false, fmt.Errorf("%w: buffer status %q", ErrInvalidParameter, args.Status)
		}
		if args.Buffer < 1 || args.Buffer > len(st.Buffers) {
			return false, nil
		}
		return st.Buffers[args.Buffer-1].Status == want, nil
	case FeedbackRecordingMode:
		return st.Modes.Recording == args.Mode, nil
	case FeedbackPlaybackMode:
		return st.Modes.Playback == args.Mode, nil
	case FeedbackStopMode:
		return st.Modes.Stop == args.Mode, nil
	default:
		return false, fmt.Errorf("%w: feedback %q", ErrInvalidParameter, kind)
	}
}
