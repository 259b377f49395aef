package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// bufferMeasurement is the measurement name for per-buffer samples.
const bufferMeasurement = "dct_buffer"

// BufferSample is one observation of a recorder buffer.
type BufferSample struct {
	BridgeID  string
	Buffer    int
	Status    string
	Recorded  int
	Available int
	Pos       int
	Speed     int
	MarkIn    int
	MarkOut   int

	// FrameRate converts frame counts to seconds. Zero or negative omits
	// the seconds fields.
	FrameRate float64

	// Time defaults to now.
	Time time.Time
}

// WriteBufferSample queues a buffer sample for the next batch.
//
// Tags are the bridge, buffer index and status, so dashboards can group
// by buffer and colour by state. The write is non-blocking.
//
// Example:
//
//	client.WriteBufferSample(influxdb.BufferSample{
//	    BridgeID: "dct-01", Buffer: 1, Status: "Record", Recorded: 1500, FrameRate: 60,
//	})
func (c *Client) WriteBufferSample(s BufferSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(bufferPoint(s))
}

// bufferPoint converts a sample into a line protocol point.
func bufferPoint(s BufferSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"recorded_frames":  s.Recorded,
		"available_frames": s.Available,
		"position":         s.Pos,
		"speed":            s.Speed,
		"mark_in":          s.MarkIn,
		"mark_out":         s.MarkOut,
	}
	if s.FrameRate > 0 {
		fields["recorded_seconds"] = float64(s.Recorded) / s.FrameRate
		fields["available_seconds"] = float64(s.Available) / s.FrameRate
	}

	return write.NewPoint(
		bufferMeasurement,
		map[string]string{
			"bridge_id": s.BridgeID,
			"buffer":    strconv.Itoa(s.Buffer),
			"status":    s.Status,
		},
		fields,
		ts,
	)
}
