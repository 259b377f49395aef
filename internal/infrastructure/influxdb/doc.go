// Package influxdb provides InfluxDB connectivity for the DCT bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched telemetry writes and health monitoring.
//
// # Purpose
//
// Each poll cycle the bridge samples every recorder buffer (recorded and
// available frames, transport status, position, speed, marks). Those
// samples land in the "dct_buffer" measurement so buffer fill and
// transport activity can be graphed over a show.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteBufferSample(influxdb.BufferSample{
//	    BridgeID: "dct-01", Buffer: 1, Status: "Record", Recorded: 1500, FrameRate: 60,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// callback registered with SetOnError. Connection and health check errors
// are returned directly.
package influxdb
