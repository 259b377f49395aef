// Package dct implements the DCT recorder bridge for Gray Logic.
//
// A DCT is a digital camera/recorder with up to four recording buffers,
// controlled through a line-oriented text protocol carried over a
// WebSocket (ws://host:9923). This package keeps a session with one device,
// serialises commands through a queue, parses replies into a device state
// model and exposes buffer operations (record, play, free, marks, ramps).
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   DCT Bridge    │  WebSocket
//	│   Core / API    │◄────────►│   (this pkg)    │◄──────────► DCT
//	└─────────────────┘          └─────────────────┘
//
// # Command Flow
//
// The device answers commands in order without correlation ids, so at most
// one command is outstanding. Commands are queued (duplicates of pending
// commands are dropped) and sent when the previous reply arrives, or by a
// short fallback drain. A command that never gets a reply is released
// after a timeout.
//
// Operations check the cached state before issuing anything; a refused
// operation returns an error wrapping ErrRefused and sends nothing.
//
// # Polling
//
// While connected the session polls "status 0" on an interval, adding
// "pos" and "mark_pos" while a buffer is playing.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package dct
