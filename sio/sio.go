// Package sio couples external transports to a kernel.  A coupling
// pumps raw payloads into a channel; the daemon loop owns the heap,
// so parsing and reduction happen there, never in a coupling
// goroutine.
package sio

import "context"

// Input is one external payload on its way to the kernel.
type Input struct {
	// Source names the coupling that heard the payload.
	Source string

	// Body is the raw payload.  The daemon loop parses it.
	Body []byte

	// Reply, when non-nil, sends a response back the way the
	// payload came.  Safe to call from the daemon loop.
	Reply func(bs []byte) error
}

// Couplings is a transport feeding the daemon loop.
//
// Start launches the coupling's pumps; they deliver to in until the
// context is done or the transport closes.  A coupling never closes
// in (several couplings may share it).
type Couplings interface {
	Start(ctx context.Context, in chan<- Input) error
	Stop(ctx context.Context) error
}
