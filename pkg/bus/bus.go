// Package bus is a thin topic-based pub/sub layer over ZeroMQ.
// Messages travel as two-part envelopes: [topic, CBOR payload].
//
// Dispatch is single-threaded and cooperative: Run() delivers one
// callback at a time, in arrival order, and the next message is not
// read until the current callback returns. Queue depth is enforced
// with the socket high-water mark.
package bus

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
)

// Handler consumes the raw CBOR payload of one message.
// A non-nil error is fatal: Run() stops and returns it to the host.
type Handler func(payload []byte) error

type Bus struct {
	Log logs.Log

	pub      *zmq4.Socket
	sub      *zmq4.Socket
	handlers map[string]Handler
	mustStop atomic.Bool
}

// New connects the node to the bus. subEndpoint is where input topics
// are received from, pubEndpoint is where this node's outputs are bound.
// depth is the per-socket queue depth (high-water mark).
func New(logger logs.Log, pubEndpoint, subEndpoint string, depth int) (*Bus, error) {
	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := pub.SetSndhwm(depth); err != nil {
		pub.Close()
		return nil, err
	}
	if err := pub.SetLinger(0); err != nil {
		pub.Close()
		return nil, err
	}
	if err := pub.Bind(pubEndpoint); err != nil {
		pub.Close()
		return nil, fmt.Errorf("bus: bind %v: %w", pubEndpoint, err)
	}

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		pub.Close()
		return nil, err
	}
	if err := sub.SetRcvhwm(depth); err != nil {
		pub.Close()
		sub.Close()
		return nil, err
	}
	if err := sub.Connect(subEndpoint); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("bus: connect %v: %w", subEndpoint, err)
	}

	return &Bus{
		Log:      logger,
		pub:      pub,
		sub:      sub,
		handlers: map[string]Handler{},
	}, nil
}

// Subscribe registers a handler for a topic. Must be called before Run().
func (b *Bus) Subscribe(topic string, handler Handler) error {
	if err := b.sub.SetSubscribe(topic); err != nil {
		return err
	}
	b.handlers[topic] = handler
	return nil
}

// Publish encodes msg as CBOR and sends it on topic. Fire-and-forget:
// if no peer is connected, or the high-water mark is reached, the
// message is dropped by the socket.
func (b *Bus) Publish(topic string, msg any) error {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode %v: %w", topic, err)
	}
	_, err = b.pub.SendMessage(topic, payload)
	return err
}

// Run dispatches messages until Stop() is called, or until a handler
// returns an error (which is returned to the caller).
func (b *Bus) Run() error {
	poller := zmq4.NewPoller()
	poller.Add(b.sub, zmq4.POLLIN)

	for !b.mustStop.Load() {
		polled, err := poller.Poll(100 * time.Millisecond)
		if err != nil {
			// Interrupted system calls happen under signal delivery
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EINTR) {
				continue
			}
			return err
		}
		if len(polled) == 0 {
			continue
		}
		parts, err := b.sub.RecvMessageBytes(0)
		if err != nil {
			b.Log.Warnf("Bus receive error: %v", err)
			continue
		}
		if len(parts) != 2 {
			b.Log.Warnf("Bus message with %v parts ignored", len(parts))
			continue
		}
		handler, ok := b.handlers[string(parts[0])]
		if !ok {
			continue
		}
		if err := handler(parts[1]); err != nil {
			return err
		}
	}
	return nil
}

// Stop requests that Run() return. Safe to call from a handler or
// from another goroutine.
func (b *Bus) Stop() {
	b.mustStop.Store(true)
}

func (b *Bus) Close() {
	b.Stop()
	b.pub.Close()
	b.sub.Close()
}

// Unmarshal decodes a CBOR payload into out.
func Unmarshal(payload []byte, out any) error {
	return cbor.Unmarshal(payload, out)
}
