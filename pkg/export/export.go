// Package export publishes topology snapshots and link utilisation samples
// to external consumers over a pub socket.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-sdn/pkg/controller"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/pubsub"
)

// Transport names accepted by Listen.
const (
	Mangos = "mangos"
	ZMQ    = "zmq"
)

// ErrTransportUnavailable is returned for transports not compiled in.
var ErrTransportUnavailable = errors.New("export transport not available")

// Socket is the publishing end of a message transport.
type Socket interface {
	Send([]byte) error
	Close() error
}

// Listen opens a pub socket of the named transport bound to addr.
func Listen(transport, addr string) (Socket, error) {
	switch transport {
	case "", Mangos:
		return listenMangos(addr)
	case ZMQ:
		return listenZMQ(addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransportUnavailable, transport)
	}
}

// Frame layout: topic, one space, payload. Subscribers filter on the topic
// prefix. With compression on, the payload is snappy block encoded.
const separator = ' '

// Encode builds the frame for one bus message.
func Encode(topic string, msg any, compress bool) ([]byte, error) {
	var payload []byte
	switch m := msg.(type) {
	case controller.Changed:
		payload = m.Document
	case []byte:
		payload = m
	default:
		var err error
		if payload, err = json.Marshal(m); err != nil {
			return nil, err
		}
	}
	if compress {
		payload = snappy.Encode(nil, payload)
	}
	frame := make([]byte, 0, len(topic)+1+len(payload))
	frame = append(frame, topic...)
	frame = append(frame, separator)
	return append(frame, payload...), nil
}

// Decode splits a frame into topic and payload.
func Decode(frame []byte, compressed bool) (string, []byte, error) {
	for i, b := range frame {
		if b != separator {
			continue
		}
		payload := frame[i+1:]
		if compressed {
			var err error
			if payload, err = snappy.Decode(nil, payload); err != nil {
				return "", nil, err
			}
		}
		return string(frame[:i]), payload, nil
	}
	return "", nil, errors.New("frame without topic")
}

// Exporter forwards bus messages to a Socket.
type Exporter struct {
	sock     Socket
	bus      *pubsub.PubSub
	metrics  *metrics.Registry
	logger   logging.Logger
	compress bool
	topics   []string
}

func New(sock Socket, bus *pubsub.PubSub, reg *metrics.Registry, logger logging.Logger, compress bool) *Exporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Exporter{
		sock:     sock,
		bus:      bus,
		metrics:  reg,
		logger:   logger.With(logging.Component("export")),
		compress: compress,
		topics:   []string{pubsub.TopicTopologyChanged, pubsub.TopicLinkUtilization},
	}
}

// Run forwards messages until ctx ends. It closes the
// socket on return.
func (e *Exporter) Run(ctx context.Context) error {
	defer e.sock.Close()

	subs := make([]*pubsub.Subscription, 0, len(e.topics))
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()
	for _, topic := range e.topics {
		s, err := e.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		subs = append(subs, s)
	}

	merged := make(chan message)
	for _, s := range subs {
		go forward(ctx, s, merged)
	}

	e.logger.Info("exporter started", logging.Bool("compress", e.compress))
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			e.send(m.topic, m.body)
		}
	}
}

type message struct {
	topic string
	body  any
}

func forward(ctx context.Context, s *pubsub.Subscription, out chan<- message) {
	for {
		select {
		case <-ctx.Done():
			return
		case body, ok := <-s.Channel():
			if !ok {
				return
			}
			select {
			case out <- message{topic: s.Topic(), body: body}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Exporter) send(topic string, body any) {
	frame, err := Encode(topic, body, e.compress)
	if err == nil {
		err = e.sock.Send(frame)
	}
	e.metrics.RecordExport(topic, len(frame), err)
	if err != nil {
		e.logger.Warn("export failed", logging.String("topic", topic), logging.Error(err))
	}
}
