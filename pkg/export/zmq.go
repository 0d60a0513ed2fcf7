//go:build zmq

package export

import (
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// zmqSocket serialises access; zmq sockets are not goroutine safe.
type zmqSocket struct {
	mu   sync.Mutex
	sock *zmq.Socket
}

func listenZMQ(addr string) (Socket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.SetSndhwm(1000); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (s *zmqSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sock.SendBytes(data, zmq.DONTWAIT)
	return err
}

func (s *zmqSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Close()
}
