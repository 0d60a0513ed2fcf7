package export

import (
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// writeQueueLen is the per-subscriber backlog; a pub socket drops
// messages for subscribers whose queue is full instead of blocking.
const writeQueueLen = 1024

type mangosSocket struct {
	sock mangos.Socket
}

func listenMangos(addr string) (Socket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionWriteQLen, writeQueueLen); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &mangosSocket{sock: sock}, nil
}

func (s *mangosSocket) Send(data []byte) error {
	return s.sock.Send(data)
}

func (s *mangosSocket) Close() error {
	return s.sock.Close()
}
