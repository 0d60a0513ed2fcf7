//go:build !zmq

package export

import "fmt"

func listenZMQ(string) (Socket, error) {
	return nil, fmt.Errorf("%w: zmq (build with -tags zmq)", ErrTransportUnavailable)
}
