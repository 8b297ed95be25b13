package workio

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// zmqPollInterval bounds how long Listen waits before checking ctx
const zmqPollInterval = 500 * time.Millisecond

// ZMQNotifier subscribes to a node's hashblock publisher and forces a
// work refresh on every new block, for solo pools without long polling.
type ZMQNotifier struct {
	socket    *zmq.Socket
	endpoint  string
	cache     *work.Cache
	restarter *work.Restarter
	logger    *log.Logger
}

// NewZMQNotifier creates a SUB socket for endpoint
func NewZMQNotifier(endpoint string, cache *work.Cache, restarter *work.Restarter, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:    socket,
		endpoint:  endpoint,
		cache:     cache,
		restarter: restarter,
		logger:    logger.WithComponent("zmq"),
	}, nil
}

// Connect connects and subscribes to hashblock
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	if err := z.socket.SetSubscribe("hashblock"); err != nil {
		return fmt.Errorf("failed to subscribe to hashblock: %w", err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen handles messages until ctx ends
func (z *ZMQNotifier) Listen(ctx context.Context) error {
	poller := zmq.NewPoller()
	poller.Add(z.socket, zmq.POLLIN)

	for {
		if err := ctx.Err(); err != nil {
			z.logger.Debug("ZMQ listener stopping")
			return nil
		}

		polled, err := poller.Poll(zmqPollInterval)
		if err != nil {
			z.logger.WithError(err).Error("ZMQ poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			z.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}
		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}
		if err := z.HandleMessage(string(msg[0]), msg[1]); err != nil {
			z.logger.WithError(err).Warn("failed to handle ZMQ message", "topic", string(msg[0]))
		}
	}
}

// HandleMessage reacts to one notification
func (z *ZMQNotifier) HandleMessage(topic string, data []byte) error {
	switch topic {
	case "hashblock":
		if len(data) != 32 {
			return fmt.Errorf("invalid block hash length: %d", len(data))
		}
		z.logger.Info("new block notification", "hash", reverseHex(data))
		z.cache.Invalidate()
		z.restarter.Broadcast()
	default:
		z.logger.Debug("ignoring ZMQ topic", "topic", topic)
	}
	return nil
}

// Close closes the socket
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// reverseHex prints a hash in display byte order
func reverseHex(data []byte) string {
	reversed := make([]byte, len(data))
	for i := range data {
		reversed[i] = data[len(data)-1-i]
	}
	return fmt.Sprintf("%x", reversed)
}
