package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectNATS opens the connection used to mirror webhook activity.
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	log := logger.Named("nats")
	nc, err := nats.Connect(url,
		nats.Name("warmer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	log.Info("connected to nats", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
