package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/config"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/mqttbridge"
)

// MQTTService wraps the broker bridge.
type MQTTService struct {
	cfg    *config.Config
	Bridge *mqttbridge.Bridge // nil when disabled
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config, ctl mqttbridge.Controller, bus *eventbus.Bus) *MQTTService {
	s := &MQTTService{cfg: cfg}
	if cfg.MQTT.Enabled {
		s.Bridge = mqttbridge.New(mqttbridge.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, ctl, bus)
	}
	return s
}

// Start runs the bridge if enabled. Broker failures are logged; the daemon
// keeps running without MQTT.
func (s *MQTTService) Start(g *group) {
	if s.Bridge == nil {
		log.Debug().Msg("MQTT bridge disabled")
		return
	}

	g.Go(func(ctx context.Context) {
		if err := s.Bridge.Run(ctx); err != nil {
			log.Error().Err(err).Str("broker", s.cfg.MQTT.Broker).Msg("MQTT bridge error")
		}
	})
}
