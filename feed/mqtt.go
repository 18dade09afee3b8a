// Package feed republishes the public spot shape to an MQTT broker so other
// consumers can follow the live feed without a WebSocket.
package feed

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"holycluster/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const connectTimeout = 10 * time.Second

type Feed struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

func New(cfg config.MQTTConfig, log zerolog.Logger) *Feed {
	l := log.With().Str("component", "mqtt").Logger()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		l.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.Warn().Err(err).Msg("mqtt connection lost")
	}
	return &Feed{
		client: mqtt.NewClient(opts),
		topic:  cfg.Topic,
		log:    l,
	}
}

func (f *Feed) Connect() error {
	token := f.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt: connect timeout")
	}
	return token.Error()
}

// PublishSpot sends one cleaned spot to <topic>/<band>, fire and forget.
func (f *Feed) PublishSpot(m map[string]any) {
	payload, err := json.Marshal(m)
	if err != nil {
		f.log.Error().Err(err).Msg("mqtt marshal")
		return
	}
	topic := fmt.Sprintf("%s/%v", f.topic, m["band"])
	f.client.Publish(topic, 0, false, payload)
}

func (f *Feed) Close() {
	f.client.Disconnect(250)
}
