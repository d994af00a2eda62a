package ingest

import (
	"context"
	"sync"
	"time"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const SourceMQTT = "mqtt"

// StartMQTT subscribes to the configured topic. The subscription is
// renewed on every (re)connect.
func StartMQTT(ctx context.Context, p *Pipeline) error {
	current := p.cfg.Get().Ingest.MQTT
	if !current.Enabled {
		p.logger.Info("mqtt ingest disabled")
		return nil
	}
	clientID := current.ClientID
	if clientID == "" {
		clientID = "equipguard"
	}
	clientID += "-" + uuid.NewString()[:8]
	handler := mqttHandler(ctx, p)

	opts := pmqtt.NewClientOptions().
		AddBroker(current.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetConnectionLostHandler(func(_ pmqtt.Client, err error) {
			p.logger.Warn("mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(c pmqtt.Client) {
			p.logger.Info("mqtt connected", "broker", current.Broker, "topic", current.Topic)
			if token := c.Subscribe(current.Topic, current.QoS, handler); token.Wait() && token.Error() != nil {
				p.logger.Error("mqtt subscribe failed", "topic", current.Topic, "err", token.Error())
			}
		})
	if current.Username != "" {
		opts.SetUsername(current.Username).SetPassword(current.Password)
	}

	client := pmqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}()
	// With connect retry enabled the token only completes on success, so
	// do not block startup on an unreachable broker.
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return token.Error()
	}
	p.logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic, "client_id", clientID)
	return nil
}

func mqttHandler(ctx context.Context, p *Pipeline) pmqtt.MessageHandler {
	var mu sync.Mutex
	parser := NewParser()
	return func(_ pmqtt.Client, msg pmqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		p.Handle(ctx, parser, string(msg.Payload()), SourceMQTT)
	}
}
