// Package publish pushes fix snapshots to external consumers.
package publish

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsmon/internal/gps"
)

// MQTTPublisher periodically publishes valid fix snapshots as retained JSON
// messages.
type MQTTPublisher struct {
	client   mqtt.Client
	topic    string
	interval time.Duration
	store    *gps.Store
}

func NewMQTT(broker, clientID, topic string, interval time.Duration, store *gps.Store) *MQTTPublisher {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)

	return &MQTTPublisher{
		client:   mqtt.NewClient(opts),
		topic:    topic,
		interval: interval,
		store:    store,
	}
}

// Connect establishes the broker session.
func (p *MQTTPublisher) Connect() error {
	token := p.client.Connect()
	token.Wait()
	return token.Error()
}

// Run publishes on a fixed interval until ctx is cancelled. Snapshots
// without a valid position are skipped.
func (p *MQTTPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload, ok := fixPayload(p.store.Snapshot())
		if !ok {
			continue
		}
		token := p.client.Publish(p.topic, 0, true, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish: mqtt publish failed: %v", err)
		}
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// fixPayload marshals a snapshot for publication; snapshots without a valid
// position yield ok=false.
func fixPayload(fix gps.Fix) ([]byte, bool) {
	if !fix.HasFix() {
		return nil, false
	}
	b, err := json.Marshal(fix)
	if err != nil {
		return nil, false
	}
	return b, true
}
