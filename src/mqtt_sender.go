package main

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// responseQoS is used for every reply; replies are never retained
const responseQoS = 1

// defaultPublishTimeout bounds the wait for a broker ack on one publish
const defaultPublishTimeout = 10 * time.Second

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send queues a raw MQTTMessage. It gives up when ctx is done.
func (s *MQTTSender) Send(ctx context.Context, msg MQTTMessage) bool {
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Respond queues a dispatcher reply on its reply topic
func (s *MQTTSender) Respond(ctx context.Context, reply dispatch.Reply) bool {
	return s.Send(ctx, MQTTMessage{
		Topic:   reply.Topic,
		Payload: reply.Payload(),
		QoS:     responseQoS,
		Retain:  false,
	})
}

func publish(client mqtt.Client, msg MQTTMessage, timeout time.Duration) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if !token.WaitTimeout(timeout) {
		log.Printf("Timed out after %v publishing to %s\n", timeout, msg.Topic)
		return
	}
	if token.Error() != nil {
		log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
	}
}

// mqttSenderWorker publishes outgoing messages, queuing them while no
// connected client is available. A publish not acked within publishTimeout
// is logged and abandoned so one lost ack cannot stall every later reply.
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
	publishTimeout time.Duration,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Flush anything queued while disconnected
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(client, msg, publishTimeout)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(client, msg, publishTimeout)
			} else {
				messageQueue = append(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			if len(messageQueue) > 0 {
				log.Printf("MQTT sender worker dropping %d queued messages\n", len(messageQueue))
			}
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}
