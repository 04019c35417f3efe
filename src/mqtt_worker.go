package main

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// requestQoS is the subscription QoS for inbound request topics
const requestQoS = 1

// requestHandler forwards inbound requests to msgChan. Paho runs it on its
// own goroutine per message (order does not matter), so blocking here only
// holds back this message, never the client's ack processing.
func requestHandler(ctx context.Context, msgChan chan<- dispatch.Message) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		request := dispatch.Message{
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		}
		select {
		case msgChan <- request:
		case <-ctx.Done():
		}
	}
}

func newMQTTClientOptions(
	ctx context.Context,
	cfg Config,
	topics []string,
	msgChan chan<- dispatch.Message,
	clientChan chan<- mqtt.Client,
) *mqtt.ClientOptions {
	broker := mqttBrokerURL(cfg.MQTTBroker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	// Requests are independent; an in-order handler would stall paho's
	// incoming loop, and with it the PUBACKs our replies wait on
	opts.SetOrderMatters(false)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	handler := requestHandler(ctx, msgChan)

	// Runs on every (re)connect, so subscriptions are restored
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", broker)

		select {
		case clientChan <- client:
			log.Println("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}

		for _, topic := range topics {
			token := client.Subscribe(topic, requestQoS, handler)
			if token.Wait() && token.Error() != nil {
				log.Printf("Failed to subscribe to topic %s: %v\n", topic, token.Error())
			} else {
				log.Printf("Subscribed to topic: %s\n", topic)
			}
		}
	})

	return opts
}

// mqttWorker manages the MQTT connection, subscribes to every request topic
// and forwards inbound requests to a channel
func mqttWorker(
	ctx context.Context,
	cfg Config,
	topics []string,
	msgChan chan<- dispatch.Message,
	clientChan chan<- mqtt.Client,
) {
	broker := mqttBrokerURL(cfg.MQTTBroker)
	client := mqtt.NewClient(newMQTTClientOptions(ctx, cfg, topics, msgChan, clientChan))

	log.Printf("Connecting to MQTT broker at %s...\n", broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}
