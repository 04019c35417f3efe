package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			// Check if we've exhausted retries
			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			// Wait before retry with exponential backoff
			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				// Double delay for next time, cap at max
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// shutdownTimeout bounds how long shutdown waits for in-flight requests
const shutdownTimeout = 10 * time.Second

func main() {
	log.Println("Starting batteryapp...")

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	batteryConfig, err := loadBatteryConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid signal configuration: %v", err)
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, batteryConfig.Catalog)
	if err != nil {
		cancel()
		log.Fatalf("Failed to open signal store: %v", err)
	}
	signals := databroker.NewAccessor(store)

	registry := newMetricsRegistry()
	dispatcher := dispatch.NewDispatcher(batteryConfig.Routes, signals, NewPromObserver(registry))
	topics := dispatcher.Topics()
	log.Printf("Serving %d request topics under %s\n", len(topics), cfg.TopicPrefix)

	// Create channels for communication between workers
	msgChan := make(chan dispatch.Message, 10)
	mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
	mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

	// Launch MQTT sender worker (receives client updates via channel)
	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan, defaultPublishTimeout)
	})

	mqttSender := NewMQTTSender(mqttOutgoingChan)

	// Closed once the dispatch worker has drained its in-flight requests
	dispatchStopped := make(chan struct{})
	var stopOnce sync.Once
	SafeGo(ctx, cancel, "dispatch-worker", func(ctx context.Context) {
		dispatchWorker(ctx, msgChan, dispatcher, mqttSender, cfg.MaxInFlight)
		stopOnce.Do(func() { close(dispatchStopped) })
	})

	if cfg.MetricsAddr != "" {
		SafeGo(ctx, cancel, "metrics-server", func(ctx context.Context) {
			metricsServer(ctx, cfg.MetricsAddr, registry)
		})
	}

	if cfg.Debug {
		console := NewConsoleState(dispatcher, signals, cfg.TopicPrefix)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, console)
		})
	}

	// Launch MQTT worker
	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg, topics, msgChan, mqttClientChan)
	})
	log.Println("MQTT worker started")

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()

	// In-flight requests still use the store
	select {
	case <-dispatchStopped:
	case <-time.After(shutdownTimeout):
		log.Printf("Dispatch worker still busy after %v, closing store anyway\n", shutdownTimeout)
	}
	closeStore()
}
