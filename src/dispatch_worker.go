package main

import (
	"context"
	"log"

	"github.com/ryansname/batteryapp/src/dispatch"
	"golang.org/x/sync/errgroup"
)

// dispatchWorker hands each inbound request to its own goroutine and
// publishes the reply. At most maxInFlight requests run at once; beyond
// that the worker stops reading inbound messages until one finishes.
func dispatchWorker(
	ctx context.Context,
	inboundChan <-chan dispatch.Message,
	dispatcher *dispatch.Dispatcher,
	sender *MQTTSender,
	maxInFlight int,
) {
	log.Printf("Dispatch worker started (max in flight: %d)\n", maxInFlight)

	var group errgroup.Group
	group.SetLimit(maxInFlight)

	for {
		select {
		case msg := <-inboundChan:
			group.Go(func() error {
				reply, ok := dispatcher.Handle(ctx, msg)
				if ok && !sender.Respond(ctx, reply) {
					log.Printf("Dispatch worker: shutting down, reply to %s not sent\n", msg.Topic)
				}
				return nil
			})

		case <-ctx.Done():
			_ = group.Wait()
			log.Println("Dispatch worker stopped")
			return
		}
	}
}
