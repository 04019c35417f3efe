// Package dispatch turns inbound topic messages into signal reads and
// guarded writes and always answers on the route's reply topic.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ryansname/batteryapp/src/databroker"
)

// Observer receives one event per inbound message
type Observer interface {
	RequestHandled(topic string, class Class, elapsed time.Duration)
	RequestDropped(topic string, reason string)
}

type nopObserver struct{}

func (nopObserver) RequestHandled(string, Class, time.Duration) {}
func (nopObserver) RequestDropped(string, string)               {}

// Reply is a response ready to publish
type Reply struct {
	Topic    string
	Response Response
	Class    Class
}

// Payload returns the encoded response
func (r Reply) Payload() []byte {
	return r.Response.Encode()
}

// Dispatcher routes messages to the signal accessor. It holds no mutable
// state, so Handle is safe to call from many goroutines.
type Dispatcher struct {
	routes   *RouteTable
	signals  Signals
	observer Observer
}

// NewDispatcher creates a dispatcher; observer may be nil
func NewDispatcher(routes *RouteTable, signals Signals, observer Observer) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{routes: routes, signals: signals, observer: observer}
}

// Topics lists the inbound topics to subscribe to
func (d *Dispatcher) Topics() []string {
	return d.routes.Topics()
}

// Routes exposes the route table
func (d *Dispatcher) Routes() *RouteTable {
	return d.routes
}

// Handle processes one message. It returns false only when no route, and
// so no reply topic, exists for the message topic.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (Reply, bool) {
	start := time.Now()

	route, ok := d.routes.Lookup(msg.Topic)
	if !ok {
		log.Printf("Dispatcher: no route for %s, dropping message\n", msg.Topic)
		d.observer.RequestDropped(msg.Topic, "unknown_topic")
		return Reply{}, false
	}

	resp, class := d.serve(ctx, route, msg.Payload)
	if class != ClassNone {
		log.Printf("Dispatcher: %s failed (%s): %s\n", route.Topic, class, resp.Result.Message)
	}
	d.observer.RequestHandled(route.Topic, class, time.Since(start))

	return Reply{Topic: route.ReplyTopic(), Response: resp, Class: class}, true
}

// serve never panics; a handler panic becomes a ClassInternal failure
func (d *Dispatcher) serve(ctx context.Context, route Route, payload []byte) (resp Response, class Class) {
	var req Request
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r}
			log.Printf("Dispatcher: recovered in %s: %v\n", route.Topic, err)
			resp, class = d.respond(route, req, "", err), ClassInternal
		}
	}()

	req, err := decodeRequest(route, payload)
	if err != nil {
		if route.IsCommand() && req.RequestID == nil {
			req.RequestID = peekRequestID(payload)
		}
		return d.respond(route, req, "", err), ClassDecode
	}

	var message string
	switch route.Access {
	case AccessGet:
		message, err = d.get(ctx, route, req)
	case AccessGuardedSet:
		message, err = d.guardedSet(ctx, route, req)
	default:
		err = fmt.Errorf("unsupported access %q", route.Access)
	}
	return d.respond(route, req, message, err), Classify(err)
}

func (d *Dispatcher) get(ctx context.Context, route Route, req Request) (string, error) {
	if route.Kind == KindIndexed {
		cell := *req.CellPosition
		value, err := d.signals.ReadAt(ctx, route.Path, cell)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(route.Format, cell, value), nil
	}

	value, err := d.signals.Read(ctx, route.Path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(route.Format, value), nil
}

func (d *Dispatcher) guardedSet(ctx context.Context, route Route, req Request) (string, error) {
	state := *req.State
	if err := GuardedSet(ctx, d.signals, route.Path, route.Guard, state); err != nil {
		return "", err
	}
	return fmt.Sprintf("Set %s state to: %t", route.Noun, state), nil
}

// respond encodes the outcome. Failure messages are chosen by class so no
// unclassified error text reaches the caller.
func (d *Dispatcher) respond(route Route, req Request, message string, err error) Response {
	var resp Response
	if err == nil {
		resp = Success(message)
	} else {
		resp = Failure(failureMessage(route, req, err))
	}
	if route.IsCommand() {
		resp = resp.WithRequestID(req.RequestID)
	}
	return resp
}

func failureMessage(route Route, req Request, err error) string {
	switch Classify(err) {
	case ClassDecode:
		return "Invalid request: " + err.Error()
	case ClassIndex:
		var ie *databroker.IndexError
		if errors.As(err, &ie) {
			return fmt.Sprintf("Cell %d out of range (%d cells)", ie.Index, ie.Length)
		}
	case ClassPolicy:
		var pe *PolicyError
		if errors.As(err, &pe) {
			return fmt.Sprintf("Not allowed to change %s state because %s state is %s and not false",
				route.Noun, route.GuardNoun, pe.GuardValue)
		}
	case ClassValidation:
		var ve *databroker.ValidationError
		if route.IsCommand() && req.State != nil && errors.As(err, &ve) {
			return fmt.Sprintf("Failed to set %s state to %t, error: %s", route.Noun, *req.State, ve.Error())
		}
	}

	if route.IsCommand() {
		return fmt.Sprintf("Exception on set %s state", route.Noun)
	}
	return "Failed to read " + route.Label
}
