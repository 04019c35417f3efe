package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// ConsoleState is what the debug console operates on
type ConsoleState struct {
	dispatcher *dispatch.Dispatcher
	signals    *databroker.Accessor
	prefix     string
	rl         *readline.Instance
	out        io.Writer
}

// NewConsoleState creates console state writing to stdout
func NewConsoleState(d *dispatch.Dispatcher, signals *databroker.Accessor, prefix string) *ConsoleState {
	return &ConsoleState{
		dispatcher: d,
		signals:    signals,
		prefix:     prefix,
		out:        os.Stdout,
	}
}

// SetReadline sets the readline instance for proper output handling
func (s *ConsoleState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *ConsoleState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		_, _ = fmt.Fprintln(s.out, line)
		s.rl.Refresh()
	} else {
		_, _ = fmt.Fprintln(s.out, line)
	}
}

// resolveTopic accepts topics with or without the app prefix
func (s *ConsoleState) resolveTopic(topic string) string {
	if _, ok := s.dispatcher.Routes().Lookup(topic); ok || s.prefix == "" {
		return topic
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + strings.TrimPrefix(topic, "/")
}

// ListRoutes prints the request table
func (s *ConsoleState) ListRoutes() {
	routes := s.dispatcher.Routes().Routes()
	s.print("Routes (%d):", len(routes))
	for _, r := range routes {
		target := string(r.Path)
		if r.Guard != "" {
			target += " unless " + string(r.Guard)
		}
		s.print("  [%s %s] %s -> %s", r.Access, r.Kind, r.Topic, target)
	}
}

// GetSignal prints a signal, or one element of it
func (s *ConsoleState) GetSignal(ctx context.Context, args []string) {
	if len(args) == 0 || len(args) > 2 {
		s.print("Usage: get <path> [index]")
		return
	}
	path := databroker.Path(args[0])

	if len(args) == 2 {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			s.print("Error: index must be an integer")
			return
		}
		value, err := s.signals.ReadAt(ctx, path, index)
		if err != nil {
			s.print("Error: %v", err)
			return
		}
		s.print("%s[%d] = %s", path, index, value)
		return
	}

	value, err := s.signals.Read(ctx, path)
	if err != nil {
		s.print("Error: %v", err)
		return
	}
	s.print("%s = %s", path, value)
}

// SetSignal writes straight to the store, bypassing any guard. It stands
// in for another process changing the signal.
func (s *ConsoleState) SetSignal(ctx context.Context, args []string) {
	if len(args) < 2 {
		s.print("Usage: set <path> <json>")
		return
	}
	path := databroker.Path(args[0])

	var raw any
	if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &raw); err != nil {
		s.print("Error: invalid JSON: %v", err)
		return
	}
	value, err := databroker.ParseValue(raw)
	if err != nil {
		s.print("Error: %v", err)
		return
	}
	if err := s.signals.Write(ctx, path, value); err != nil {
		s.print("Error: %v", err)
		return
	}
	s.print("%s = %s", path, value)
}

// SendRequest runs a request through the dispatcher and prints the reply
func (s *ConsoleState) SendRequest(ctx context.Context, args []string) {
	if len(args) == 0 {
		s.print("Usage: send <topic> [json]")
		return
	}
	topic := s.resolveTopic(args[0])
	payload := []byte(strings.Join(args[1:], " "))

	if route, ok := s.dispatcher.Routes().Lookup(topic); ok && route.IsCommand() {
		payload = withRequestID(payload)
	}

	reply, ok := s.dispatcher.Handle(ctx, dispatch.Message{Topic: topic, Payload: payload})
	if !ok {
		s.print("No route for %s", topic)
		return
	}
	s.print("%s %s", reply.Topic, reply.Payload())
}

// withRequestID adds a random requestId to a JSON object payload that
// lacks one. Anything else is returned unchanged for the dispatcher to
// reject.
func withRequestID(payload []byte) []byte {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}
	if _, ok := fields["requestId"]; ok {
		return payload
	}
	fields["requestId"] = uuid.NewString()
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}

// handleConsoleCommand processes a console command
func handleConsoleCommand(ctx context.Context, cmd string, state *ConsoleState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "routes":
		state.ListRoutes()

	case "get":
		state.GetSignal(ctx, parts[1:])

	case "set":
		state.SetSignal(ctx, parts[1:])

	case "send":
		state.SendRequest(ctx, parts[1:])

	case "help":
		state.print("Commands:")
		state.print("  routes                  - List request topics and their signals")
		state.print("  get <path> [index]      - Read a signal, or one cell of it")
		state.print("  set <path> <json>       - Write a signal directly, ignoring guards")
		state.print("  send <topic> [json]     - Dispatch a request and print the response")
		state.print("  help                    - Show this help")

	default:
		state.print("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for the console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	appCache := filepath.Join(cacheDir, "batteryapp")
	_ = os.MkdirAll(appCache, 0750)
	return filepath.Join(appCache, "debug_history")
}

// debugWorker provides an interactive console over the signal store and
// dispatcher
func debugWorker(ctx context.Context, cancel context.CancelFunc, state *ConsoleState) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
		log.SetOutput(os.Stderr)
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleConsoleCommand(ctx, cmd, state)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
