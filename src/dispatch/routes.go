package dispatch

import (
	"fmt"
	"strings"

	"github.com/ryansname/batteryapp/src/databroker"
	"gopkg.in/yaml.v3"
)

// DefaultPrefix is the topic domain of the battery app
const DefaultPrefix = "batteryapp"

// Kind says whether a route's signal is a scalar or an indexed sequence
type Kind string

const (
	KindScalar  Kind = "scalar"
	KindIndexed Kind = "indexed"
)

// Access says what a route does with its signal
type Access string

const (
	AccessGet        Access = "get"
	AccessGuardedSet Access = "guardedSet"
)

// Route binds one inbound topic to a signal operation.
//
// Getters answer with Format: one %s verb (the value) for scalars, a %d
// (the cell position) followed by %s for indexed signals. Guarded setters
// word their responses with Noun and GuardNoun ("charging", "discharging").
type Route struct {
	Topic     string          `yaml:"topic"`
	Path      databroker.Path `yaml:"path"`
	Kind      Kind            `yaml:"kind"`
	Access    Access          `yaml:"access"`
	Guard     databroker.Path `yaml:"guard,omitempty"`
	Label     string          `yaml:"label,omitempty"`
	Format    string          `yaml:"format,omitempty"`
	Noun      string          `yaml:"noun,omitempty"`
	GuardNoun string          `yaml:"guardNoun,omitempty"`
}

// ReplyTopic derives the response topic for an inbound topic
func ReplyTopic(topic string) string {
	return topic + "/response"
}

// ReplyTopic is where responses to this route are published
func (r Route) ReplyTopic() string {
	return ReplyTopic(r.Topic)
}

// IsCommand reports whether requests must carry a requestId
func (r Route) IsCommand() bool {
	return r.Access == AccessGuardedSet
}

func (r Route) validate() error {
	if r.Topic == "" || r.Path == "" {
		return fmt.Errorf("route needs topic and path")
	}
	switch r.Kind {
	case KindScalar, KindIndexed:
	default:
		return fmt.Errorf("route %s: unknown kind %q", r.Topic, r.Kind)
	}
	switch r.Access {
	case AccessGet:
		if r.Label == "" {
			return fmt.Errorf("route %s: getter needs a label", r.Topic)
		}
		if err := r.checkFormat(); err != nil {
			return err
		}
	case AccessGuardedSet:
		if r.Kind != KindScalar {
			return fmt.Errorf("route %s: guarded set only supports scalar signals", r.Topic)
		}
		if r.Guard == "" || r.Guard == r.Path {
			return fmt.Errorf("route %s: guarded set needs a distinct guard path", r.Topic)
		}
		if r.Noun == "" || r.GuardNoun == "" {
			return fmt.Errorf("route %s: guarded set needs noun and guardNoun", r.Topic)
		}
	default:
		return fmt.Errorf("route %s: unknown access %q", r.Topic, r.Access)
	}
	return nil
}

// checkFormat renders Format with sample arguments and rejects it if fmt
// reports a missing, extra or mistyped verb
func (r Route) checkFormat() error {
	if r.Format == "" {
		return nil
	}
	var sample string
	if r.Kind == KindIndexed {
		sample = fmt.Sprintf(r.Format, 0, databroker.Number(1))
	} else {
		sample = fmt.Sprintf(r.Format, databroker.Number(1))
	}
	if strings.Contains(sample, "%!") {
		return fmt.Errorf("route %s: format %q does not fit %s getters (renders %q)", r.Topic, r.Format, r.Kind, sample)
	}
	return nil
}

func (r Route) withDefaults() Route {
	if r.Access == AccessGet && r.Format == "" {
		if r.Kind == KindIndexed {
			r.Format = "Cell %d " + strings.ToLower(r.Label) + " = %s"
		} else {
			r.Format = r.Label + " = %s"
		}
	}
	return r
}

// RouteTable maps inbound topics to routes
type RouteTable struct {
	routes map[string]Route
	topics []string
}

// NewRouteTable validates routes. A later route for the same topic
// replaces an earlier one.
func NewRouteTable(routes ...Route) (*RouteTable, error) {
	t := &RouteTable{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, exists := t.routes[r.Topic]; !exists {
			t.topics = append(t.topics, r.Topic)
		}
		t.routes[r.Topic] = r.withDefaults()
	}
	return t, nil
}

// Lookup finds the route for an inbound topic
func (t *RouteTable) Lookup(topic string) (Route, bool) {
	r, ok := t.routes[topic]
	return r, ok
}

// Topics lists every inbound topic in registration order
func (t *RouteTable) Topics() []string {
	topics := make([]string, len(t.topics))
	copy(topics, t.topics)
	return topics
}

// Routes lists every route in registration order
func (t *RouteTable) Routes() []Route {
	routes := make([]Route, 0, len(t.topics))
	for _, topic := range t.topics {
		routes = append(routes, t.routes[topic])
	}
	return routes
}

type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// ParseRoutes reads the "routes" section of a signals file. Topics in the
// file are relative to prefix.
func ParseRoutes(data []byte, prefix string) ([]Route, error) {
	var file routesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	for i := range file.Routes {
		file.Routes[i].Topic = joinTopic(prefix, file.Routes[i].Topic)
	}
	return file.Routes, nil
}

func joinTopic(prefix, topic string) string {
	topic = strings.TrimPrefix(topic, "/")
	if prefix == "" {
		return topic
	}
	return strings.TrimSuffix(prefix, "/") + "/" + topic
}

// DefaultRoutes is the traction battery request table
func DefaultRoutes(prefix string) []Route {
	get := func(topic string, path databroker.Path, kind Kind, label, format string) Route {
		return Route{
			Topic:  joinTopic(prefix, topic),
			Path:   path,
			Kind:   kind,
			Access: AccessGet,
			Label:  label,
			Format: format,
		}
	}
	guardedSet := func(topic string, path, guard databroker.Path, noun, guardNoun string) Route {
		return Route{
			Topic:     joinTopic(prefix, topic),
			Path:      path,
			Kind:      KindScalar,
			Access:    AccessGuardedSet,
			Guard:     guard,
			Noun:      noun,
			GuardNoun: guardNoun,
		}
	}

	return []Route{
		get("temperature/getAverage", databroker.PathAverageTemperature, KindScalar,
			"average temperature", "Average temperature = %s"),
		get("cell/getTemperature", databroker.PathCellTemperature, KindIndexed,
			"cell temperature", "Cell %d temperature = %s"),
		get("cell/getVoltage", databroker.PathCellVoltages, KindIndexed,
			"cell voltage", "Cell %d voltage = %s"),
		get("getGrossCapacity", databroker.PathGrossCapacity, KindScalar,
			"gross capacity", "Gross capacity: %s"),
		get("getNetCapacity", databroker.PathNetCapacity, KindScalar,
			"net capacity", "Net capacity: %s"),
		get("stateOfCharge/getDisplayed", databroker.PathStateOfCharge, KindScalar,
			"displayed state of charge", "Displayed state of charge: %s"),
		get("getCurrentVoltage", databroker.PathCurrentVoltage, KindScalar,
			"current voltage", "Current voltage: %s"),
		get("getCurrentCurrent", databroker.PathCurrentCurrent, KindScalar,
			"current current", "Current current: %s"),
		get("charging/getIsCharging", databroker.PathIsCharging, KindScalar,
			"charging state", "Is charging: %s"),
		get("cell/getIsCharging", databroker.PathCellIsCharging, KindIndexed,
			"cell charging state", "Cell %d is charging: %s"),
		get("charging/getIsDischarging", databroker.PathIsDischarging, KindScalar,
			"discharging state", "Is discharging: %s"),
		get("cell/getIsDischarging", databroker.PathCellIsDischarging, KindIndexed,
			"cell discharging state", "Cell %d is discharging: %s"),
		guardedSet("charging/setIsCharging",
			databroker.PathIsCharging, databroker.PathIsDischarging, "charging", "discharging"),
		guardedSet("charging/setIsDischarging",
			databroker.PathIsDischarging, databroker.PathIsCharging, "discharging", "charging"),
	}
}
