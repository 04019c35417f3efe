package databroker

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Type is the declared datatype of a signal
type Type string

const (
	TypeBool        Type = "bool"
	TypeNumber      Type = "number"
	TypeBoolArray   Type = "bool[]"
	TypeNumberArray Type = "number[]"
)

// Spec declares one signal: its type, optional numeric bounds and the value
// a fresh store is seeded with.
type Spec struct {
	Path    Path     `yaml:"path"`
	Type    Type     `yaml:"type"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
	Initial any      `yaml:"initial,omitempty"`
}

func (s Spec) indexed() bool {
	return s.Type == TypeBoolArray || s.Type == TypeNumberArray
}

func (s Spec) wantsBool() bool {
	return s.Type == TypeBool || s.Type == TypeBoolArray
}

// Catalog holds the signal declarations both stores validate writes against
type Catalog struct {
	specs map[Path]Spec
	order []Path
}

// NewCatalog builds a catalog. A later spec for the same path replaces an
// earlier one, which is how a signals file overrides the defaults.
func NewCatalog(specs ...Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[Path]Spec, len(specs))}
	for _, s := range specs {
		if s.Path == "" {
			return nil, fmt.Errorf("signal spec with empty path")
		}
		switch s.Type {
		case TypeBool, TypeNumber, TypeBoolArray, TypeNumberArray:
		default:
			return nil, fmt.Errorf("signal %s: unknown type %q", s.Path, s.Type)
		}
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return nil, fmt.Errorf("signal %s: min %v above max %v", s.Path, *s.Min, *s.Max)
		}
		if _, exists := c.specs[s.Path]; !exists {
			c.order = append(c.order, s.Path)
		}
		c.specs[s.Path] = s
	}
	return c, nil
}

// Lookup returns the spec for a path
func (c *Catalog) Lookup(path Path) (Spec, bool) {
	s, ok := c.specs[path]
	return s, ok
}

// Paths returns all declared paths in declaration order
func (c *Catalog) Paths() []Path {
	return slices.Clone(c.order)
}

// Validate checks a value against the declaration for path. Unknown paths
// yield ErrNotFound, everything else a *ValidationError.
func (c *Catalog) Validate(path Path, v Value) error {
	spec, ok := c.specs[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	reject := func(format string, args ...any) error {
		return &ValidationError{Path: path, Value: v, Reason: fmt.Sprintf(format, args...)}
	}

	if v.IsEmpty() {
		return reject("empty value")
	}
	if v.Indexed() != spec.indexed() {
		if spec.indexed() {
			return reject("expected a sequence of type %s", spec.Type)
		}
		return reject("expected a single %s", spec.Type)
	}

	for i, item := range v.Items() {
		if item.IsBool() != spec.wantsBool() {
			if spec.indexed() {
				return reject("item %d has the wrong type for %s", i, spec.Type)
			}
			return reject("wrong type for %s", spec.Type)
		}
		if item.IsBool() {
			continue
		}
		if spec.Min != nil && item.AsNumber() < *spec.Min {
			return reject("%s is below minimum %v", item, *spec.Min)
		}
		if spec.Max != nil && item.AsNumber() > *spec.Max {
			return reject("%s is above maximum %v", item, *spec.Max)
		}
	}
	return nil
}

// InitialValues returns the validated seed values of every spec that has one
func (c *Catalog) InitialValues() (map[Path]Value, error) {
	values := make(map[Path]Value)
	for _, path := range c.order {
		spec := c.specs[path]
		if spec.Initial == nil {
			continue
		}
		v, err := ParseValue(spec.Initial)
		if err != nil {
			return nil, fmt.Errorf("signal %s initial value: %w", path, err)
		}
		if err := c.Validate(path, v); err != nil {
			return nil, fmt.Errorf("signal %s initial value: %w", path, err)
		}
		values[path] = v
	}
	return values, nil
}

type catalogFile struct {
	Signals []Spec `yaml:"signals"`
}

// ParseSpecs reads the "signals" section of a signals file
func ParseSpecs(data []byte) ([]Spec, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	return file.Signals, nil
}

const batteryRoot = "Vehicle.Powertrain.TractionBattery."

// Traction battery signal paths served by the default routes
const (
	PathAverageTemperature = Path(batteryRoot + "Temperature.Average")
	PathCellTemperature    = Path(batteryRoot + "Temperature.CellTemperature")
	PathCellVoltages       = Path(batteryRoot + "CellVoltage.CellVoltages")
	PathGrossCapacity      = Path(batteryRoot + "GrossCapacity")
	PathNetCapacity        = Path(batteryRoot + "NetCapacity")
	PathStateOfCharge      = Path(batteryRoot + "StateOfCharge.Displayed")
	PathCurrentVoltage     = Path(batteryRoot + "CurrentVoltage")
	PathCurrentCurrent     = Path(batteryRoot + "CurrentCurrent")
	PathIsCharging         = Path(batteryRoot + "Charging.IsCharging")
	PathCellIsCharging     = Path(batteryRoot + "Charging.CellIsCharging")
	PathIsDischarging      = Path(batteryRoot + "Charging.IsDischarging")
	PathCellIsDischarging  = Path(batteryRoot + "Charging.CellIsDischarging")
)

func bound(v float64) *float64 {
	return &v
}

// DefaultSpecs declares the traction battery signals with a four cell pack
func DefaultSpecs() []Spec {
	return []Spec{
		{Path: PathAverageTemperature, Type: TypeNumber, Initial: 25.0},
		{Path: PathCellTemperature, Type: TypeNumberArray, Initial: []any{24.5, 25.0, 25.5, 26.0}},
		{Path: PathCellVoltages, Type: TypeNumberArray, Min: bound(0), Initial: []any{3.71, 3.72, 3.70, 3.73}},
		{Path: PathGrossCapacity, Type: TypeNumber, Min: bound(0), Initial: 90.0},
		{Path: PathNetCapacity, Type: TypeNumber, Min: bound(0), Initial: 85.0},
		{Path: PathStateOfCharge, Type: TypeNumber, Min: bound(0), Max: bound(100), Initial: 80.0},
		{Path: PathCurrentVoltage, Type: TypeNumber, Min: bound(0), Initial: 400.0},
		{Path: PathCurrentCurrent, Type: TypeNumber, Initial: 0.0},
		{Path: PathIsCharging, Type: TypeBool, Initial: false},
		{Path: PathCellIsCharging, Type: TypeBoolArray, Initial: []any{false, false, false, false}},
		{Path: PathIsDischarging, Type: TypeBool, Initial: false},
		{Path: PathCellIsDischarging, Type: TypeBoolArray, Initial: []any{false, false, false, false}},
	}
}
