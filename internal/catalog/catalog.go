// Package catalog maps variable keys to display names, unit labels and
// metric/imperial conversions. A Catalog is passed to the pipeline and the
// loaders explicitly; there is no package-level mutable state.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnitSystem selects the units results are expressed in.
type UnitSystem string

const (
	Metric   UnitSystem = "metric"
	Imperial UnitSystem = "imperial"
)

// ErrUnknownUnitSystem is returned by ParseUnitSystem.
var ErrUnknownUnitSystem = errors.New("unknown unit system")

// ParseUnitSystem accepts metric/si and imperial/ip; empty means metric.
func ParseUnitSystem(s string) (UnitSystem, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "metric", "si":
		return Metric, nil
	case "imperial", "ip":
		return Imperial, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUnitSystem, s)
	}
}

// Variable describes one dataset column.
type Variable struct {
	Key          string     `yaml:"key" json:"key"`
	Name         string     `yaml:"name" json:"name"`
	Unit         string     `yaml:"unit" json:"unit"`
	ImperialUnit string     `yaml:"imperial_unit,omitempty" json:"imperial_unit,omitempty"`
	Scale        *float64   `yaml:"scale,omitempty" json:"-"`
	Offset       float64    `yaml:"offset,omitempty" json:"-"`
	Range        [2]float64 `yaml:"range,omitempty" json:"range"`
}

func (v Variable) scale() float64 {
	if v.Scale == nil {
		return 1
	}
	return *v.Scale
}

type document struct {
	Variables []Variable `yaml:"variables"`
}

//go:embed variables.yaml
var defaultYAML []byte

// Catalog is an immutable lookup table of variables.
type Catalog struct {
	order []string
	vars  map[string]Variable
}

// New validates vars and builds a Catalog.
func New(vars []Variable) (*Catalog, error) {
	c := &Catalog{
		order: make([]string, 0, len(vars)),
		vars:  make(map[string]Variable, len(vars)),
	}
	for i, v := range vars {
		if v.Key == "" {
			return nil, fmt.Errorf("variable %d: key must not be empty", i)
		}
		if _, dup := c.vars[v.Key]; dup {
			return nil, fmt.Errorf("variable %q: duplicate key", v.Key)
		}
		if v.Scale != nil && *v.Scale == 0 {
			return nil, fmt.Errorf("variable %q: scale must not be zero", v.Key)
		}
		if v.Name == "" {
			v.Name = v.Key
		}
		c.order = append(c.order, v.Key)
		c.vars[v.Key] = v
	}
	if len(c.order) == 0 {
		return nil, errors.New("catalog has no variables")
	}
	return c, nil
}

// Parse builds a Catalog from a YAML document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(doc.Variables)
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded variables.yaml is invalid: %v", err))
	}
	return c
}

// Lookup returns the variable registered under key.
func (c *Catalog) Lookup(key string) (Variable, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Keys returns the variable keys in declaration order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// Variables returns every variable in declaration order.
func (c *Catalog) Variables() []Variable {
	out := make([]Variable, len(c.order))
	for i, k := range c.order {
		out[i] = c.vars[k]
	}
	return out
}

// DisplayName returns the human readable name of key, or key itself when unknown.
func (c *Catalog) DisplayName(key string) string {
	if v, ok := c.vars[key]; ok {
		return v.Name
	}
	return key
}

// UnitLabel returns the unit string of key in the given system.
func (c *Catalog) UnitLabel(key string, system UnitSystem) string {
	v, ok := c.vars[key]
	if !ok {
		return ""
	}
	if system == Imperial && v.ImperialUnit != "" {
		return v.ImperialUnit
	}
	return v.Unit
}

// Convert expresses a metric value of key in system. Unknown keys pass through.
func (c *Catalog) Convert(key string, value float64, system UnitSystem) float64 {
	v, ok := c.vars[key]
	if !ok || system != Imperial {
		return value
	}
	return value*v.scale() + v.Offset
}

// ToMetric is the inverse of Convert.
func (c *Catalog) ToMetric(key string, value float64, system UnitSystem) float64 {
	v, ok := c.vars[key]
	if !ok || system != Imperial {
		return value
	}
	return (value - v.Offset) / v.scale()
}
