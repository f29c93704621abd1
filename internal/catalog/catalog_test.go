package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsTotal(t *testing.T) {
	c := Default()

	for _, key := range c.Keys() {
		assert.NotEmpty(t, c.DisplayName(key), key)
		assert.NotEmpty(t, c.UnitLabel(key, Metric), key)
		assert.NotEmpty(t, c.UnitLabel(key, Imperial), key)
	}

	for _, key := range []string{"DBT", "RH", "GHrad", "wind_speed"} {
		_, ok := c.Lookup(key)
		assert.True(t, ok, "default catalog must define %s", key)
	}
}

func TestUnitLabels(t *testing.T) {
	c := Default()

	assert.Equal(t, "°C", c.UnitLabel("DBT", Metric))
	assert.Equal(t, "°F", c.UnitLabel("DBT", Imperial))
	assert.Equal(t, "%", c.UnitLabel("RH", Imperial), "RH has no imperial unit")
	assert.Equal(t, "fpm", c.UnitLabel("wind_speed", Imperial))
	assert.Equal(t, "", c.UnitLabel("nope", Metric))
	assert.Equal(t, "nope", c.DisplayName("nope"))
}

func TestConvert(t *testing.T) {
	c := Default()

	assert.InDelta(t, 212.0, c.Convert("DBT", 100, Imperial), 1e-9)
	assert.InDelta(t, 32.0, c.Convert("DBT", 0, Imperial), 1e-9)
	assert.InDelta(t, 196.8504, c.Convert("wind_speed", 1, Imperial), 1e-9)
	assert.Equal(t, 25.0, c.Convert("DBT", 25, Metric))
	assert.Equal(t, 55.0, c.Convert("RH", 55, Imperial))
}

func TestConvertRoundTrip(t *testing.T) {
	c := Default()
	values := []float64{-40, -12.3, 0, 0.1, 17.25, 99.9, 1013.25, 101325}

	for _, key := range c.Keys() {
		for _, v := range values {
			back := c.ToMetric(key, c.Convert(key, v, Imperial), Imperial)
			assert.LessOrEqual(t, math.Abs(back-v), 1e-9*math.Max(1, math.Abs(v)), "%s %v", key, v)
		}
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "variables: []"},
		{"duplicate", "variables:\n  - key: A\n  - key: A\n"},
		{"zero scale", "variables:\n  - key: A\n    scale: 0\n"},
		{"missing key", "variables:\n  - name: nothing\n"},
		{"not yaml", "variables: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseDefaultsName(t *testing.T) {
	c, err := Parse([]byte("variables:\n  - key: X\n    unit: m\n"))
	require.NoError(t, err)

	assert.Equal(t, "X", c.DisplayName("X"))
	assert.Equal(t, 5.0, c.Convert("X", 5, Imperial), "missing scale means identity")
}

func TestParseUnitSystem(t *testing.T) {
	for in, want := range map[string]UnitSystem{
		"":         Metric,
		"SI":       Metric,
		"metric":   Metric,
		"ip":       Imperial,
		"Imperial": Imperial,
	} {
		got, err := ParseUnitSystem(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseUnitSystem("kelvin")
	assert.ErrorIs(t, err, ErrUnknownUnitSystem)
}
