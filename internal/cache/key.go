package cache

import (
	"math"
	"strconv"
	"strings"
)

const keyDelimiter = ","

// Key identifies one reverse lookup by its coordinates.
type Key struct {
	Lat float64
	Lon float64
}

func NewKey(lat float64, lon float64) Key {
	return Key{Lat: lat, Lon: lon}
}

// formatCoordinate writes -0 as 0 so keys that compare equal share an index.
func formatCoordinate(value float64) string {
	if value == 0 {
		value = 0
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// String is the index form of the key. Coordinates are written with the
// shortest decimal representation that round-trips; they are never rounded.
func (k Key) String() string {
	var builder strings.Builder
	builder.Grow(48)
	builder.WriteString(formatCoordinate(k.Lat))
	builder.WriteString(keyDelimiter)
	builder.WriteString(formatCoordinate(k.Lon))
	return builder.String()
}

// Valid reports whether both coordinates are finite numbers.
func (k Key) Valid() bool {
	return isFinite(k.Lat) && isFinite(k.Lon)
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
