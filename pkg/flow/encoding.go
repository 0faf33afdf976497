package flow

import (
	"fmt"
	"sort"
)

// DeviceEncoding is an explicit treatment (dummy) coding of device_type.
// The reference level gets no column; each other observed level gets one
// indicator column, in lexical order.
type DeviceEncoding struct {
	Reference DeviceType   `json:"reference"`
	Levels    []DeviceType `json:"levels"`
}

// EncodeDevice builds the encoding for the observed levels. camera is the
// reference when observed, otherwise the lexically first level.
func EncodeDevice(observed []DeviceType) (*DeviceEncoding, error) {
	seen := make(map[DeviceType]bool, len(observed))
	var levels []DeviceType
	for _, d := range observed {
		if !seen[d] {
			seen[d] = true
			levels = append(levels, d)
		}
	}
	if len(levels) < 2 {
		return nil, fmt.Errorf("device_type needs at least 2 observed levels, got %d", len(levels))
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	ref := levels[0]
	if seen[DeviceCamera] {
		ref = DeviceCamera
	}
	enc := &DeviceEncoding{Reference: ref}
	for _, l := range levels {
		if l != ref {
			enc.Levels = append(enc.Levels, l)
		}
	}
	return enc, nil
}

// ColumnNames returns the indicator names, e.g. "C(device_type)[T.light]".
func (e *DeviceEncoding) ColumnNames() []string {
	names := make([]string, len(e.Levels))
	for i, l := range e.Levels {
		names[i] = fmt.Sprintf("C(%s)[T.%s]", ColumnDeviceType, l)
	}
	return names
}

// Indicators returns the 0/1 row for device d.
func (e *DeviceEncoding) Indicators(d DeviceType) []float64 {
	row := make([]float64, len(e.Levels))
	for i, l := range e.Levels {
		if d == l {
			row[i] = 1
		}
	}
	return row
}
