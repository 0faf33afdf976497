package flow

import (
	"fmt"
	"sort"
)

// Dataset is an immutable, columnar view over validated flow records.
// Accessors return copies so callers cannot mutate the underlying columns.
type Dataset struct {
	labels  []Label
	devices []DeviceType
	columns map[string][]float64
}

// NewDataset builds a dataset from records. Records are assumed validated.
func NewDataset(records []Record) *Dataset {
	ds := &Dataset{
		labels:  make([]Label, len(records)),
		devices: make([]DeviceType, len(records)),
		columns: make(map[string][]float64, len(ContinuousColumns)),
	}
	for _, c := range ContinuousColumns {
		ds.columns[c] = make([]float64, len(records))
	}
	for i, r := range records {
		ds.labels[i] = r.Label
		ds.devices[i] = r.Device
		ds.columns[ColumnFlowPktsS][i] = r.FlowPktsS
		ds.columns[ColumnFlowBytsS][i] = r.FlowBytsS
		ds.columns[ColumnFlowDurationS][i] = r.FlowDurationS
		ds.columns[ColumnAvgPktLen][i] = r.AvgPktLen
	}
	return ds
}

// Len returns the number of rows.
func (ds *Dataset) Len() int {
	if ds == nil {
		return 0
	}
	return len(ds.labels)
}

// Record returns row i.
func (ds *Dataset) Record(i int) Record {
	return Record{
		Label:         ds.labels[i],
		Device:        ds.devices[i],
		FlowPktsS:     ds.columns[ColumnFlowPktsS][i],
		FlowBytsS:     ds.columns[ColumnFlowBytsS][i],
		FlowDurationS: ds.columns[ColumnFlowDurationS][i],
		AvgPktLen:     ds.columns[ColumnAvgPktLen][i],
	}
}

// Records returns all rows.
func (ds *Dataset) Records() []Record {
	out := make([]Record, ds.Len())
	for i := range out {
		out[i] = ds.Record(i)
	}
	return out
}

// Column returns a copy of the named continuous column.
func (ds *Dataset) Column(name string) ([]float64, error) {
	col, ok := ds.columns[name]
	if !ok {
		return nil, fmt.Errorf("unknown numeric column %q", name)
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, nil
}

// Labels returns a copy of the label column.
func (ds *Dataset) Labels() []Label {
	out := make([]Label, len(ds.labels))
	copy(out, ds.labels)
	return out
}

// Devices returns a copy of the device_type column.
func (ds *Dataset) Devices() []DeviceType {
	out := make([]DeviceType, len(ds.devices))
	copy(out, ds.devices)
	return out
}

// IsDDoS returns the derived binary outcome: 1 for DDoS rows, 0 otherwise.
func (ds *Dataset) IsDDoS() []float64 {
	out := make([]float64, len(ds.labels))
	for i, l := range ds.labels {
		if l == LabelDDoS {
			out[i] = 1
		}
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (ds *Dataset) Filter(keep func(Record) bool) *Dataset {
	var records []Record
	for i := 0; i < ds.Len(); i++ {
		r := ds.Record(i)
		if keep(r) {
			records = append(records, r)
		}
	}
	return NewDataset(records)
}

// WithLabel returns the rows carrying label l.
func (ds *Dataset) WithLabel(l Label) *Dataset {
	return ds.Filter(func(r Record) bool { return r.Label == l })
}

// SplitByDevice partitions column by device type. Only observed devices are present.
func (ds *Dataset) SplitByDevice(column string) (map[string][]float64, error) {
	col, ok := ds.columns[column]
	if !ok {
		return nil, fmt.Errorf("unknown numeric column %q", column)
	}
	groups := make(map[string][]float64)
	for i, d := range ds.devices {
		groups[string(d)] = append(groups[string(d)], col[i])
	}
	return groups, nil
}

// SplitByLabel partitions column by label. Only observed labels are present.
func (ds *Dataset) SplitByLabel(column string) (map[string][]float64, error) {
	col, ok := ds.columns[column]
	if !ok {
		return nil, fmt.Errorf("unknown numeric column %q", column)
	}
	groups := make(map[string][]float64)
	for i, l := range ds.labels {
		groups[string(l)] = append(groups[string(l)], col[i])
	}
	return groups, nil
}

// LabelCounts counts rows per label.
func (ds *Dataset) LabelCounts() map[Label]int {
	counts := make(map[Label]int)
	for _, l := range ds.labels {
		counts[l]++
	}
	return counts
}

// DeviceCounts counts rows per device type.
func (ds *Dataset) DeviceCounts() map[DeviceType]int {
	counts := make(map[DeviceType]int)
	for _, d := range ds.devices {
		counts[d]++
	}
	return counts
}

// ObservedDevices returns the device types present, in lexical order.
func (ds *Dataset) ObservedDevices() []DeviceType {
	var out []DeviceType
	for d := range ds.DeviceCounts() {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObservedLabels returns the labels present, in lexical order.
func (ds *Dataset) ObservedLabels() []Label {
	var out []Label
	for l := range ds.LabelCounts() {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
