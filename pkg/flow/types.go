// Package flow holds the typed flow-record schema of the IoT DDoS dataset,
// the CSV loader that enforces it and the synthetic dataset generator.
package flow

import "fmt"

// Label is the traffic class of a flow.
type Label string

const (
	LabelNormal Label = "Normal"
	LabelDDoS   Label = "DDoS"
)

// Labels lists the label domain in lexical order.
var Labels = []Label{LabelDDoS, LabelNormal}

// ParseLabel validates a raw label value.
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case LabelNormal, LabelDDoS:
		return Label(s), nil
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// DeviceType is the IoT device category a flow belongs to.
type DeviceType string

const (
	DeviceCamera     DeviceType = "camera"
	DeviceLight      DeviceType = "light"
	DeviceSpeaker    DeviceType = "speaker"
	DeviceThermostat DeviceType = "thermostat"
)

// DeviceTypes lists the device domain in lexical order.
var DeviceTypes = []DeviceType{DeviceCamera, DeviceLight, DeviceSpeaker, DeviceThermostat}

// ParseDeviceType validates a raw device_type value.
func ParseDeviceType(s string) (DeviceType, error) {
	switch DeviceType(s) {
	case DeviceCamera, DeviceLight, DeviceSpeaker, DeviceThermostat:
		return DeviceType(s), nil
	}
	return "", fmt.Errorf("unknown device_type %q", s)
}

// Column names of the input contract.
const (
	ColumnLabel         = "label"
	ColumnDeviceType    = "device_type"
	ColumnFlowPktsS     = "flow_pkts_s"
	ColumnFlowBytsS     = "flow_byts_s"
	ColumnFlowDurationS = "flow_duration_s"
	ColumnAvgPktLen     = "avg_pkt_len"
)

// ContinuousColumns are the strictly positive numeric columns, in report order.
var ContinuousColumns = []string{ColumnFlowPktsS, ColumnFlowBytsS, ColumnFlowDurationS, ColumnAvgPktLen}

// Header is the canonical column order used when writing datasets.
var Header = []string{ColumnLabel, ColumnDeviceType, ColumnFlowPktsS, ColumnFlowBytsS, ColumnFlowDurationS, ColumnAvgPktLen}

// IsContinuous reports whether name is one of the numeric columns.
func IsContinuous(name string) bool {
	for _, c := range ContinuousColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Record is a single validated flow observation.
type Record struct {
	Label         Label      `json:"label"`
	Device        DeviceType `json:"deviceType"`
	FlowPktsS     float64    `json:"flowPktsS"`
	FlowBytsS     float64    `json:"flowBytsS"`
	FlowDurationS float64    `json:"flowDurationS"`
	AvgPktLen     float64    `json:"avgPktLen"`
}

// Value returns the continuous field named by column.
func (r Record) Value(column string) (float64, bool) {
	switch column {
	case ColumnFlowPktsS:
		return r.FlowPktsS, true
	case ColumnFlowBytsS:
		return r.FlowBytsS, true
	case ColumnFlowDurationS:
		return r.FlowDurationS, true
	case ColumnAvgPktLen:
		return r.AvgPktLen, true
	}
	return 0, false
}
