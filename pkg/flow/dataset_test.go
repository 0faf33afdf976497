package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{Label: LabelNormal, Device: DeviceCamera, FlowPktsS: 100, FlowBytsS: 1000, FlowDurationS: 1, AvgPktLen: 600},
		{Label: LabelDDoS, Device: DeviceCamera, FlowPktsS: 800, FlowBytsS: 5000, FlowDurationS: 3, AvgPktLen: 500},
		{Label: LabelNormal, Device: DeviceLight, FlowPktsS: 40, FlowBytsS: 900, FlowDurationS: 2, AvgPktLen: 640},
	}
}

func TestDataset_ColumnIsCopy(t *testing.T) {
	ds := NewDataset(sampleRecords())
	col, err := ds.Column(ColumnFlowPktsS)
	require.NoError(t, err)
	col[0] = -1

	again, err := ds.Column(ColumnFlowPktsS)
	require.NoError(t, err)
	assert.Equal(t, 100.0, again[0])

	_, err = ds.Column("src_port")
	assert.Error(t, err)
}

func TestDataset_FilterAndSplit(t *testing.T) {
	ds := NewDataset(sampleRecords())

	normal := ds.WithLabel(LabelNormal)
	assert.Equal(t, 2, normal.Len())

	byDevice, err := ds.SplitByDevice(ColumnFlowPktsS)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 800}, byDevice["camera"])
	assert.Equal(t, []float64{40}, byDevice["light"])
	assert.NotContains(t, byDevice, "speaker")

	byLabel, err := ds.SplitByLabel(ColumnAvgPktLen)
	require.NoError(t, err)
	assert.Equal(t, []float64{500}, byLabel["DDoS"])

	assert.Equal(t, []DeviceType{DeviceCamera, DeviceLight}, ds.ObservedDevices())
	assert.Equal(t, []Label{LabelDDoS, LabelNormal}, ds.ObservedLabels())
}

func TestEncodeDevice(t *testing.T) {
	t.Run("camera reference", func(t *testing.T) {
		enc, err := EncodeDevice([]DeviceType{DeviceThermostat, DeviceCamera, DeviceSpeaker, DeviceLight, DeviceCamera})
		require.NoError(t, err)
		assert.Equal(t, DeviceCamera, enc.Reference)
		assert.Equal(t, []string{
			"C(device_type)[T.light]",
			"C(device_type)[T.speaker]",
			"C(device_type)[T.thermostat]",
		}, enc.ColumnNames())
		assert.Equal(t, []float64{0, 1, 0}, enc.Indicators(DeviceSpeaker))
		assert.Equal(t, []float64{0, 0, 0}, enc.Indicators(DeviceCamera))
	})

	t.Run("only observed levels", func(t *testing.T) {
		enc, err := EncodeDevice([]DeviceType{DeviceLight, DeviceCamera})
		require.NoError(t, err)
		assert.Equal(t, []DeviceType{DeviceLight}, enc.Levels)
	})

	t.Run("single level", func(t *testing.T) {
		_, err := EncodeDevice([]DeviceType{DeviceLight, DeviceLight})
		assert.Error(t, err)
	})
}
