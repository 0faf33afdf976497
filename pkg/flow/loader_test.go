package flow

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCSV = `label,device_type,flow_pkts_s,flow_byts_s,flow_duration_s,avg_pkt_len
Normal,camera,120.5,90000,2.5,650
DDoS,light,300,80000,4.2,500
Normal,speaker,70,34000,1.25,640
`

func TestReadCSV_Valid(t *testing.T) {
	ds, stats, err := ReadCSV(strings.NewReader(validCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 0, stats.DroppedRows)
	assert.Equal(t, 6, stats.Columns)

	pkts, err := ds.Column(ColumnFlowPktsS)
	require.NoError(t, err)
	assert.Equal(t, []float64{120.5, 300, 70}, pkts)
	assert.Equal(t, []float64{0, 1, 0}, ds.IsDDoS())
	assert.Equal(t, map[Label]int{LabelNormal: 2, LabelDDoS: 1}, ds.LabelCounts())
}

func TestReadCSV_ColumnsInAnyOrder(t *testing.T) {
	in := `avg_pkt_len,flow_duration_s,label,flow_byts_s,device_type,flow_pkts_s
650,2.5,Normal,90000,camera,120
`
	ds, _, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	r := ds.Record(0)
	assert.Equal(t, Record{Label: LabelNormal, Device: DeviceCamera, FlowPktsS: 120, FlowBytsS: 90000, FlowDurationS: 2.5, AvgPktLen: 650}, r)
}

func TestReadCSV_DropsMissing(t *testing.T) {
	in := validCSV + "Normal,camera,,90000,2.5,650\nDDoS,light,NaN,1,1,1\nNormal,camera,NA,1,1,1\n"
	ds, stats, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 6, stats.TotalRows)
	assert.Equal(t, 3, stats.DroppedRows)
}

func TestReadCSV_DropsShortRows(t *testing.T) {
	in := `label,device_type,flow_pkts_s,flow_byts_s,flow_duration_s,avg_pkt_len
Normal,camera,120.5,90000,2.5,650
DDoS,light,300,9000,2.5
Normal,speaker,70,34000,1.25,640
`
	ds, stats, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 3, stats.TotalRows)
	assert.Equal(t, 1, stats.DroppedRows)
	assert.Equal(t, map[Label]int{LabelNormal: 2}, ds.LabelCounts())
}

func TestReadCSV_SchemaViolations(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		column     string
		row        int
		violations int
	}{
		{
			name:       "missing column",
			input:      "label,device_type,flow_pkts_s,flow_byts_s,flow_duration_s\nNormal,camera,1,1,1\n",
			column:     ColumnAvgPktLen,
			violations: 1,
		},
		{
			name:       "extra column",
			input:      "label,device_type,flow_pkts_s,flow_byts_s,flow_duration_s,avg_pkt_len,src_ip\n",
			column:     "src_ip",
			violations: 1,
		},
		{
			name:       "unknown label",
			input:      validCSV + "Benign,camera,1,1,1,1\n",
			column:     ColumnLabel,
			row:        4,
			violations: 1,
		},
		{
			name:       "unknown device",
			input:      validCSV + "Normal,fridge,1,1,1,1\n",
			column:     ColumnDeviceType,
			row:        4,
			violations: 1,
		},
		{
			name:       "non positive values counted together",
			input:      validCSV + "Normal,camera,0,1,1,1\nDDoS,camera,1,-5,1,1\n",
			column:     ColumnFlowPktsS,
			row:        4,
			violations: 2,
		},
		{
			name:       "too many fields",
			input:      validCSV + "Normal,camera,1,1,1,1,9\n",
			row:        4,
			violations: 1,
		},
		{
			name:       "not a number",
			input:      validCSV + "Normal,camera,fast,1,1,1\n",
			column:     ColumnFlowPktsS,
			row:        4,
			violations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(tt.input))
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "got %v", err)
			assert.Equal(t, tt.column, schemaErr.Column)
			assert.Equal(t, tt.row, schemaErr.Row)
			assert.Equal(t, tt.violations, schemaErr.Violations)
		})
	}
}

func TestReadCSV_EmptyInput(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader(""))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Error(), "missing header")
}

func TestLoadCSV_RejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.csv")
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	require.NoError(t, os.WriteFile(path, png, 0o644))

	_, _, err := LoadCSV(path)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Reason, "image/png")
}

func TestLoadCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(validCSV), 0o644))

	ds, stats, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, path, stats.Path)
	assert.True(t, strings.HasPrefix(stats.MIME, "text/"))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	ds, _, err := ReadCSV(strings.NewReader(validCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ds))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Header, ",")+"\n"))
	assert.Contains(t, buf.String(), "Normal,camera,120.50,90000.00,2.500,650.00")

	again, _, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, ds.Records(), again.Records())
}
