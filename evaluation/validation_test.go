package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func storedRun(t *testing.T) (dir, datasetPath string) {
	t.Helper()
	datasetPath = filepath.Join(t.TempDir(), "flows.csv")
	require.NoError(t, os.WriteFile(datasetPath, []byte("label,device_type\nDDoS,light\n"), 0o644))

	artifact := testArtifact(time.Now().UTC())
	artifact.Manifest.DatasetPath = datasetPath
	artifact.Manifest.DatasetFingerprint = HashBytes([]byte("label,device_type\nDDoS,light\n"))

	dir, err := NewFileSystemArtifactStore(t.TempDir(), zaptest.NewLogger(t)).Store(context.Background(), artifact)
	require.NoError(t, err)
	return dir, datasetPath
}

func TestValidateRun(t *testing.T) {
	tests := []struct {
		name        string
		tamper      func(t *testing.T, dir, datasetPath string)
		withDataset bool
		wantValid   bool
		wantPassed  int
		wantFailed  int
		wantSkipped int
	}{
		{
			name:        "intact run with dataset",
			withDataset: true,
			wantValid:   true,
			wantPassed:  3,
		},
		{
			name:        "intact run without dataset",
			wantValid:   true,
			wantPassed:  2,
			wantSkipped: 1,
		},
		{
			name: "tampered report",
			tamper: func(t *testing.T, dir, _ string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("edited"), 0o644))
			},
			withDataset: true,
			wantPassed:  2,
			wantFailed:  1,
		},
		{
			name: "missing artifact",
			tamper: func(t *testing.T, dir, _ string) {
				require.NoError(t, os.Remove(filepath.Join(dir, "result.json")))
			},
			wantPassed:  1,
			wantFailed:  1,
			wantSkipped: 1,
		},
		{
			name: "dataset changed",
			tamper: func(t *testing.T, _, datasetPath string) {
				require.NoError(t, os.WriteFile(datasetPath, []byte("label,device_type\nNormal,light\n"), 0o644))
			},
			withDataset: true,
			wantPassed:  2,
			wantFailed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, datasetPath := storedRun(t)
			if tt.tamper != nil {
				tt.tamper(t, dir, datasetPath)
			}
			if !tt.withDataset {
				datasetPath = ""
			}

			rv := NewReproducibilityValidator(zaptest.NewLogger(t))
			res, err := rv.ValidateRun(context.Background(), dir, datasetPath)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantPassed, res.Passed)
			assert.Equal(t, tt.wantFailed, res.Failed)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.InDelta(t, float64(tt.wantPassed)/float64(tt.wantPassed+tt.wantFailed), res.Score, 1e-12)
			assert.Contains(t, res.String(), res.RunID)
		})
	}
}

func TestValidateRun_DigestMismatchDetail(t *testing.T) {
	dir, _ := storedRun(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("edited"), 0o644))

	res, err := NewReproducibilityValidator(zaptest.NewLogger(t)).ValidateRun(context.Background(), dir, "")
	require.NoError(t, err)

	var failed []ValidationCheck
	for _, c := range res.Checks {
		if c.Status == CheckFailed {
			failed = append(failed, c)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "digest mismatch", failed[0].Message)
	assert.Equal(t, HashBytes([]byte("edited")), failed[0].Actual)
	assert.NotEqual(t, failed[0].Expected, failed[0].Actual)
}

func TestValidateRun_NoManifest(t *testing.T) {
	_, err := NewReproducibilityValidator(zaptest.NewLogger(t)).ValidateRun(context.Background(), t.TempDir(), "")
	assert.Error(t, err)
}
