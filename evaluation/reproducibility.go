package evaluation

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// ReproducibilityManager captures what is needed to rerun an analysis: the
// host environment, the dataset fingerprint and the seeds in use.
type ReproducibilityManager struct {
	logger *zap.Logger
}

// EnvironmentSnapshot describes the machine and runtime a run executed on.
// Fields that could not be read are left empty and noted in Warnings.
type EnvironmentSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	GoVersion       string    `json:"goVersion"`
	GOOS            string    `json:"goos"`
	GOARCH          string    `json:"goarch"`
	NumCPU          int       `json:"numCpu"`
	Hostname        string    `json:"hostname,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	PlatformVersion string    `json:"platformVersion,omitempty"`
	KernelVersion   string    `json:"kernelVersion,omitempty"`
	KernelArch      string    `json:"kernelArch,omitempty"`
	CPUModel        string    `json:"cpuModel,omitempty"`
	TotalMemory     uint64    `json:"totalMemory,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
}

// NewReproducibilityManager creates a new reproducibility manager
func NewReproducibilityManager(logger *zap.Logger) *ReproducibilityManager {
	return &ReproducibilityManager{logger: logger}
}

// CaptureEnvironment captures the current environment state. Host probes
// that fail are logged and skipped.
func (rm *ReproducibilityManager) CaptureEnvironment(ctx context.Context) (*EnvironmentSnapshot, error) {
	rm.logger.Debug("Capturing environment snapshot")

	snapshot := &EnvironmentSnapshot{
		Timestamp: time.Now().UTC(),
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		rm.warn(snapshot, "host", err)
	} else {
		snapshot.Hostname = info.Hostname
		snapshot.Platform = info.Platform
		snapshot.PlatformVersion = info.PlatformVersion
		snapshot.KernelVersion = info.KernelVersion
		snapshot.KernelArch = info.KernelArch
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		rm.warn(snapshot, "memory", err)
	} else {
		snapshot.TotalMemory = vm.Total
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		rm.warn(snapshot, "cpu", err)
	} else if len(cpus) > 0 {
		snapshot.CPUModel = cpus[0].ModelName
	}

	if err := ctx.Err(); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func (rm *ReproducibilityManager) warn(s *EnvironmentSnapshot, probe string, err error) {
	rm.logger.Warn("Failed to capture environment info", zap.String("probe", probe), zap.Error(err))
	s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %v", probe, err))
}

// FingerprintDataset returns the BLAKE3 digest of the dataset file.
func (rm *ReproducibilityManager) FingerprintDataset(path string) (string, error) {
	digest, _, err := HashFile(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint dataset: %w", err)
	}
	return digest, nil
}

// HashFile returns the hex BLAKE3 digest and size of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := blake3.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// HashBytes returns the hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
