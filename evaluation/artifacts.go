package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManifestFile is the name of the per-run index written last by Store.
const ManifestFile = "manifest.json"

// ArtifactStore persists the outputs of a run.
type ArtifactStore interface {
	Store(ctx context.Context, artifact *RunArtifact) (string, error)
	Retrieve(ctx context.Context, runID string) (*RunManifest, error)
	List(ctx context.Context) ([]*RunManifest, error)
}

// ArtifactFile records one stored file and its digest.
type ArtifactFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	BLAKE3 string `json:"blake3"`
}

// RunManifest indexes the artifacts of a run and how to reproduce it.
type RunManifest struct {
	RunID              string               `json:"runId"`
	CreatedAt          time.Time            `json:"createdAt"`
	DatasetPath        string               `json:"datasetPath,omitempty"`
	DatasetFingerprint string               `json:"datasetFingerprint,omitempty"`
	Seed               uint64               `json:"seed"`
	Config             StatisticalConfig    `json:"config"`
	Environment        *EnvironmentSnapshot `json:"environment,omitempty"`
	Failed             bool                 `json:"failed"`
	Files              []ArtifactFile       `json:"files"`
}

// RunArtifact is a manifest plus the file contents to store with it.
type RunArtifact struct {
	Manifest RunManifest
	Files    map[string][]byte
}

// FileSystemArtifactStore keeps each run under <base>/<run-id>/.
type FileSystemArtifactStore struct {
	basePath string
	logger   *zap.Logger
	config   *FileSystemStoreConfig
}

// FileSystemStoreConfig controls permissions and durability of stored files.
type FileSystemStoreConfig struct {
	FilePermissions os.FileMode `json:"filePermissions"`
	DirPermissions  os.FileMode `json:"dirPermissions"`
	SyncWrites      bool        `json:"syncWrites"`
}

var _ ArtifactStore = (*FileSystemArtifactStore)(nil)

// NewFileSystemArtifactStore creates a new filesystem artifact store
func NewFileSystemArtifactStore(basePath string, logger *zap.Logger) *FileSystemArtifactStore {
	return &FileSystemArtifactStore{
		basePath: basePath,
		logger:   logger,
		config: &FileSystemStoreConfig{
			FilePermissions: 0o644,
			DirPermissions:  0o755,
			SyncWrites:      true,
		},
	}
}

// RunDir returns the directory holding runID's artifacts.
func (fs *FileSystemArtifactStore) RunDir(runID string) string {
	return filepath.Join(fs.basePath, runID)
}

func validRunID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return &InputError{Field: "run_id", Reason: fmt.Sprintf("%q is not a run id", runID), Err: err}
	}
	return nil
}

// Store writes every file of the artifact, then the manifest with their
// digests. It returns the run directory.
func (fs *FileSystemArtifactStore) Store(ctx context.Context, artifact *RunArtifact) (string, error) {
	runID := artifact.Manifest.RunID
	if err := validRunID(runID); err != nil {
		return "", err
	}
	fs.logger.Info("Storing artifacts", zap.String("runId", runID), zap.Int("files", len(artifact.Files)))

	dir := fs.RunDir(runID)
	if err := os.MkdirAll(dir, fs.config.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	names := make([]string, 0, len(artifact.Files))
	for name := range artifact.Files {
		if name == ManifestFile || filepath.Base(name) != name {
			return "", &InputError{Field: "artifact", Reason: fmt.Sprintf("invalid file name %q", name)}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	manifest := artifact.Manifest
	manifest.Files = nil
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data := artifact.Files[name]
		if err := fs.writeFile(filepath.Join(dir, name), data); err != nil {
			return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
		}
		manifest.Files = append(manifest.Files, ArtifactFile{
			Name:   name,
			Size:   int64(len(data)),
			BLAKE3: HashBytes(data),
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := fs.writeFile(filepath.Join(dir, ManifestFile), data); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	fs.logger.Info("Artifacts stored successfully", zap.String("runId", runID), zap.String("dir", dir))
	return dir, nil
}

func (fs *FileSystemArtifactStore) writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.config.FilePermissions)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if fs.config.SyncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// ReadManifest loads the manifest stored in dir.
func ReadManifest(dir string) (*RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Retrieve loads the manifest of runID.
func (fs *FileSystemArtifactStore) Retrieve(ctx context.Context, runID string) (*RunManifest, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	return ReadManifest(fs.RunDir(runID))
}

// List returns every stored manifest, newest first. Directories without a
// readable manifest are skipped.
func (fs *FileSystemArtifactStore) List(ctx context.Context) ([]*RunManifest, error) {
	entries, err := os.ReadDir(fs.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var manifests []*RunManifest
	for _, e := range entries {
		if !e.IsDir() || validRunID(e.Name()) != nil {
			continue
		}
		m, err := ReadManifest(filepath.Join(fs.basePath, e.Name()))
		if err != nil {
			fs.logger.Warn("Skipping unreadable run", zap.String("runId", e.Name()), zap.Error(err))
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}
