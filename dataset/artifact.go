// Package dataset loads preprocessed image-classification splits and turns
// them into normalized tensors ready for batching.
package dataset

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Artifact is the on-disk form of a preprocessed split: raw encoded images
// (PNG or JPEG bytes) with integer labels.
type Artifact struct {
	NumClasses int
	Images     [][]byte
	Labels     []int
}

// ArtifactPath returns the conventional location of a split artifact:
// {root}/{task}/{dataset}/{modelType}/{split}_processed.gob
func ArtifactPath(root, task, dataset, modelType, split string) string {
	return filepath.Join(root, task, dataset, modelType, split+"_processed.gob")
}

// LoadArtifact reads a split artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open split artifact %s", path)
	}
	defer file.Close()

	var artifact Artifact
	if err := gob.NewDecoder(file).Decode(&artifact); err != nil {
		return nil, errors.Wrapf(err, "decode split artifact %s", path)
	}

	if artifact.NumClasses < 2 {
		return nil, errors.Errorf("split artifact %s: invalid class count %d", path, artifact.NumClasses)
	}
	if len(artifact.Images) != len(artifact.Labels) {
		return nil, errors.Errorf("split artifact %s: %d images but %d labels", path, len(artifact.Images), len(artifact.Labels))
	}

	return &artifact, nil
}

// SaveArtifact writes a split artifact, creating parent directories as
// needed.
func SaveArtifact(artifact *Artifact, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create artifact directory for %s", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create split artifact %s", path)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(artifact); err != nil {
		return errors.Wrapf(err, "encode split artifact %s", path)
	}
	return nil
}
