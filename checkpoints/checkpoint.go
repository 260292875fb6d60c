// Package checkpoints persists and restores training state: model weights,
// optimizer and scheduler state, and the epoch counter. A single checkpoint
// file represents "best so far" and is overwritten on each improvement; at
// training end it is copied to the final model artifact.
package checkpoints

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// WeightTensor is one model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// StateTensor is one optimizer state slot (momentum, first/second moment).
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// OptimizerState captures optimizer-specific state for resume.
type OptimizerState struct {
	Kind      string        `json:"kind"`
	LR        float64       `json:"lr"`
	StepCount int           `json:"step_count"`
	Slots     []StateTensor `json:"slots,omitempty"`
}

// SchedulerState captures learning-rate scheduler state for resume. Fields
// unused by a given scheduler kind stay at their zero values.
type SchedulerState struct {
	Kind        string  `json:"kind"`
	Tick        int     `json:"tick"`
	TCur        int     `json:"t_cur"`
	TI          int     `json:"t_i"`
	BestMetric  float64 `json:"best_metric"`
	BadEpochs   int     `json:"bad_epochs"`
	CurrentLR   float64 `json:"current_lr"`
	Initialized bool    `json:"initialized"`
}

// Metadata describes the checkpoint file itself.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete resumable training state.
type Checkpoint struct {
	Epoch     int             `json:"epoch"`
	Weights   []WeightTensor  `json:"weights"`
	Optimizer *OptimizerState `json:"optimizer_state,omitempty"`
	Scheduler *SchedulerState `json:"scheduler_state,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

// Path returns the best-checkpoint location:
// {root}/{task}/{dataset}/{modelType}/checkpoint.json
func Path(root, task, dataset, modelType string) string {
	return filepath.Join(root, task, dataset, modelType, "checkpoint.json")
}

// FinalModelPath returns the final model artifact location, named by
// augmentation type:
// {root}/{task}/{dataset}/{modelType}/final_model_{augType}.json
func FinalModelPath(root, task, dataset, modelType, augType string) string {
	return filepath.Join(root, task, dataset, modelType, "final_model_"+augType+".json")
}

// Save writes the checkpoint as JSON, creating parent directories as needed.
// The write overwrites any previous checkpoint at path.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "colorful-cutout-aug"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create checkpoint directory for %s", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create checkpoint file %s", path)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrapf(err, "encode checkpoint %s", path)
	}
	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint file %s", path)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	return &checkpoint, nil
}

// CopyFinal copies the best checkpoint to the final model artifact path,
// creating parent directories as needed.
func CopyFinal(checkpointPath, finalPath string) error {
	src, err := os.Open(checkpointPath)
	if err != nil {
		return errors.Wrapf(err, "open best checkpoint %s", checkpointPath)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return errors.Wrapf(err, "create final model directory for %s", finalPath)
	}

	dst, err := os.Create(finalPath)
	if err != nil {
		return errors.Wrapf(err, "create final model file %s", finalPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "copy checkpoint to final model %s", finalPath)
	}
	return nil
}
