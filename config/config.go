// Package config holds the configuration surface consumed by the training
// loop and its collaborators.
package config

import (
	"strings"

	"github.com/pkg/errors"
)

// Job selects what the process does.
const (
	JobTraining       = "training"
	JobResumeTraining = "resume_training"
	JobTesting        = "testing"
)

// Config is the full run configuration. Enum-valued fields (job, optimizer,
// scheduler, augmentation type, objective) are validated before any compute
// starts; an invalid value is a fatal configuration error.
type Config struct {
	Job string

	// Experiment identity.
	ProjName    string
	Task        string
	TaskDataset string
	ModelType   string
	Description string

	// Artifact roots.
	PreprocessPath string
	CheckpointPath string
	ModelPath      string

	// Compute.
	Device string
	Seed   uint64

	// Data.
	ImageResizeSize int
	ImageCropSize   int
	BatchSize       int
	NumWorkers      int

	// Model.
	HiddenSize int

	// Optimization.
	LearningRate          float64
	WeightDecay           float64
	Optimizer             string
	Scheduler             string
	NumEpochs             int
	EarlyStoppingPatience int
	LabelSmoothingEps     float64
	ClipGradNorm          float64

	// Augmentation.
	AugmentationType       string
	AugmentationBoxSize    int
	AugmentationMixupAlpha float64

	// Selection and logging.
	OptimizeObjective string
	LogFreq           int
	ShowProgress      bool

	// Experiment tracker endpoint. Empty disables remote tracking.
	TrackerURL string
}

// Default returns the baseline configuration matching the reference
// experiment setup.
func Default() Config {
	return Config{
		Job:                    JobTraining,
		ProjName:               "colorful-cutout-aug",
		Task:                   "classification",
		TaskDataset:            "cifar10",
		ModelType:              "resnet",
		PreprocessPath:         "preprocessed",
		CheckpointPath:         "checkpoints",
		ModelPath:              "models",
		Device:                 "cpu",
		Seed:                   42,
		ImageResizeSize:        256,
		ImageCropSize:          224,
		BatchSize:              32,
		NumWorkers:             2,
		HiddenSize:             128,
		LearningRate:           5e-4,
		WeightDecay:            1e-4,
		Optimizer:              "AdamW",
		Scheduler:              "None",
		NumEpochs:              100,
		EarlyStoppingPatience:  10,
		LabelSmoothingEps:      0.05,
		ClipGradNorm:           5,
		AugmentationType:       "none",
		AugmentationBoxSize:    32,
		AugmentationMixupAlpha: 0.2,
		OptimizeObjective:      "accuracy",
		LogFreq:                100,
		ShowProgress:           true,
	}
}

// Validate performs the structural checks that do not depend on other
// packages. Enum fields owned by the training loop (optimizer, scheduler,
// augmentation, objective) are validated there, still before any compute.
func (c *Config) Validate() error {
	switch c.Job {
	case JobTraining, JobResumeTraining, JobTesting:
	default:
		return errors.Errorf("unknown job %q, expected one of training, resume_training, testing", c.Job)
	}

	if c.ImageResizeSize <= 0 || c.ImageCropSize <= 0 {
		return errors.Errorf("image sizes must be positive, got resize %d crop %d", c.ImageResizeSize, c.ImageCropSize)
	}
	if c.ImageCropSize > c.ImageResizeSize {
		return errors.Errorf("crop size %d exceeds resize size %d", c.ImageCropSize, c.ImageResizeSize)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return errors.Errorf("epoch count must be positive, got %d", c.NumEpochs)
	}
	if c.EarlyStoppingPatience <= 0 {
		return errors.Errorf("early stopping patience must be positive, got %d", c.EarlyStoppingPatience)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.LabelSmoothingEps < 0 || c.LabelSmoothingEps >= 1 {
		return errors.Errorf("label smoothing must be in [0, 1), got %g", c.LabelSmoothingEps)
	}
	if c.LogFreq <= 0 {
		return errors.Errorf("log frequency must be positive, got %d", c.LogFreq)
	}

	return nil
}

// ExperimentName derives the tracker run name from the experiment identity,
// e.g. "CLASSIFICATION - CIFAR10 / RESNET / MIXUP".
func (c *Config) ExperimentName() string {
	return strings.ToUpper(c.Task) + " - " +
		strings.ToUpper(c.TaskDataset) + " / " +
		strings.ToUpper(c.ModelType) + " / " +
		strings.ToUpper(c.AugmentationType)
}

// TrackerConfig flattens the fields worth recording on the experiment
// tracker run.
func (c *Config) TrackerConfig() map[string]interface{} {
	return map[string]interface{}{
		"job":                      c.Job,
		"task":                     c.Task,
		"task_dataset":             c.TaskDataset,
		"model_type":               c.ModelType,
		"image_resize_size":        c.ImageResizeSize,
		"image_crop_size":          c.ImageCropSize,
		"batch_size":               c.BatchSize,
		"num_workers":              c.NumWorkers,
		"learning_rate":            c.LearningRate,
		"weight_decay":             c.WeightDecay,
		"optimizer":                c.Optimizer,
		"scheduler":                c.Scheduler,
		"num_epochs":               c.NumEpochs,
		"early_stopping_patience":  c.EarlyStoppingPatience,
		"label_smoothing_eps":      c.LabelSmoothingEps,
		"clip_grad_norm":           c.ClipGradNorm,
		"augmentation_type":        c.AugmentationType,
		"augmentation_box_size":    c.AugmentationBoxSize,
		"augmentation_mixup_alpha": c.AugmentationMixupAlpha,
		"optimize_objective":       c.OptimizeObjective,
		"seed":                     c.Seed,
	}
}
