// Command train runs image-classification experiments: training from
// scratch, resuming from a checkpoint, or evaluating an exported model on
// the test split.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-juhwan/colorful-cutout-aug/config"
	"github.com/c-juhwan/colorful-cutout-aug/training"
)

func parseFlags() config.Config {
	cfg := config.Default()

	flag.StringVar(&cfg.Job, "job", cfg.Job, "job to run: training, resume_training, or testing")
	flag.StringVar(&cfg.ProjName, "proj_name", cfg.ProjName, "project name for experiment tracking")
	flag.StringVar(&cfg.Task, "task", cfg.Task, "task name")
	flag.StringVar(&cfg.TaskDataset, "task_dataset", cfg.TaskDataset, "dataset name")
	flag.StringVar(&cfg.ModelType, "model_type", cfg.ModelType, "model type name")
	flag.StringVar(&cfg.Description, "description", cfg.Description, "free-form run description")

	flag.StringVar(&cfg.PreprocessPath, "preprocess_path", cfg.PreprocessPath, "root of preprocessed split artifacts")
	flag.StringVar(&cfg.CheckpointPath, "checkpoint_path", cfg.CheckpointPath, "root for best checkpoints")
	flag.StringVar(&cfg.ModelPath, "model_path", cfg.ModelPath, "root for final model artifacts")

	flag.StringVar(&cfg.Device, "device", cfg.Device, "compute device")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")

	flag.IntVar(&cfg.ImageResizeSize, "image_resize_size", cfg.ImageResizeSize, "resize side length before cropping")
	flag.IntVar(&cfg.ImageCropSize, "image_crop_size", cfg.ImageCropSize, "crop side length fed to the model")
	flag.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "batch size")
	flag.IntVar(&cfg.NumWorkers, "num_workers", cfg.NumWorkers, "data loading workers per split")
	flag.IntVar(&cfg.HiddenSize, "hidden_size", cfg.HiddenSize, "classifier hidden layer width")

	flag.Float64Var(&cfg.LearningRate, "learning_rate", cfg.LearningRate, "initial learning rate")
	flag.Float64Var(&cfg.WeightDecay, "weight_decay", cfg.WeightDecay, "weight decay coefficient")
	flag.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "optimizer: SGD or AdamW")
	flag.StringVar(&cfg.Scheduler, "scheduler", cfg.Scheduler, "learning rate scheduler")
	flag.IntVar(&cfg.NumEpochs, "num_epochs", cfg.NumEpochs, "number of training epochs")
	flag.IntVar(&cfg.EarlyStoppingPatience, "early_stopping_patience", cfg.EarlyStoppingPatience, "epochs without improvement before stopping")
	flag.Float64Var(&cfg.LabelSmoothingEps, "label_smoothing_eps", cfg.LabelSmoothingEps, "label smoothing epsilon")
	flag.Float64Var(&cfg.ClipGradNorm, "clip_grad_norm", cfg.ClipGradNorm, "max global gradient norm, non-positive disables")

	flag.StringVar(&cfg.AugmentationType, "augmentation_type", cfg.AugmentationType, "augmentation: none, cutout, color_cutout_nocur, color_cutout_cur, mixup, cutmix")
	flag.IntVar(&cfg.AugmentationBoxSize, "augmentation_box_size", cfg.AugmentationBoxSize, "side length of the cutout/cutmix box")
	flag.Float64Var(&cfg.AugmentationMixupAlpha, "augmentation_mixup_alpha", cfg.AugmentationMixupAlpha, "Beta concentration for mixup/cutmix")

	flag.StringVar(&cfg.OptimizeObjective, "optimize_objective", cfg.OptimizeObjective, "model selection objective: loss, accuracy, or f1")
	flag.IntVar(&cfg.LogFreq, "log_freq", cfg.LogFreq, "iterations between training log lines")
	flag.BoolVar(&cfg.ShowProgress, "show_progress", cfg.ShowProgress, "render per-epoch progress bars")
	flag.StringVar(&cfg.TrackerURL, "tracker_url", cfg.TrackerURL, "experiment tracker base URL, empty disables tracking")

	flag.Parse()
	return cfg
}

func run() error {
	cfg := parseFlags()
	logger := training.NewStdLogger()

	var observer training.Observer = training.NopObserver{}
	if cfg.TrackerURL != "" {
		observer = training.NewHTTPObserver(cfg.TrackerURL, logger)
	}

	trainer, err := training.New(cfg, logger, observer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Job {
	case config.JobTraining, config.JobResumeTraining:
		_, err = trainer.Train(ctx)
		return err
	case config.JobTesting:
		_, _, _, err = trainer.Test(ctx)
		return err
	default:
		return fmt.Errorf("unknown job %q", cfg.Job)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}
