package training

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/c-juhwan/colorful-cutout-aug/augment"
	"github.com/c-juhwan/colorful-cutout-aug/checkpoints"
	"github.com/c-juhwan/colorful-cutout-aug/config"
	"github.com/c-juhwan/colorful-cutout-aug/dataset"
	"github.com/c-juhwan/colorful-cutout-aug/nn"
	"github.com/c-juhwan/colorful-cutout-aug/tensor"
)

// Trainer runs the supervised training loop: per-epoch train and validation
// passes, best-checkpoint selection, early stopping, and final model export.
// Construction performs all configuration validation and data loading, so a
// bad run configuration fails before any compute happens.
type Trainer struct {
	cfg      config.Config
	logger   Logger
	observer Observer

	device    tensor.DeviceType
	model     *nn.Sequential
	criterion *CrossEntropyLoss
	optimizer Optimizer
	scheduler Scheduler
	strategy  augment.Strategy
	objective Objective
	selection *ObjectiveTracker

	trainLoader *DataLoader
	validLoader *DataLoader
	testLoader  *DataLoader
	numClasses  int

	augRNG *rand.Rand

	startEpoch int
	runID      string

	checkpointFile string
	finalModelFile string
}

// New builds a trainer from cfg. Every enum-valued field is parsed up front;
// an unimplemented optimizer, scheduler, augmentation type, or objective is
// rejected here, before any dataset is touched.
func New(cfg config.Config, logger Logger, observer Observer) (*Trainer, error) {
	if logger == nil {
		logger = NopLogger{}
	}
	if observer == nil {
		observer = NopObserver{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	augType, err := augment.ParseType(cfg.AugmentationType)
	if err != nil {
		return nil, err
	}
	objective, err := ParseObjective(cfg.OptimizeObjective)
	if err != nil {
		return nil, err
	}
	optKind, err := ParseOptimizerKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	schedKind, err := ParseSchedulerKind(cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	device, fellBack := tensor.ResolveDevice(cfg.Device)
	if fellBack {
		logger.Logf("device %q is not available, falling back to %s", cfg.Device, device)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	t := &Trainer{
		cfg:       cfg,
		logger:    logger,
		observer:  observer,
		device:    device,
		objective: objective,
		augRNG:    rand.New(rand.NewSource(rng.Uint64())),

		checkpointFile: checkpoints.Path(cfg.CheckpointPath, cfg.Task, cfg.TaskDataset, cfg.ModelType),
		finalModelFile: checkpoints.FinalModelPath(cfg.ModelPath, cfg.Task, cfg.TaskDataset, cfg.ModelType, string(augType)),
	}

	t.criterion, err = NewCrossEntropyLoss(cfg.LabelSmoothingEps)
	if err != nil {
		return nil, err
	}

	if cfg.Job == config.JobTesting {
		if err := t.setupTesting(rng); err != nil {
			return nil, err
		}
		return t, nil
	}

	if err := t.setupTraining(rng, augType, optKind, schedKind); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) setupTraining(rng *rand.Rand, augType augment.Type, optKind OptimizerKind, schedKind SchedulerKind) error {
	cfg := t.cfg

	trainPath := dataset.ArtifactPath(cfg.PreprocessPath, cfg.Task, cfg.TaskDataset, cfg.ModelType, "train")
	trainDS, err := dataset.Load(trainPath, cfg.ImageResizeSize, cfg.ImageCropSize, true)
	if err != nil {
		return errors.Wrap(err, "load train split")
	}
	validPath := dataset.ArtifactPath(cfg.PreprocessPath, cfg.Task, cfg.TaskDataset, cfg.ModelType, "valid")
	validDS, err := dataset.Load(validPath, cfg.ImageResizeSize, cfg.ImageCropSize, false)
	if err != nil {
		return errors.Wrap(err, "load valid split")
	}
	if trainDS.NumClasses() != validDS.NumClasses() {
		return errors.Errorf("class count mismatch: train has %d, valid has %d",
			trainDS.NumClasses(), validDS.NumClasses())
	}
	t.numClasses = trainDS.NumClasses()

	// The train loader drops a trailing partial batch; validation keeps it.
	t.trainLoader, err = NewDataLoader(trainDS, cfg.BatchSize, true, true, cfg.NumWorkers,
		rand.New(rand.NewSource(rng.Uint64())))
	if err != nil {
		return errors.Wrap(err, "train loader")
	}
	t.validLoader, err = NewDataLoader(validDS, cfg.BatchSize, false, false, cfg.NumWorkers,
		rand.New(rand.NewSource(rng.Uint64())))
	if err != nil {
		return errors.Wrap(err, "valid loader")
	}
	if t.trainLoader.Len() == 0 {
		return errors.Errorf("train split has %d samples, fewer than one batch of %d",
			trainDS.Len(), cfg.BatchSize)
	}

	t.model, err = nn.NewClassifier(3, cfg.ImageCropSize, cfg.HiddenSize, t.numClasses, rng)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	t.optimizer, err = NewOptimizer(optKind, t.model.Parameters(), cfg.LearningRate, cfg.WeightDecay)
	if err != nil {
		return err
	}
	t.scheduler, err = NewScheduler(schedKind, cfg.LearningRate, t.trainLoader.Len(), cfg.NumEpochs, cfg.EarlyStoppingPatience)
	if err != nil {
		return err
	}
	t.strategy, err = augment.New(augType, augment.Config{
		CropSize:   cfg.ImageCropSize,
		BoxSize:    cfg.AugmentationBoxSize,
		MixupAlpha: cfg.AugmentationMixupAlpha,
	})
	if err != nil {
		return err
	}
	t.selection = NewObjectiveTracker(cfg.EarlyStoppingPatience)

	if cfg.Job == config.JobResumeTraining {
		if err := t.resume(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) setupTesting(rng *rand.Rand) error {
	cfg := t.cfg

	testPath := dataset.ArtifactPath(cfg.PreprocessPath, cfg.Task, cfg.TaskDataset, cfg.ModelType, "test")
	testDS, err := dataset.Load(testPath, cfg.ImageResizeSize, cfg.ImageCropSize, false)
	if err != nil {
		return errors.Wrap(err, "load test split")
	}
	t.numClasses = testDS.NumClasses()

	t.testLoader, err = NewDataLoader(testDS, cfg.BatchSize, false, false, cfg.NumWorkers,
		rand.New(rand.NewSource(rng.Uint64())))
	if err != nil {
		return errors.Wrap(err, "test loader")
	}

	t.model, err = nn.NewClassifier(3, cfg.ImageCropSize, cfg.HiddenSize, t.numClasses, rng)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	return nil
}

// resume restores training state from the best checkpoint on disk.
func (t *Trainer) resume() error {
	ckpt, err := checkpoints.Load(t.checkpointFile)
	if err != nil {
		return errors.Wrap(err, "resume training")
	}
	if err := t.loadWeights(ckpt); err != nil {
		return errors.Wrap(err, "resume training")
	}
	if ckpt.Optimizer != nil {
		if err := t.optimizer.LoadStateDict(ckpt.Optimizer); err != nil {
			return errors.Wrap(err, "resume training: optimizer state")
		}
	}
	if ckpt.Scheduler != nil {
		if err := t.scheduler.LoadStateDict(ckpt.Scheduler); err != nil {
			return errors.Wrap(err, "resume training: scheduler state")
		}
		t.optimizer.SetLR(t.scheduler.LR())
	}
	// Resume re-runs the checkpointed epoch.
	t.startEpoch = ckpt.Epoch
	t.runID = ckpt.RunID
	t.logger.Logf("resuming from epoch %d (checkpoint %s)", t.startEpoch, t.checkpointFile)
	return nil
}

func (t *Trainer) loadWeights(ckpt *checkpoints.Checkpoint) error {
	params := t.model.Parameters()
	if len(ckpt.Weights) != len(params) {
		return errors.Errorf("checkpoint holds %d weight tensors, model has %d parameters",
			len(ckpt.Weights), len(params))
	}
	for i, w := range ckpt.Weights {
		if !shapeEqual(w.Shape, params[i].Shape) {
			return errors.Errorf("weight %s: checkpoint shape %v does not match model shape %v",
				w.Name, w.Shape, params[i].Shape)
		}
		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		if err := params[i].SetData(data); err != nil {
			return errors.Wrapf(err, "weight %s", w.Name)
		}
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Train runs the full epoch loop and exports the final model. It returns
// the best oriented objective value seen.
func (t *Trainer) Train(ctx context.Context) (float64, error) {
	if t.trainLoader == nil {
		return 0, errors.Errorf("trainer was built for job %q, not training", t.cfg.Job)
	}

	runID, err := t.observer.StartRun(RunInfo{
		Project:  t.cfg.ProjName,
		Name:     t.cfg.ExperimentName(),
		Notes:    t.cfg.Description,
		Tags:     []string{t.cfg.Task, t.cfg.TaskDataset, t.cfg.AugmentationType},
		Config:   t.cfg.TrackerConfig(),
		ResumeID: t.runID,
	})
	if err != nil {
		return 0, errors.Wrap(err, "start experiment run")
	}
	t.runID = runID

	t.logger.Logf("starting %s: %d epochs, %d train batches, %d valid batches",
		t.cfg.ExperimentName(), t.cfg.NumEpochs, t.trainLoader.Len(), t.validLoader.Len())

	for epoch := t.startEpoch; epoch < t.cfg.NumEpochs; epoch++ {
		trainLoss, trainAcc, trainF1, err := t.trainEpoch(ctx, epoch)
		if err != nil {
			return 0, errors.Wrapf(err, "train epoch %d", epoch)
		}
		validLoss, validAcc, validF1, err := t.evalPass(ctx, t.validLoader, "valid", epoch)
		if err != nil {
			return 0, errors.Wrapf(err, "validate epoch %d", epoch)
		}

		// Epoch-stepped schedules advance here; the plateau schedule
		// consumes the averaged validation loss.
		if !t.scheduler.Kind().StepsPerIteration() {
			t.scheduler.Step(validLoss)
			t.optimizer.SetLR(t.scheduler.LR())
		}

		t.logger.Logf("epoch %d: train loss %.4f acc %.4f f1 %.4f | valid loss %.4f acc %.4f f1 %.4f",
			epoch, trainLoss, trainAcc, trainF1, validLoss, validAcc, validF1)

		value := t.objective.Value(validLoss, validAcc, validF1)
		if t.selection.Observe(epoch, value) {
			if err := t.saveCheckpoint(epoch); err != nil {
				return 0, errors.Wrapf(err, "save checkpoint at epoch %d", epoch)
			}
			t.logger.Logf("epoch %d: new best %s %.4f, checkpoint saved", epoch, t.objective, value)
		} else {
			t.logger.Logf("epoch %d: no improvement, early stopping %d/%d",
				epoch, t.selection.StallCount(), t.cfg.EarlyStoppingPatience)
		}

		t.observer.EpochEnd(epoch, map[string]float64{
			"train/loss":     trainLoss,
			"train/accuracy": trainAcc,
			"train/f1":       trainF1,
			"valid/loss":     validLoss,
			"valid/accuracy": validAcc,
			"valid/f1":       validF1,
			"learning_rate":  t.optimizer.GetLR(),
		})
		t.observer.Alert(t.cfg.ExperimentName(),
			fmt.Sprintf("epoch %d finished: valid loss %.4f acc %.4f f1 %.4f", epoch, validLoss, validAcc, validF1))

		if t.selection.ShouldStop() {
			t.logger.Logf("early stopping triggered at epoch %d", epoch)
			break
		}
	}

	bestEpoch, bestValue, ok := t.selection.Best()
	if !ok {
		return 0, errors.New("no epoch completed, nothing to export")
	}
	if err := checkpoints.CopyFinal(t.checkpointFile, t.finalModelFile); err != nil {
		return 0, errors.Wrap(err, "export final model")
	}
	t.observer.FinishRun()
	t.logger.Logf("training done: best %s %.4f at epoch %d, final model at %s",
		t.objective, bestValue, bestEpoch, t.finalModelFile)
	return bestValue, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (loss, accuracy, f1 float64, err error) {
	t.model.Train()

	// The loader keeps prefetching until its context is cancelled; an early
	// error return must release the workers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics EpochMetrics
	numBatches := t.trainLoader.Len()
	var bar *ProgressBar
	if t.cfg.ShowProgress {
		bar = NewProgressBar(os.Stdout,
			fmt.Sprintf("Training - Epoch [%d/%d]", epoch, t.cfg.NumEpochs), numBatches)
	}
	iter := 0
	for loaded := range t.trainLoader.Epoch(ctx) {
		if loaded.Err != nil {
			return 0, 0, 0, loaded.Err
		}
		batch := loaded.Batch

		result, err := t.strategy.Apply(batch.Images, batch.Labels, epoch, t.augRNG)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "augment batch")
		}
		logits, err := t.model.Forward(result.Images)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "forward")
		}
		batchLoss, err := t.criterion.ForwardMixed(logits, batch.Labels, result.Loss)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "loss")
		}
		batchAcc, batchF1, err := BatchMetrics(logits, batch.Labels, t.numClasses)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "train metrics")
		}

		t.optimizer.ZeroGrad()
		grad, err := t.criterion.BackwardMixed(logits, batch.Labels, result.Loss)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "loss gradient")
		}
		if _, err := t.model.Backward(grad); err != nil {
			return 0, 0, 0, errors.Wrap(err, "backward")
		}
		if t.cfg.ClipGradNorm > 0 {
			if _, err := ClipGradNorm(t.model.Parameters(), t.cfg.ClipGradNorm); err != nil {
				return 0, 0, 0, errors.Wrap(err, "clip gradients")
			}
		}
		if err := t.optimizer.Step(); err != nil {
			return 0, 0, 0, errors.Wrap(err, "optimizer step")
		}
		if t.scheduler.Kind().StepsPerIteration() {
			t.scheduler.Step(0)
			t.optimizer.SetLR(t.scheduler.LR())
		}

		metrics.Append(batchLoss, batchAcc, batchF1)
		if bar != nil {
			bar.Update(iter+1, batchLoss, batchAcc, batchF1)
		}
		if iter%t.cfg.LogFreq == 0 || iter == numBatches-1 {
			t.logger.Logf("epoch %d iter %d/%d: loss %.4f acc %.4f f1 %.4f lr %.6f",
				epoch, iter, numBatches, batchLoss, batchAcc, batchF1, t.optimizer.GetLR())
		}
		t.observer.LogScalar("train/learning_rate", t.optimizer.GetLR(), epoch*numBatches+iter)
		iter++
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, 0, err
	}
	if metrics.Batches() == 0 {
		return 0, 0, 0, errors.New("train epoch produced no batches")
	}

	loss, accuracy, f1 = metrics.Averages()
	if bar != nil {
		bar.Finish(loss, accuracy, f1)
	}
	return loss, accuracy, f1, nil
}

// evalPass runs a forward-only pass over a loader and returns averaged
// metrics. Used for both validation and test evaluation.
func (t *Trainer) evalPass(ctx context.Context, loader *DataLoader, phase string, epoch int) (loss, accuracy, f1 float64, err error) {
	t.model.Eval()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics EpochMetrics
	numBatches := loader.Len()
	var bar *ProgressBar
	if t.cfg.ShowProgress {
		bar = NewProgressBar(os.Stdout,
			fmt.Sprintf("Evaluating %s - Epoch [%d/%d]", phase, epoch, t.cfg.NumEpochs), numBatches)
	}
	iter := 0
	for loaded := range loader.Epoch(ctx) {
		if loaded.Err != nil {
			return 0, 0, 0, loaded.Err
		}
		batch := loaded.Batch

		logits, err := t.model.Forward(batch.Images)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "forward")
		}
		batchLoss, err := t.criterion.Forward(logits, batch.Labels)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "loss")
		}
		batchAcc, batchF1, err := BatchMetrics(logits, batch.Labels, t.numClasses)
		if err != nil {
			return 0, 0, 0, errors.Wrap(err, "eval metrics")
		}
		metrics.Append(batchLoss, batchAcc, batchF1)
		if bar != nil {
			bar.Update(iter+1, batchLoss, batchAcc, batchF1)
		}
		if iter%t.cfg.LogFreq == 0 || iter == numBatches-1 {
			t.logger.Logf("%s epoch %d iter %d/%d: loss %.4f acc %.4f f1 %.4f",
				phase, epoch, iter, numBatches, batchLoss, batchAcc, batchF1)
		}
		iter++
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, 0, err
	}
	if metrics.Batches() == 0 {
		return 0, 0, 0, errors.New("eval pass produced no batches")
	}

	loss, accuracy, f1 = metrics.Averages()
	if bar != nil {
		bar.Finish(loss, accuracy, f1)
	}
	return loss, accuracy, f1, nil
}

func (t *Trainer) saveCheckpoint(epoch int) error {
	params := t.model.Parameters()
	weights := make([]checkpoints.WeightTensor, len(params))
	for i, p := range params {
		data, err := p.Float32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		buf := make([]float32, len(data))
		copy(buf, data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		weights[i] = checkpoints.WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: shape,
			Data:  buf,
		}
	}

	ckpt := &checkpoints.Checkpoint{
		Epoch:     epoch,
		Weights:   weights,
		Optimizer: t.optimizer.StateDict(),
		Scheduler: t.scheduler.StateDict(),
		RunID:     t.runID,
		Metadata: checkpoints.Metadata{
			Description: t.cfg.ExperimentName(),
		},
	}
	return checkpoints.Save(ckpt, t.checkpointFile)
}

// Test evaluates the exported final model on the test split and reports
// its metrics.
func (t *Trainer) Test(ctx context.Context) (loss, accuracy, f1 float64, err error) {
	if t.testLoader == nil {
		return 0, 0, 0, errors.Errorf("trainer was built for job %q, not testing", t.cfg.Job)
	}

	ckpt, err := checkpoints.Load(t.finalModelFile)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "load final model")
	}
	if err := t.loadWeights(ckpt); err != nil {
		return 0, 0, 0, errors.Wrap(err, "restore final model")
	}
	t.runID = ckpt.RunID

	runID, err := t.observer.StartRun(RunInfo{
		Project:  t.cfg.ProjName,
		Name:     t.cfg.ExperimentName(),
		Notes:    t.cfg.Description,
		Tags:     []string{t.cfg.Task, t.cfg.TaskDataset, t.cfg.AugmentationType, "test"},
		Config:   t.cfg.TrackerConfig(),
		ResumeID: t.runID,
	})
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "start experiment run")
	}
	t.runID = runID

	loss, accuracy, f1, err = t.evalPass(ctx, t.testLoader, "test", ckpt.Epoch)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "test pass")
	}

	t.observer.EpochEnd(ckpt.Epoch, map[string]float64{
		"test/loss":     loss,
		"test/accuracy": accuracy,
		"test/f1":       f1,
	})
	t.observer.FinishRun()
	t.logger.Logf("test done: loss %.4f acc %.4f f1 %.4f (model from epoch %d)",
		loss, accuracy, f1, ckpt.Epoch)
	return loss, accuracy, f1, nil
}
