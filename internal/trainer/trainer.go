// Package trainer drives per-speaker GPT-SoVITS fine-tuning. Training is a
// two-stage subprocess pipeline (GPT stage, then SoVITS stage) run against a
// speaker's corpus directory, with progress tracked per speaker.
package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/voiceforge/sovits-service/internal/speakers"
)

// Status values reported for a speaker's training run.
const (
	StatusNotStarted = "not_started"
	StatusTraining   = "training"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Stage labels within a running job.
const (
	StagePreparing      = "preparing"
	StageTrainingGPT    = "training_gpt"
	StageTrainingSoVITS = "training_sovits"
	StageFinalizing     = "finalizing"
)

// Training entrypoints inside the GPT-SoVITS checkout.
const (
	gptStageScript    = "GPT_SoVITS/s1_train.py"
	sovitsStageScript = "GPT_SoVITS/s2_train.py"
)

// The SoVITS stage converges faster than the GPT stage; it runs at two
// thirds of the GPT epoch count, floored at 8.
const minSoVITSEpochs = 8

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Static errors.
var (
	ErrCorpusTooSmall  = errors.New("speaker corpus is too small to train")
	ErrAlreadyTraining = errors.New("training is already running for this speaker")
)

// CommandRunner abstracts subprocess execution so training can be tested
// without a GPT-SoVITS checkout.
type CommandRunner interface {
	Run(ctx context.Context, workingDir, name string, args []string) ([]byte, error)
}

// SpeakerStore is the slice of the speaker repository training needs.
type SpeakerStore interface {
	Get(name string) (*speakers.Speaker, error)
	MarkTrained(name, gptWeightsPath, sovitsWeightsPath string, epochs int) error
}

// Progress is a snapshot of one speaker's training state.
type Progress struct {
	Speaker     string     `json:"speaker"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ModelInfo is written next to the trained checkpoints as model_info.json.
type ModelInfo struct {
	Speaker           string    `json:"speaker"`
	GPTWeightsPath    string    `json:"gpt_weights_path"`
	SoVITSWeightsPath string    `json:"sovits_weights_path"`
	GPTEpochs         int       `json:"gpt_epochs"`
	SoVITSEpochs      int       `json:"sovits_epochs"`
	ClipCount         int       `json:"clip_count"`
	TrainedAt         time.Time `json:"trained_at"`
}

// Options override the configured hyperparameters for one run. Zero values
// fall back to the configured defaults.
type Options struct {
	Epochs    int
	BatchSize int
}

// Config carries the paths and hyperparameters the trainer needs.
type Config struct {
	SoVITSDir        string
	PythonBin        string
	TrainingDataDir  string
	TrainedModelsDir string
	Epochs           int
	BatchSize        int
}

// Trainer runs fine-tuning jobs and tracks their progress.
type Trainer struct {
	cfg    Config
	store  SpeakerStore
	runner CommandRunner
	log    *logger.Logger

	mu   sync.Mutex
	jobs map[string]*Progress
}

// New creates a trainer.
func New(cfg Config, store SpeakerStore, runner CommandRunner, log *logger.Logger) *Trainer {
	return &Trainer{
		cfg:    cfg,
		store:  store,
		runner: runner,
		log:    log,
		mu:     sync.Mutex{},
		jobs:   make(map[string]*Progress),
	}
}

// Progress returns the current training state for a speaker.
func (t *Trainer) Progress(speaker string) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[speaker]
	if !ok {
		return Progress{
			Speaker:     speaker,
			Status:      StatusNotStarted,
			Stage:       "",
			Error:       "",
			StartedAt:   nil,
			CompletedAt: nil,
		}
	}

	return *job
}

// Train runs the full two-stage pipeline for a speaker and records the
// resulting checkpoints. Only one job per speaker may run at a time.
func (t *Trainer) Train(ctx context.Context, speaker string, opts Options) error {
	speakerRecord, err := t.store.Get(speaker)
	if err != nil {
		return err
	}

	clipCount := len(speakerRecord.ReferenceAudios)
	if clipCount < speakers.MinCorpusSize {
		return fmt.Errorf(
			"%w: speaker '%s' has %d clips, need at least %d",
			ErrCorpusTooSmall, speaker, clipCount, speakers.MinCorpusSize,
		)
	}

	startErr := t.begin(speaker)
	if startErr != nil {
		return startErr
	}

	trainErr := t.run(ctx, speaker, clipCount, opts)
	if trainErr != nil {
		t.finish(speaker, StatusFailed, trainErr.Error())
		t.log.Error("Training failed for speaker '%s': %v", speaker, trainErr)

		return trainErr
	}

	t.finish(speaker, StatusCompleted, "")
	t.log.Info("Training completed for speaker '%s'", speaker)

	return nil
}

func (t *Trainer) run(ctx context.Context, speaker string, clipCount int, opts Options) error {
	corpusDir := filepath.Join(t.cfg.TrainingDataDir, speaker)
	modelDir := filepath.Join(t.cfg.TrainedModelsDir, speaker)

	dirErr := os.MkdirAll(modelDir, dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create model directory: %w", dirErr)
	}

	gptEpochs := orInt(opts.Epochs, t.cfg.Epochs)
	batchSize := orInt(opts.BatchSize, t.cfg.BatchSize)

	gptWeights := filepath.Join(modelDir, speaker+"-gpt.ckpt")
	sovitsWeights := filepath.Join(modelDir, speaker+"-sovits.pth")
	sovitsEpochs := sovitsEpochCount(gptEpochs)

	t.setStage(speaker, StageTrainingGPT)

	gptErr := t.runStage(ctx, gptStageScript, speaker, corpusDir, gptWeights, gptEpochs, batchSize)
	if gptErr != nil {
		return fmt.Errorf("gpt stage: %w", gptErr)
	}

	t.setStage(speaker, StageTrainingSoVITS)

	sovitsErr := t.runStage(
		ctx, sovitsStageScript, speaker, corpusDir, sovitsWeights, sovitsEpochs, batchSize,
	)
	if sovitsErr != nil {
		return fmt.Errorf("sovits stage: %w", sovitsErr)
	}

	t.setStage(speaker, StageFinalizing)

	info := ModelInfo{
		Speaker:           speaker,
		GPTWeightsPath:    gptWeights,
		SoVITSWeightsPath: sovitsWeights,
		GPTEpochs:         gptEpochs,
		SoVITSEpochs:      sovitsEpochs,
		ClipCount:         clipCount,
		TrainedAt:         time.Now().UTC(),
	}

	writeErr := writeModelInfo(filepath.Join(modelDir, "model_info.json"), info)
	if writeErr != nil {
		return writeErr
	}

	markErr := t.store.MarkTrained(speaker, gptWeights, sovitsWeights, gptEpochs)
	if markErr != nil {
		return markErr
	}

	return nil
}

func (t *Trainer) runStage(
	ctx context.Context,
	script string,
	speaker string,
	corpusDir string,
	outputPath string,
	epochs int,
	batchSize int,
) error {
	args := []string{
		script,
		"--speaker", speaker,
		"--corpus_dir", corpusDir,
		"--output", outputPath,
		"--epochs", strconv.Itoa(epochs),
		"--batch_size", strconv.Itoa(batchSize),
	}

	output, err := t.runner.Run(ctx, t.cfg.SoVITSDir, t.cfg.PythonBin, args)
	if err != nil {
		return fmt.Errorf("%s failed: %w - output: %s", script, err, string(output))
	}

	return nil
}

func (t *Trainer) begin(speaker string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[speaker]
	if ok && job.Status == StatusTraining {
		return fmt.Errorf("%w: '%s'", ErrAlreadyTraining, speaker)
	}

	now := time.Now().UTC()
	t.jobs[speaker] = &Progress{
		Speaker:     speaker,
		Status:      StatusTraining,
		Stage:       StagePreparing,
		Error:       "",
		StartedAt:   &now,
		CompletedAt: nil,
	}

	return nil
}

func (t *Trainer) setStage(speaker, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[speaker]; ok {
		job.Stage = stage
	}
}

func (t *Trainer) finish(speaker, status, errMessage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[speaker]
	if !ok {
		return
	}

	now := time.Now().UTC()
	job.Status = status
	job.Stage = ""
	job.Error = errMessage
	job.CompletedAt = &now
}

func orInt(value, fallback int) int {
	if value > 0 {
		return value
	}

	return fallback
}

func sovitsEpochCount(gptEpochs int) int {
	epochs := 2 * gptEpochs / 3
	if epochs < minSoVITSEpochs {
		return minSoVITSEpochs
	}

	return epochs
}

func writeModelInfo(path string, info ModelInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model info: %w", err)
	}

	writeErr := os.WriteFile(path, data, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write model info: %w", writeErr)
	}

	return nil
}
