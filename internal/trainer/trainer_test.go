package trainer_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceforge/sovits-service/internal/speakers"
	"github.com/voiceforge/sovits-service/internal/trainer"
)

type stageCall struct {
	workingDir string
	name       string
	args       []string
}

type fakeRunner struct {
	calls []stageCall
	err   error
}

func (f *fakeRunner) Run(_ context.Context, workingDir, name string, args []string) ([]byte, error) {
	f.calls = append(f.calls, stageCall{workingDir: workingDir, name: name, args: args})

	if f.err != nil {
		return []byte("stage output"), f.err
	}

	return nil, nil
}

type fakeStore struct {
	speaker      *speakers.Speaker
	getErr       error
	markedGPT    string
	markedSoVITS string
	markedEpochs int
}

func (f *fakeStore) Get(_ string) (*speakers.Speaker, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	return f.speaker, nil
}

func (f *fakeStore) MarkTrained(_, gptWeightsPath, sovitsWeightsPath string, epochs int) error {
	f.markedGPT = gptWeightsPath
	f.markedSoVITS = sovitsWeightsPath
	f.markedEpochs = epochs

	return nil
}

func speakerWithClips(name string, count int) *speakers.Speaker {
	clips := make([]speakers.ReferenceAudio, count)
	for i := range clips {
		clips[i] = speakers.ReferenceAudio{
			DurationSeconds: 6.0,
			SampleRate:      32000,
			Channels:        1,
		}
	}

	return &speakers.Speaker{Name: name, ReferenceAudios: clips}
}

func newTestTrainer(
	t *testing.T,
	store trainer.SpeakerStore,
	runner trainer.CommandRunner,
) (*trainer.Trainer, string) {
	t.Helper()

	base := t.TempDir()

	log, err := logger.New(base, "trainer-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	cfg := trainer.Config{
		SoVITSDir:        filepath.Join(base, "GPT-SoVITS-main"),
		PythonBin:        "python",
		TrainingDataDir:  filepath.Join(base, "training_data"),
		TrainedModelsDir: filepath.Join(base, "trained_models"),
		Epochs:           15,
		BatchSize:        4,
	}

	return trainer.New(cfg, store, runner, log), base
}

func TestTrain_RunsBothStages(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{calls: nil, err: nil}
	store := &fakeStore{
		speaker:      speakerWithClips("alice", 4),
		getErr:       nil,
		markedGPT:    "",
		markedSoVITS: "",
		markedEpochs: 0,
	}

	tr, base := newTestTrainer(t, store, runner)

	err := tr.Train(context.Background(), "alice", trainer.Options{Epochs: 0, BatchSize: 0})
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, filepath.Join(base, "GPT-SoVITS-main"), runner.calls[0].workingDir)
	assert.Equal(t, "python", runner.calls[0].name)
	assert.Equal(t, "GPT_SoVITS/s1_train.py", runner.calls[0].args[0])
	assert.Contains(t, runner.calls[0].args, "15")
	assert.Equal(t, "GPT_SoVITS/s2_train.py", runner.calls[1].args[0])

	// 2/3 of 15 epochs is 10 for the second stage.
	assert.Contains(t, runner.calls[1].args, "10")

	assert.NotEmpty(t, store.markedGPT)
	assert.NotEmpty(t, store.markedSoVITS)
	assert.Equal(t, 15, store.markedEpochs)

	progress := tr.Progress("alice")
	assert.Equal(t, trainer.StatusCompleted, progress.Status)
	require.NotNil(t, progress.CompletedAt)
}

func TestTrain_WritesModelInfo(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:      speakerWithClips("bob", 3),
		getErr:       nil,
		markedGPT:    "",
		markedSoVITS: "",
		markedEpochs: 0,
	}

	tr, base := newTestTrainer(t, store, &fakeRunner{calls: nil, err: nil})

	require.NoError(t, tr.Train(context.Background(), "bob", trainer.Options{Epochs: 0, BatchSize: 0}))

	data, err := os.ReadFile(filepath.Join(base, "trained_models", "bob", "model_info.json"))
	require.NoError(t, err)

	var info trainer.ModelInfo
	require.NoError(t, json.Unmarshal(data, &info))

	assert.Equal(t, "bob", info.Speaker)
	assert.Equal(t, 15, info.GPTEpochs)
	assert.Equal(t, 10, info.SoVITSEpochs)
	assert.Equal(t, 3, info.ClipCount)
	assert.False(t, info.TrainedAt.IsZero())
}

func TestTrain_SoVITSEpochFloor(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{calls: nil, err: nil}
	store := &fakeStore{
		speaker:      speakerWithClips("carol", 3),
		getErr:       nil,
		markedGPT:    "",
		markedSoVITS: "",
		markedEpochs: 0,
	}

	tr, _ := newTestTrainer(t, store, runner)

	// 2/3 of 6 epochs would be 4; the second stage floors at 8.
	err := tr.Train(context.Background(), "carol", trainer.Options{Epochs: 6, BatchSize: 0})
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[0].args, "6")
	assert.Contains(t, runner.calls[1].args, "8")
	assert.Equal(t, 6, store.markedEpochs)
}

func TestTrain_CorpusTooSmall(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:      speakerWithClips("dana", 2),
		getErr:       nil,
		markedGPT:    "",
		markedSoVITS: "",
		markedEpochs: 0,
	}

	tr, _ := newTestTrainer(t, store, &fakeRunner{calls: nil, err: nil})

	err := tr.Train(context.Background(), "dana", trainer.Options{Epochs: 0, BatchSize: 0})
	require.ErrorIs(t, err, trainer.ErrCorpusTooSmall)

	progress := tr.Progress("dana")
	assert.Equal(t, trainer.StatusNotStarted, progress.Status)
}

func TestTrain_StageFailure(t *testing.T) {
	t.Parallel()

	stageErr := errors.New("CUDA out of memory")
	store := &fakeStore{
		speaker:      speakerWithClips("erin", 5),
		getErr:       nil,
		markedGPT:    "",
		markedSoVITS: "",
		markedEpochs: 0,
	}

	tr, _ := newTestTrainer(t, store, &fakeRunner{calls: nil, err: stageErr})

	err := tr.Train(context.Background(), "erin", trainer.Options{Epochs: 0, BatchSize: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpt stage")
	assert.Contains(t, err.Error(), "stage output")

	progress := tr.Progress("erin")
	assert.Equal(t, trainer.StatusFailed, progress.Status)
	assert.Contains(t, progress.Error, "CUDA out of memory")

	assert.Empty(t, store.markedGPT)
}
