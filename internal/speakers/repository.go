package speakers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/voiceforge/sovits-service/internal/audio"
	"github.com/voiceforge/sovits-service/internal/sovits"
)

// MinCorpusSize is the smallest corpus GPT-SoVITS training accepts.
const MinCorpusSize = 3

// Auxiliary reference counts used during synthesis. Trained voices need
// fewer fusion clips than the zero-shot path.
const (
	auxRefsTrained   = 3
	auxRefsUntrained = 5
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Static errors.
var (
	ErrSpeakerNotFound = errors.New("speaker not found")
	ErrSpeakerNameEmpty = errors.New("speaker name cannot be empty")
)

// Repository persists speakers and their corpus clips in SQLite and owns the
// on-disk corpus layout.
type Repository struct {
	db               *gorm.DB
	trainingDataDir  string
	trainedModelsDir string
	log              *logger.Logger
}

// Open opens (or creates) the speakers database at path and migrates the
// schema.
func Open(path string) (*gorm.DB, error) {
	dirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", dirErr)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open speakers database: %w", err)
	}

	migrateErr := db.AutoMigrate(&Speaker{}, &ReferenceAudio{})
	if migrateErr != nil {
		return nil, fmt.Errorf("failed to migrate speakers schema: %w", migrateErr)
	}

	return db, nil
}

// NewRepository creates a repository over an opened database.
func NewRepository(
	db *gorm.DB,
	trainingDataDir string,
	trainedModelsDir string,
	log *logger.Logger,
) *Repository {
	return &Repository{
		db:               db,
		trainingDataDir:  trainingDataDir,
		trainedModelsDir: trainedModelsDir,
		log:              log,
	}
}

// IngestReference stores one uploaded clip in the speaker's corpus: the WAV
// header is probed, the bytes land in the speaker's corpus directory under a
// unique name, and the metadata is recorded. The speaker row is created on
// first upload.
func (r *Repository) IngestReference(
	speakerName string,
	originalName string,
	data []byte,
) (*ReferenceAudio, error) {
	if speakerName == "" {
		return nil, ErrSpeakerNameEmpty
	}

	info, probeErr := audio.ProbeBytes(data)
	if probeErr != nil {
		return nil, fmt.Errorf("rejecting '%s': %w", originalName, probeErr)
	}

	speaker, err := r.getOrCreate(speakerName)
	if err != nil {
		return nil, err
	}

	speakerDir := filepath.Join(r.trainingDataDir, speakerName)

	dirErr := os.MkdirAll(speakerDir, dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", dirErr)
	}

	clipPath := filepath.Join(speakerDir, uuid.NewString()+".wav")

	writeErr := os.WriteFile(clipPath, data, filePermissions)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to store reference clip: %w", writeErr)
	}

	ref := &ReferenceAudio{
		SpeakerID:       speaker.ID,
		Path:            clipPath,
		OriginalName:    originalName,
		DurationSeconds: info.Seconds(),
		SampleRate:      info.SampleRate,
		Channels:        info.Channels,
	}

	createErr := r.db.Create(ref).Error
	if createErr != nil {
		return nil, fmt.Errorf("failed to record reference clip: %w", createErr)
	}

	r.log.Info(
		"Stored reference clip for speaker '%s': %.1fs @ %d Hz",
		speakerName, info.Seconds(), info.SampleRate,
	)

	return ref, nil
}

// Get returns a speaker with its corpus clips preloaded.
func (r *Repository) Get(name string) (*Speaker, error) {
	var speaker Speaker

	err := r.db.Preload("ReferenceAudios").Where("name = ?", name).First(&speaker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrSpeakerNotFound, name)
		}

		return nil, fmt.Errorf("failed to load speaker '%s': %w", name, err)
	}

	return &speaker, nil
}

// List returns a summary of every known speaker.
func (r *Repository) List() ([]Summary, error) {
	var allSpeakers []Speaker

	err := r.db.Preload("ReferenceAudios").Order("name").Find(&allSpeakers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}

	summaries := make([]Summary, 0, len(allSpeakers))
	for _, speaker := range allSpeakers {
		summaries = append(summaries, Summary{
			Name:       speaker.Name,
			AudioCount: len(speaker.ReferenceAudios),
			Trained:    speaker.Trained,
			CreatedAt:  speaker.CreatedAt,
			TrainedAt:  speaker.TrainedAt,
		})
	}

	return summaries, nil
}

// MarkTrained records the checkpoint paths produced by a completed training
// run.
func (r *Repository) MarkTrained(name, gptWeightsPath, sovitsWeightsPath string, epochs int) error {
	speaker, err := r.Get(name)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	speaker.Trained = true
	speaker.GPTWeightsPath = gptWeightsPath
	speaker.SoVITSWeightsPath = sovitsWeightsPath
	speaker.TrainingEpochs = epochs
	speaker.TrainedAt = &now

	saveErr := r.db.Save(speaker).Error
	if saveErr != nil {
		return fmt.Errorf("failed to mark speaker '%s' trained: %w", name, saveErr)
	}

	return nil
}

// Delete removes a speaker's rows, corpus directory, and trained model
// directory.
func (r *Repository) Delete(name string) error {
	speaker, err := r.Get(name)
	if err != nil {
		return err
	}

	deleteRefsErr := r.db.Where("speaker_id = ?", speaker.ID).Delete(&ReferenceAudio{}).Error
	if deleteRefsErr != nil {
		return fmt.Errorf("failed to delete reference rows for '%s': %w", name, deleteRefsErr)
	}

	deleteErr := r.db.Delete(speaker).Error
	if deleteErr != nil {
		return fmt.Errorf("failed to delete speaker '%s': %w", name, deleteErr)
	}

	for _, dir := range []string{
		filepath.Join(r.trainingDataDir, name),
		filepath.Join(r.trainedModelsDir, name),
	} {
		removeErr := os.RemoveAll(dir)
		if removeErr != nil {
			r.log.Warn("Failed to remove '%s': %v", dir, removeErr)
		}
	}

	r.log.Info("Deleted speaker '%s' and all associated data", name)

	return nil
}

// Voice resolves a speaker into the material the synthesis engine needs,
// choosing the best-scoring reference clip and a set of auxiliary clips.
// Implements sovits.VoiceProvider.
func (r *Repository) Voice(name string) (sovits.Voice, error) {
	speaker, err := r.Get(name)
	if err != nil {
		return sovits.Voice{}, err
	}

	bestRef, selectErr := SelectBestReference(speaker.ReferenceAudios)
	if selectErr != nil {
		return sovits.Voice{}, fmt.Errorf("speaker '%s': %w", name, selectErr)
	}

	auxCount := auxRefsUntrained
	if speaker.Trained {
		auxCount = auxRefsTrained
	}

	auxRefs := SelectAuxiliaryReferences(speaker.ReferenceAudios, auxCount)

	auxPaths := make([]string, 0, len(auxRefs))
	for _, ref := range auxRefs {
		auxPaths = append(auxPaths, absolutePath(ref.Path))
	}

	return sovits.Voice{
		Speaker:           speaker.Name,
		GPTWeightsPath:    speaker.GPTWeightsPath,
		SoVITSWeightsPath: speaker.SoVITSWeightsPath,
		RefAudioPath:      absolutePath(bestRef.Path),
		PromptText:        bestRef.PromptText,
		AuxRefAudioPaths:  auxPaths,
		Trained:           speaker.Trained,
	}, nil
}

func (r *Repository) getOrCreate(name string) (*Speaker, error) {
	var speaker Speaker

	err := r.db.Where(Speaker{Name: name}).FirstOrCreate(&speaker).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get or create speaker '%s': %w", name, err)
	}

	return &speaker, nil
}

// absolutePath mirrors api_v2's expectation of absolute reference paths; the
// service resolves them against its own working directory otherwise.
func absolutePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	return abs
}
