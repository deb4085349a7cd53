// Package server exposes the voice-clone platform over HTTP: corpus uploads,
// speech generation, speaker management, and training control.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voiceforge/sovits-service/internal/core"
	"github.com/voiceforge/sovits-service/internal/metrics"
	"github.com/voiceforge/sovits-service/internal/speakers"
	"github.com/voiceforge/sovits-service/internal/trainer"
)

const (
	dirPermissions = 0o750

	maxUploadBytes = 100 << 20
)

// ErrInvalidFilename rejects download names that escape the outputs
// directory.
var ErrInvalidFilename = errors.New("invalid filename")

// SpeakerStore is the slice of the speaker repository the API needs.
type SpeakerStore interface {
	IngestReference(speakerName, originalName string, data []byte) (*speakers.ReferenceAudio, error)
	Get(name string) (*speakers.Speaker, error)
	List() ([]speakers.Summary, error)
	Delete(name string) error
}

// Trainer runs fine-tuning jobs and reports their progress.
type Trainer interface {
	Train(ctx context.Context, speaker string, opts trainer.Options) error
	Progress(speaker string) trainer.Progress
}

// SystemProbe reports host resource usage for the system info endpoint.
type SystemProbe interface {
	Snapshot() (gin.H, error)
}

// Module wires the platform handlers to their dependencies.
type Module struct {
	store       SpeakerStore
	synthesizer core.Synthesizer
	trainer     Trainer
	probe       SystemProbe
	outputsDir  string
	log         *logger.Logger
}

// New creates the API module.
func New(
	store SpeakerStore,
	synthesizer core.Synthesizer,
	jobTrainer Trainer,
	probe SystemProbe,
	outputsDir string,
	log *logger.Logger,
) *Module {
	return &Module{
		store:       store,
		synthesizer: synthesizer,
		trainer:     jobTrainer,
		probe:       probe,
		outputsDir:  outputsDir,
		log:         log,
	}
}

// RegisterRoutes attaches the platform endpoints to the router.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	router.MaxMultipartMemory = maxUploadBytes

	router.POST("/upload_audio", m.handleUploadAudio)
	router.POST("/generate_audio", m.handleGenerateAudio)
	router.GET("/download_audio/:filename", m.handleDownloadAudio)
	router.GET("/list_speakers", m.handleListSpeakers)
	router.DELETE("/delete_speaker/:name", m.handleDeleteSpeaker)
	router.POST("/train_speaker", m.handleTrainSpeaker)
	router.GET("/training_status/:name", m.handleTrainingStatus)
	router.GET("/system_info", m.handleSystemInfo)
	router.GET("/health", m.handleHealth)
}

func (m *Module) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// uploadResult reports the outcome for one file in an upload batch.
type uploadResult struct {
	Filename        string  `json:"filename"`
	OK              bool    `json:"ok"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
}

func (m *Module) handleUploadAudio(c *gin.Context) {
	speaker := strings.TrimSpace(c.PostForm("speaker_name"))
	if speaker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speaker_name is required"})

		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})

		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})

		return
	}

	results := make([]uploadResult, 0, len(files))
	accepted := 0

	for _, fileHeader := range files {
		result := m.ingestUpload(speaker, fileHeader)
		if result.OK {
			accepted++

			metrics.ReferenceUploads.Inc()
		}

		results = append(results, result)
	}

	totalClips := 0

	speakerRecord, getErr := m.store.Get(speaker)
	if getErr == nil {
		totalClips = len(speakerRecord.ReferenceAudios)
	}

	recommendation := ""
	if totalClips < speakers.MinCorpusSize {
		recommendation = fmt.Sprintf(
			"upload at least %d clips of 3-10 seconds to enable training",
			speakers.MinCorpusSize,
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"speaker":        speaker,
		"accepted":       accepted,
		"failed":         len(files) - accepted,
		"total_clips":    totalClips,
		"results":        results,
		"recommendation": recommendation,
	})
}

// ingestUpload handles one file of a batch; failures are reported per file
// so one bad clip does not reject the rest.
func (m *Module) ingestUpload(speaker string, fileHeader *multipart.FileHeader) uploadResult {
	result := uploadResult{
		Filename:        fileHeader.Filename,
		OK:              false,
		Error:           "",
		DurationSeconds: 0,
		SampleRate:      0,
	}

	file, err := fileHeader.Open()
	if err != nil {
		result.Error = "failed to open uploaded file"

		return result
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		result.Error = "failed to read uploaded file"

		return result
	}

	ref, ingestErr := m.store.IngestReference(speaker, fileHeader.Filename, data)
	if ingestErr != nil {
		m.log.Warn("Rejected upload for speaker '%s': %v", speaker, ingestErr)
		result.Error = ingestErr.Error()

		return result
	}

	result.OK = true
	result.DurationSeconds = ref.DurationSeconds
	result.SampleRate = ref.SampleRate

	return result
}

type generateRequest struct {
	Text        string  `json:"text"        binding:"required"`
	Speaker     string  `json:"speaker"     binding:"required"`
	Language    string  `json:"language"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	Temperature float64 `json:"temperature"`
	SpeedFactor float64 `json:"speed_factor"`
}

func (m *Module) handleGenerateAudio(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})

		return
	}

	params := core.GenerationParams{
		Language:    normalizeLanguage(req.Language),
		TopK:        req.TopK,
		TopP:        req.TopP,
		Temperature: req.Temperature,
		SpeedFactor: req.SpeedFactor,
	}

	audioData, err := m.synthesizer.Synthesize(c.Request.Context(), req.Text, req.Speaker, params)
	if err != nil {
		metrics.SpeechGenerations.WithLabelValues(req.Speaker, metrics.OutcomeFailure).Inc()
		m.log.Error("Generation failed for speaker '%s': %v", req.Speaker, err)

		status := http.StatusInternalServerError
		if errors.Is(err, speakers.ErrSpeakerNotFound) {
			status = http.StatusNotFound
		} else if errors.Is(err, speakers.ErrNoUsableReference) {
			status = http.StatusBadRequest
		}

		c.JSON(status, gin.H{"error": err.Error()})

		return
	}

	metrics.SpeechGenerations.WithLabelValues(req.Speaker, metrics.OutcomeSuccess).Inc()

	filename := uuid.NewString() + ".wav"

	writeErr := m.writeOutput(filename, audioData)
	if writeErr != nil {
		m.log.Error("Failed to store generated audio: %v", writeErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store generated audio"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":  filename,
		"audio_url": "/download_audio/" + filename,
		"speaker":   req.Speaker,
	})
}

func (m *Module) handleDownloadAudio(c *gin.Context) {
	filename := c.Param("filename")

	path, err := m.outputPath(filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if _, statErr := os.Stat(path); statErr != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audio file not found"})

		return
	}

	c.FileAttachment(path, filename)
}

func (m *Module) handleListSpeakers(c *gin.Context) {
	summaries, err := m.store.List()
	if err != nil {
		m.log.Error("Failed to list speakers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list speakers"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"speakers": summaries})
}

func (m *Module) handleDeleteSpeaker(c *gin.Context) {
	name := c.Param("name")

	err := m.store.Delete(name)
	if err != nil {
		if errors.Is(err, speakers.ErrSpeakerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

			return
		}

		m.log.Error("Failed to delete speaker '%s': %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete speaker"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

type trainRequest struct {
	Speaker   string `json:"speaker"    binding:"required"`
	Epochs    int    `json:"epochs"`
	BatchSize int    `json:"batch_size"`
}

func (m *Module) handleTrainSpeaker(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})

		return
	}

	speaker, err := m.store.Get(req.Speaker)
	if err != nil {
		if errors.Is(err, speakers.ErrSpeakerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load speaker"})

		return
	}

	if len(speaker.ReferenceAudios) < speakers.MinCorpusSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf(
				"speaker '%s' has %d clips, training needs at least %d",
				req.Speaker, len(speaker.ReferenceAudios), speakers.MinCorpusSize,
			),
		})

		return
	}

	if m.trainer.Progress(req.Speaker).Status == trainer.StatusTraining {
		c.JSON(http.StatusConflict, gin.H{"error": "training is already running for this speaker"})

		return
	}

	go m.runTraining(req.Speaker, trainer.Options{Epochs: req.Epochs, BatchSize: req.BatchSize})

	c.JSON(http.StatusAccepted, gin.H{
		"speaker": req.Speaker,
		"status":  trainer.StatusTraining,
	})
}

// runTraining owns the background job lifecycle; HTTP clients poll
// training_status for the result.
func (m *Module) runTraining(speaker string, opts trainer.Options) {
	err := m.trainer.Train(context.Background(), speaker, opts)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues(metrics.OutcomeFailure).Inc()

		return
	}

	metrics.TrainingRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
}

func (m *Module) handleTrainingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, m.trainer.Progress(c.Param("name")))
}

func (m *Module) handleSystemInfo(c *gin.Context) {
	snapshot, err := m.probe.Snapshot()
	if err != nil {
		m.log.Error("Failed to read system info: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read system info"})

		return
	}

	snapshot["service"] = "sovits-service"
	snapshot["engine"] = "gpt-sovits"
	snapshot["engine_api"] = "api_v2"

	c.JSON(http.StatusOK, snapshot)
}

func (m *Module) writeOutput(filename string, data []byte) error {
	dirErr := os.MkdirAll(m.outputsDir, dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create outputs directory: %w", dirErr)
	}

	path, err := m.outputPath(filename)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(path, data, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write output file: %w", writeErr)
	}

	return nil
}

// outputPath resolves filename inside the outputs directory and rejects
// traversal attempts.
func (m *Module) outputPath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidFilename, filename)
	}

	return filepath.Join(m.outputsDir, filename), nil
}

// normalizeLanguage folds locale variants down to the codes the synthesis
// service understands.
func normalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))

	switch lang {
	case "", "auto":
		return ""
	case "zh-cn", "zh-tw", "zh-hk", "cn":
		return "zh"
	case "en-us", "en-gb":
		return "en"
	case "jp", "ja-jp":
		return "ja"
	case "ko-kr":
		return "ko"
	}

	if idx := strings.IndexByte(lang, '-'); idx > 0 {
		return lang[:idx]
	}

	return lang
}
