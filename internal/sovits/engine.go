package sovits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/voiceforge/sovits-service/internal/config"
	"github.com/voiceforge/sovits-service/internal/core"
)

const (
	// HealthCheckTimeout bounds liveness probes before batch work.
	HealthCheckTimeout = 10 * time.Second

	// modelLoadDelay gives api_v2 time to finish loading freshly swapped
	// weights before the first synthesis request hits it.
	modelLoadDelay = 2 * time.Second

	filePermissions = 0o600
	dirPermissions  = 0o750

	outputFileFormat = "chunk_%04d.wav"
)

// Static errors.
var (
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	ErrOutputDirEmpty  = errors.New("output directory cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrNoChunksFound   = errors.New("no chunks found")
	ErrWeightsNotSet   = errors.New("trained voice has incomplete weight paths")
)

// Voice describes everything the engine needs to speak as one speaker: the
// trained checkpoints (when available) and the reference audio prompt.
type Voice struct {
	Speaker           string
	GPTWeightsPath    string
	SoVITSWeightsPath string
	RefAudioPath      string
	PromptText        string
	AuxRefAudioPaths  []string
	Trained           bool
}

// VoiceProvider resolves a speaker name to its voice material.
type VoiceProvider interface {
	Voice(name string) (Voice, error)
}

// Engine orchestrates speech generation against a running api_v2 instance.
// It swaps model weights when the active speaker changes, fans batch jobs
// out over a bounded worker pool, and owns all file I/O around the client.
type Engine struct {
	client *Client
	voices VoiceProvider
	cfg    *config.Config
	log    *logger.Logger

	mu          sync.Mutex
	activeVoice string
}

// NewEngine creates an engine talking to the configured api_v2 service.
func NewEngine(cfg *config.Config, voices VoiceProvider, log *logger.Logger) *Engine {
	timeout := time.Duration(cfg.SoVITS.TimeoutSeconds) * time.Second

	return &Engine{
		client: NewClient(cfg.SoVITS.URL(), timeout),
		voices: voices,
		cfg:    cfg,
		log:    log,
	}
}

// NewEngineWithClient creates an engine with an injected client, primarily
// for tests.
func NewEngineWithClient(
	cfg *config.Config,
	voices VoiceProvider,
	log *logger.Logger,
	client *Client,
) *Engine {
	return &Engine{
		client: client,
		voices: voices,
		cfg:    cfg,
		log:    log,
	}
}

// Health reports whether the api_v2 service is reachable.
func (e *Engine) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := e.client.Health(healthCtx)
	if err != nil {
		return fmt.Errorf("api_v2 health check failed: %w", err)
	}

	return nil
}

// Synthesize generates speech for one text as the named speaker and returns
// the raw WAV data. Implements core.Synthesizer.
func (e *Engine) Synthesize(
	ctx context.Context,
	text string,
	speaker string,
	params core.GenerationParams,
) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	voice, err := e.voices.Voice(speaker)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voice for speaker '%s': %w", speaker, err)
	}

	if voice.Trained {
		activateErr := e.activateVoice(ctx, voice)
		if activateErr != nil {
			return nil, activateErr
		}
	}

	req := TTSRequest{
		Text:             text,
		TextLang:         params.Language,
		RefAudioPath:     voice.RefAudioPath,
		PromptText:       voice.PromptText,
		PromptLang:       params.Language,
		AuxRefAudioPaths: voice.AuxRefAudioPaths,
		TopK:             orInt(params.TopK, e.cfg.SoVITS.TopK),
		TopP:             orFloat(params.TopP, e.cfg.SoVITS.TopP),
		Temperature:      orFloat(params.Temperature, e.cfg.SoVITS.Temperature),
		TextSplitMethod:  e.cfg.SoVITS.TextSplitMethod,
		SpeedFactor:      orFloat(params.SpeedFactor, e.cfg.SoVITS.SpeedFactor),
	}

	audioData, err := e.client.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}

	return audioData, nil
}

// SynthesizeToFile generates speech and writes the WAV to outputPath,
// creating the parent directory when needed.
func (e *Engine) SynthesizeToFile(
	ctx context.Context,
	text string,
	speaker string,
	params core.GenerationParams,
	outputPath string,
) error {
	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	dirErr := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	audioData, err := e.Synthesize(ctx, text, speaker, params)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(outputPath, audioData, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	e.log.Info("Generated audio: %s (%d bytes)", outputPath, len(audioData))

	return nil
}

// ProcessChunks reads a JSON array of text chunks and synthesizes each one
// as the named speaker, writing sequentially numbered WAV files into
// outputDir. Chunks run concurrently on a bounded worker pool; individual
// failures are logged and the last one is returned so the batch completes
// as much work as possible.
func (e *Engine) ProcessChunks(
	ctx context.Context,
	chunksPath string,
	outputDir string,
	speaker string,
	params core.GenerationParams,
) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	if outputDir == "" {
		return ErrOutputDirEmpty
	}

	chunks, err := readChunksFile(chunksPath)
	if err != nil {
		return err
	}

	dirErr := os.MkdirAll(outputDir, dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	healthErr := e.Health(ctx)
	if healthErr != nil {
		return healthErr
	}

	e.log.Info("api_v2 service is healthy, processing %d chunks", len(chunks))

	return e.processChunksParallel(ctx, chunks, outputDir, speaker, params)
}

// activateVoice swaps the service's model weights when the active speaker
// changes. api_v2 keeps weights as process-global state, so the swap is
// serialized and skipped when the voice is already loaded.
func (e *Engine) activateVoice(ctx context.Context, voice Voice) error {
	if voice.GPTWeightsPath == "" || voice.SoVITSWeightsPath == "" {
		return fmt.Errorf("%w: speaker '%s'", ErrWeightsNotSet, voice.Speaker)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeVoice == voice.Speaker {
		return nil
	}

	gptErr := e.client.SetGPTWeights(ctx, voice.GPTWeightsPath)
	if gptErr != nil {
		return fmt.Errorf("failed to set GPT weights: %w", gptErr)
	}

	sovitsErr := e.client.SetSoVITSWeights(ctx, voice.SoVITSWeightsPath)
	if sovitsErr != nil {
		return fmt.Errorf("failed to set SoVITS weights: %w", sovitsErr)
	}

	e.log.Info("Activated trained voice for speaker '%s'", voice.Speaker)
	time.Sleep(modelLoadDelay)

	e.activeVoice = voice.Speaker

	return nil
}

func (e *Engine) processChunksParallel(
	ctx context.Context,
	chunks []string,
	outputDir string,
	speaker string,
	params core.GenerationParams,
) error {
	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		lastError error
	)

	workerPool := make(chan struct{}, e.workers())

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, text string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, index+1))

			err := e.SynthesizeToFile(ctx, text, speaker, params, outputPath)
			if err != nil {
				mu.Lock()

				lastError = fmt.Errorf("chunk %d failed: %w", index+1, err)

				mu.Unlock()
				e.log.Error("Failed to process chunk %d: %v", index+1, err)

				return
			}

			e.log.Info("Processed chunk %d/%d", index+1, len(chunks))
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()
	close(workerPool)

	return lastError
}

func (e *Engine) workers() int {
	if e.cfg.SoVITS.Workers > 0 {
		return e.cfg.SoVITS.Workers
	}

	return 1
}

// readChunksFile reads and parses a JSON file containing an array of text
// chunks.
func readChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}

func orInt(value, fallback int) int {
	if value != 0 {
		return value
	}

	return fallback
}

func orFloat(value, fallback float64) float64 {
	if value != 0 {
		return value
	}

	return fallback
}
