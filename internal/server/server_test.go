package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceforge/sovits-service/internal/audio"
	"github.com/voiceforge/sovits-service/internal/config"
	"github.com/voiceforge/sovits-service/internal/core"
	"github.com/voiceforge/sovits-service/internal/server"
	"github.com/voiceforge/sovits-service/internal/speakers"
	"github.com/voiceforge/sovits-service/internal/trainer"
)

type fakeStore struct {
	speaker    *speakers.Speaker
	summaries  []speakers.Summary
	ingested   []string
	deleted    []string
	rejectName string
}

func (f *fakeStore) IngestReference(
	speakerName, originalName string,
	_ []byte,
) (*speakers.ReferenceAudio, error) {
	if f.rejectName != "" && originalName == f.rejectName {
		return nil, audio.ErrNotRIFF
	}

	f.ingested = append(f.ingested, speakerName)

	return &speakers.ReferenceAudio{
		SpeakerID:       1,
		Path:            "/corpus/" + speakerName + "/" + originalName,
		OriginalName:    originalName,
		DurationSeconds: 6.5,
		SampleRate:      32000,
		Channels:        1,
	}, nil
}

func (f *fakeStore) Get(name string) (*speakers.Speaker, error) {
	if f.speaker == nil || f.speaker.Name != name {
		return nil, speakers.ErrSpeakerNotFound
	}

	return f.speaker, nil
}

func (f *fakeStore) List() ([]speakers.Summary, error) {
	return f.summaries, nil
}

func (f *fakeStore) Delete(name string) error {
	if f.speaker == nil || f.speaker.Name != name {
		return speakers.ErrSpeakerNotFound
	}

	f.deleted = append(f.deleted, name)

	return nil
}

type fakeSynthesizer struct {
	err      error
	speaker  string
	language string
}

func (f *fakeSynthesizer) Synthesize(
	_ context.Context,
	_ string,
	speaker string,
	params core.GenerationParams,
) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.speaker = speaker
	f.language = params.Language

	return []byte("RIFF-fake-audio"), nil
}

type fakeTrainer struct {
	mu       sync.Mutex
	started  []string
	opts     []trainer.Options
	statuses map[string]string
}

func (f *fakeTrainer) Train(_ context.Context, speaker string, opts trainer.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = append(f.started, speaker)
	f.opts = append(f.opts, opts)

	return nil
}

func (f *fakeTrainer) Progress(speaker string) trainer.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, ok := f.statuses[speaker]
	if !ok {
		status = trainer.StatusNotStarted
	}

	return trainer.Progress{
		Speaker:     speaker,
		Status:      status,
		Stage:       "",
		Error:       "",
		StartedAt:   nil,
		CompletedAt: nil,
	}
}

type fakeProbe struct{}

func (fakeProbe) Snapshot() (gin.H, error) {
	return gin.H{"cpu_percent": 12.5}, nil
}

func newTestServer(t *testing.T, store *fakeStore, synth *fakeSynthesizer, tr *fakeTrainer) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	module := server.New(store, synth, tr, fakeProbe{}, t.TempDir(), log)

	cfg := config.HTTPConfig{ListenAddress: ":0", AllowOrigins: nil}

	return server.NewRouter(cfg, module)
}

func corpusSpeaker(name string, clips int) *speakers.Speaker {
	refs := make([]speakers.ReferenceAudio, clips)
	for i := range refs {
		refs[i] = speakers.ReferenceAudio{
			DurationSeconds: 6.0,
			SampleRate:      32000,
			Channels:        1,
		}
	}

	return &speakers.Speaker{Name: name, ReferenceAudios: refs}
}

func uploadRequest(t *testing.T, speakerName string, filenames ...string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if speakerName != "" {
		require.NoError(t, writer.WriteField("speaker_name", speakerName))
	}

	for _, name := range filenames {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)

		_, err = part.Write([]byte("fake wav bytes"))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_audio", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

func TestUploadAudio(t *testing.T) {
	t.Parallel()

	store := &fakeStore{speaker: nil, summaries: nil, ingested: nil, deleted: nil, rejectName: ""}
	router := newTestServer(t, store, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "alice", "greeting.wav", "story.wav"))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, []string{"alice", "alice"}, store.ingested)

	var reply struct {
		Accepted       int    `json:"accepted"`
		Failed         int    `json:"failed"`
		Recommendation string `json:"recommendation"`
	}

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	assert.Equal(t, 2, reply.Accepted)
	assert.Equal(t, 0, reply.Failed)
	assert.NotEmpty(t, reply.Recommendation)
}

func TestUploadAudio_PartialFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:    nil,
		summaries:  nil,
		ingested:   nil,
		deleted:    nil,
		rejectName: "noise.mp3",
	}
	router := newTestServer(t, store, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "alice", "greeting.wav", "noise.mp3"))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var reply struct {
		Accepted int `json:"accepted"`
		Failed   int `json:"failed"`
		Results  []struct {
			Filename string `json:"filename"`
			OK       bool   `json:"ok"`
			Error    string `json:"error"`
		} `json:"results"`
	}

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	assert.Equal(t, 1, reply.Accepted)
	assert.Equal(t, 1, reply.Failed)
	require.Len(t, reply.Results, 2)
	assert.True(t, reply.Results[0].OK)
	assert.False(t, reply.Results[1].OK)
	assert.Contains(t, reply.Results[1].Error, "RIFF")
}

func TestUploadAudio_MissingSpeaker(t *testing.T) {
	t.Parallel()

	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "", "greeting.wav"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUploadAudio_NoFiles(t *testing.T) {
	t.Parallel()

	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, uploadRequest(t, "alice"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGenerateAudio(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{err: nil, speaker: "", language: ""}
	router := newTestServer(t, &fakeStore{}, synth, &fakeTrainer{statuses: nil})

	payload := `{"text":"hello there","speaker":"alice","language":"zh-CN"}`
	req := httptest.NewRequest(http.MethodPost, "/generate_audio", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "alice", synth.speaker)
	assert.Equal(t, "zh", synth.language)

	var reply map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	assert.Contains(t, reply["audio_url"], "/download_audio/")
	assert.True(t, strings.HasSuffix(reply["filename"], ".wav"))
}

func TestGenerateAudio_UnknownSpeaker(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{err: speakers.ErrSpeakerNotFound, speaker: "", language: ""}
	router := newTestServer(t, &fakeStore{}, synth, &fakeTrainer{statuses: nil})

	payload := `{"text":"hello","speaker":"ghost"}`
	req := httptest.NewRequest(http.MethodPost, "/generate_audio", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDownloadAudio_RejectsTraversal(t *testing.T) {
	t.Parallel()

	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(http.MethodGet, "/download_audio/..%2Fsecrets.txt", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.NotEqual(t, http.StatusOK, recorder.Code)
}

func TestDownloadAudio_NotFound(t *testing.T) {
	t.Parallel()

	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(http.MethodGet, "/download_audio/missing.wav", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestListSpeakers(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker: nil,
		summaries: []speakers.Summary{
			{Name: "alice", AudioCount: 4, Trained: true, CreatedAt: time.Now(), TrainedAt: nil},
		},
		ingested:   nil,
		deleted:    nil,
		rejectName: "",
	}
	router := newTestServer(t, store, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(http.MethodGet, "/list_speakers", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "alice")
}

func TestDeleteSpeaker(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:    corpusSpeaker("bob", 3),
		summaries:  nil,
		ingested:   nil,
		deleted:    nil,
		rejectName: "",
	}
	router := newTestServer(t, store, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(http.MethodDelete, "/delete_speaker/bob", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"bob"}, store.deleted)

	req = httptest.NewRequest(http.MethodDelete, "/delete_speaker/ghost", nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestTrainSpeaker(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:    corpusSpeaker("carol", 3),
		summaries:  nil,
		ingested:   nil,
		deleted:    nil,
		rejectName: "",
	}
	tr := &fakeTrainer{started: nil, opts: nil, statuses: nil}
	router := newTestServer(t, store, &fakeSynthesizer{}, tr)

	req := httptest.NewRequest(
		http.MethodPost,
		"/train_speaker",
		strings.NewReader(`{"speaker":"carol","epochs":20,"batch_size":8}`),
	)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusAccepted, recorder.Code, recorder.Body.String())

	// Training runs in the background.
	assert.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()

		return len(tr.started) == 1
	}, time.Second, 10*time.Millisecond)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	require.Len(t, tr.opts, 1)
	assert.Equal(t, trainer.Options{Epochs: 20, BatchSize: 8}, tr.opts[0])
}

func TestTrainSpeaker_CorpusTooSmall(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:    corpusSpeaker("dana", 2),
		summaries:  nil,
		ingested:   nil,
		deleted:    nil,
		rejectName: "",
	}
	router := newTestServer(t, store, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(
		http.MethodPost, "/train_speaker", strings.NewReader(`{"speaker":"dana"}`),
	)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestTrainSpeaker_AlreadyRunning(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		speaker:    corpusSpeaker("erin", 3),
		summaries:  nil,
		ingested:   nil,
		deleted:    nil,
		rejectName: "",
	}
	tr := &fakeTrainer{started: nil, opts: nil, statuses: map[string]string{"erin": trainer.StatusTraining}}
	router := newTestServer(t, store, &fakeSynthesizer{}, tr)

	req := httptest.NewRequest(
		http.MethodPost, "/train_speaker", strings.NewReader(`{"speaker":"erin"}`),
	)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestTrainingStatus(t *testing.T) {
	t.Parallel()

	tr := &fakeTrainer{started: nil, statuses: map[string]string{"frank": trainer.StatusCompleted}}
	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, tr)

	req := httptest.NewRequest(http.MethodGet, "/training_status/frank", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), trainer.StatusCompleted)
}

func TestSystemInfoAndMetrics(t *testing.T) {
	t.Parallel()

	router := newTestServer(t, &fakeStore{}, &fakeSynthesizer{}, &fakeTrainer{statuses: nil})

	req := httptest.NewRequest(http.MethodGet, "/system_info", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "cpu_percent")
	assert.Contains(t, recorder.Body.String(), "gpt-sovits")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "sovits_")
}