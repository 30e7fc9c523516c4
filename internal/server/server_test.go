package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/audio"
	"github.com/book-expert/voice-model/internal/core"
	"github.com/book-expert/voice-model/internal/server"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errModelCrashed = errors.New("model crashed")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSynthesizer struct {
	mu        sync.Mutex
	speakers  []string
	languages []string
	calls     []core.SynthesisRequest
	err       error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req core.SynthesisRequest) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)

	if f.err != nil {
		return nil, f.err
	}

	return []float32{0, 0.5, -0.5, 1.5}, nil
}

func (f *fakeSynthesizer) Speakers() []string { return f.speakers }

func (f *fakeSynthesizer) Languages() []string { return f.languages }

func (f *fakeSynthesizer) SampleRate() int { return 22050 }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newEngine(t *testing.T, synth core.Synthesizer) *gin.Engine {
	t.Helper()

	engine, err := server.New(server.Deps{
		Synthesizer:     synth,
		DefaultSpeaker:  "custom_voice",
		DefaultLanguage: "ko",
		Log:             newTestLogger(t),
	})
	require.NoError(t, err)

	return engine
}

func postTTS(t *testing.T, engine http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	return recorder
}

func detail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var body tts.ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	return body.Detail
}

func TestSynthesizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{speakers: []string{"custom_voice"}}
	recorder := postTTS(t, newEngine(t, synth), `{"text": "안녕하세요"}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/wav", recorder.Header().Get("Content-Type"))

	clip, err := audio.DecodeWAV(bytes.NewReader(recorder.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 22050, clip.SampleRate)
	require.Len(t, clip.Samples, 4)
	assert.InDelta(t, 32767.0/32768.0, clip.Samples[3], 1e-4)

	require.Len(t, synth.calls, 1)
	assert.Equal(t, core.SynthesisRequest{Text: "안녕하세요", Speaker: "custom_voice", Language: "ko", Speed: 1.0}, synth.calls[0])
}

func TestSynthesizePassesEmptyTextThrough(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	recorder := postTTS(t, newEngine(t, synth), `{"text": "", "speaker_name": "anyone", "language": "en", "speed": 1.25}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, synth.calls, 1)
	assert.Equal(t, core.SynthesisRequest{Text: "", Speaker: "anyone", Language: "en", Speed: 1.25}, synth.calls[0])
}

func TestSynthesizeRejectsMissingText(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{}
	engine := newEngine(t, synth)

	for _, body := range []string{`{"speaker_name": "custom_voice"}`, `{"text": `, `[]`} {
		recorder := postTTS(t, engine, body)
		assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code, body)
		assert.NotEmpty(t, detail(t, recorder))
	}

	assert.Empty(t, synth.calls)
}

func TestSynthesizeUnknownSpeakerIsBadRequest(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{speakers: []string{"custom_voice", "narrator"}}
	recorder := postTTS(t, newEngine(t, synth), `{"text": "hi", "speaker_name": "stranger"}`)

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	message := detail(t, recorder)
	assert.Contains(t, message, "custom_voice")
	assert.Contains(t, message, "narrator")
	assert.Empty(t, synth.calls)
}

func TestSynthesizeUnknownLanguageIsBadRequest(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{languages: []string{"en", "ko"}}
	engine := newEngine(t, synth)

	recorder := postTTS(t, engine, `{"text": "hi", "language": "fr-fr"}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, detail(t, recorder), "fr-fr")
	assert.Empty(t, synth.calls)

	recorder = postTTS(t, engine, `{"text": "hi", "language": "en"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestSynthesizeFailureIsServerError(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{err: errModelCrashed}
	recorder := postTTS(t, newEngine(t, synth), `{"text": "hi"}`)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, detail(t, recorder), "model crashed")
}

func TestSpeakersAndHealth(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{speakers: []string{"custom_voice"}}
	engine := newEngine(t, synth)

	postTTS(t, engine, `{"text": "hi"}`)

	synth.mu.Lock()
	synth.speakers = []string{"changed"}
	synth.mu.Unlock()

	// Validation and listing both use the set captured by New.
	assert.Equal(t, http.StatusOK, postTTS(t, engine, `{"text": "hi", "speaker_name": "custom_voice"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postTTS(t, engine, `{"text": "hi", "speaker_name": "changed"}`).Code)

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/speakers", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"speakers": ["custom_voice"]}`, recorder.Body.String())

	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status": "ok", "model_loaded": true}`, recorder.Body.String())

	empty := newEngine(t, &fakeSynthesizer{})
	recorder = httptest.NewRecorder()
	empty.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/speakers", nil))
	assert.JSONEq(t, `{"speakers": []}`, recorder.Body.String())
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	newEngine(t, &fakeSynthesizer{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, recorder.Body.String(), "fetch('/tts'")

	custom := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(custom, []byte("<p>custom</p>"), 0o600))

	engine, err := server.New(server.Deps{Synthesizer: &fakeSynthesizer{}, IndexPath: custom, Log: newTestLogger(t)})
	require.NoError(t, err)

	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "<p>custom</p>", recorder.Body.String())

	_, err = server.New(server.Deps{Synthesizer: &fakeSynthesizer{}, IndexPath: custom + ".missing", Log: newTestLogger(t)})
	require.Error(t, err)

	_, err = server.New(server.Deps{Log: newTestLogger(t)})
	require.ErrorIs(t, err, server.ErrNoSynthesizer)
}

func TestServeWithClientAndShutdown(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &fakeSynthesizer{speakers: []string{"custom_voice"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serveLog := newTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() { errChan <- server.Serve(ctx, listener, engine, serveLog) }()

	client := tts.NewHTTPClient("http://"+listener.Addr().String(), 5*time.Second)

	require.NoError(t, client.HealthCheck(context.Background()))

	speakers, err := client.Speakers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"custom_voice"}, speakers)

	wav, err := client.GenerateSpeech(context.Background(), tts.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))

	_, err = client.GenerateSpeech(context.Background(), tts.Request{Text: "hello", SpeakerName: "stranger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	cancel()

	select {
	case serveErr := <-errChan:
		require.NoError(t, serveErr)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
