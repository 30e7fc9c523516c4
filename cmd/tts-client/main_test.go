package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-client-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newFakeServer(t *testing.T, requests chan<- tts.Request) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		var req tts.Request

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if requests != nil {
			requests <- req
		}

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF" + req.Text))
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(tts.SpeakersResponse{Speakers: []string{"custom_voice", "narrator"}})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(tts.HealthResponse{Status: "ok", ModelLoaded: true})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestFlagParsing(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--text", "Hello, world!",
		"--speaker", "narrator",
		"--speed", "1.2",
		"--timeout", "30s",
	}))

	text, err := cmd.Flags().GetString(flagText)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", text)

	speaker, err := cmd.Flags().GetString(flagSpeaker)
	require.NoError(t, err)
	assert.Equal(t, "narrator", speaker)

	timeout, err := cmd.Flags().GetDuration(flagTimeout)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	url, err := cmd.Flags().GetString(flagURL)
	require.NoError(t, err)
	assert.Equal(t, defaultURL, url)
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "text only", flags: appFlags{text: "hi"}},
		{name: "chunks only", flags: appFlags{chunks: "chunks.json"}},
		{name: "neither", flags: appFlags{}, wantErr: errEitherTextOrChunks},
		{name: "both", flags: appFlags{text: "hi", chunks: "chunks.json"}, wantErr: errCannotSpecifyBoth},
		{name: "health needs no input", flags: appFlags{health: true}},
		{name: "speakers needs no input", flags: appFlags{speakers: true}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestCommandRejectsMissingInput(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.ErrorIs(t, err, errEitherTextOrChunks)
}

func TestExecuteSingleText(t *testing.T) {
	t.Parallel()

	requests := make(chan tts.Request, 1)
	server := newFakeServer(t, requests)
	output := filepath.Join(t.TempDir(), "nested", "hello.wav")

	var out bytes.Buffer

	err := execute(context.Background(), appFlags{
		text:     "안녕하세요",
		output:   output,
		speaker:  "narrator",
		language: "ko",
		speed:    1.1,
		workers:  1,
		url:      server.URL,
		timeout:  5 * time.Second,
	}, newTestLogger(t), &out)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "RIFF안녕하세요", string(data))
	assert.Contains(t, out.String(), output)

	req := <-requests
	assert.Equal(t, tts.Request{Text: "안녕하세요", SpeakerName: "narrator", Language: "ko", Speed: 1.1}, req)
}

func TestExecuteChunks(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t, nil)
	dir := t.TempDir()
	chunks := filepath.Join(dir, "chunks.json")
	outputDir := filepath.Join(dir, "audio")

	require.NoError(t, os.WriteFile(chunks, []byte(`["one", "two", "three"]`), 0o600))

	var out bytes.Buffer

	err := execute(context.Background(), appFlags{
		chunks:  chunks,
		output:  outputDir,
		workers: 2,
		url:     server.URL,
		timeout: 5 * time.Second,
	}, newTestLogger(t), &out)
	require.NoError(t, err)

	for index, want := range []string{"one", "two", "three"} {
		data, readErr := os.ReadFile(filepath.Join(outputDir, fmt.Sprintf("chunk_%04d.wav", index+1)))
		require.NoError(t, readErr)
		assert.Equal(t, "RIFF"+want, string(data))
	}

	assert.Contains(t, out.String(), outputDir)
}

func TestExecuteHealthAndSpeakers(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t, nil)
	log := newTestLogger(t)

	var out bytes.Buffer

	require.NoError(t, execute(context.Background(), appFlags{health: true, url: server.URL, timeout: time.Second}, log, &out))
	assert.Contains(t, out.String(), msgServiceHealthy)

	out.Reset()
	require.NoError(t, execute(context.Background(), appFlags{speakers: true, url: server.URL, timeout: time.Second}, log, &out))
	assert.Equal(t, "custom_voice\nnarrator\n", out.String())

	out.Reset()
	server.Close()
	require.Error(t, execute(context.Background(), appFlags{health: true, url: server.URL, timeout: time.Second}, log, &out))
	assert.Contains(t, out.String(), "not healthy")
}
