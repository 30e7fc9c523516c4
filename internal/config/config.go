// Package config provides the settings structure shared by the voice-model commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Limits used when validating settings. Datasets and synthesis output are always
// written as 16-bit mono PCM.
const (
	maxSampleRate  = 192000
	outputChannels = 1
	outputBitDepth = 16
	maxPort        = 65535
	defaultStartup = 600
)

// ErrInvalidSettings is returned when a settings value is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// AudioConfig describes the normalized waveform format used for datasets and synthesis.
type AudioConfig struct {
	SampleRate int `toml:"sample_rate"`
	Channels   int `toml:"channels"`
	BitDepth   int `toml:"bit_depth"`
}

// ToolkitConfig holds the external TTS toolkit invocation settings. Argument
// templates may reference {model}, {config} and, for the server, {port}.
type ToolkitConfig struct {
	Python        string `toml:"python"`
	TrainerModule string `toml:"trainer_module"`
	// Command with SpeakerArgs prints the model's speaker map once at startup.
	Command     string   `toml:"command"`
	SpeakerArgs []string `toml:"speaker_args"`
	// ServerCommand keeps the model loaded and answers synthesis over loopback HTTP.
	ServerCommand string   `toml:"server_command"`
	ServerArgs    []string `toml:"server_args"`
	WarmupText    string   `toml:"warmup_text"`
	FFmpeg        string   `toml:"ffmpeg"`
	UseCUDA       bool     `toml:"use_cuda"`
	// StartupSeconds bounds model loading plus the warm-up; 0 means unbounded.
	StartupSeconds int `toml:"startup_seconds"`
	// TimeoutSeconds bounds a single synthesis request; 0 means unbounded.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// RegistryConfig points at the pretrained model registry.
type RegistryConfig struct {
	ModelName string `toml:"model_name"`
	URL       string `toml:"url"`
	CacheDir  string `toml:"cache_dir"`
}

// ServerConfig holds the inference server settings.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	DefaultSpeaker  string `toml:"default_speaker"`
	DefaultLanguage string `toml:"default_language"`
	IndexPath       string `toml:"index_path"`
	Debug           bool   `toml:"debug"`
}

// DatasetConfig holds the values written into generated metadata.
type DatasetConfig struct {
	SpeakerName     string  `toml:"speaker_name"`
	Language        string  `toml:"language"`
	PlaceholderText string  `toml:"placeholder_text"`
	EvalSplit       float64 `toml:"eval_split"`
	SplitSeed       int64   `toml:"split_seed"`
}

// NATSConfig enables the optional synthesis worker.
type NATSConfig struct {
	URL              string `toml:"url"`
	SynthesisSubject string `toml:"synthesis_subject"`
	AudioBucket      string `toml:"audio_bucket"`
}

// TranscriptionConfig points at an OpenAI-compatible transcription endpoint.
type TranscriptionConfig struct {
	URL       string `toml:"url"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	LogsDir string `toml:"logs_dir"`
}

// Settings is the root configuration structure. It is built once per process,
// validated, and then only read.
type Settings struct {
	Audio         AudioConfig         `toml:"audio"`
	Toolkit       ToolkitConfig       `toml:"toolkit"`
	Registry      RegistryConfig      `toml:"registry"`
	Server        ServerConfig        `toml:"server"`
	Dataset       DatasetConfig       `toml:"dataset"`
	NATS          NATSConfig          `toml:"nats"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Paths         PathsConfig         `toml:"paths"`
}

// Defaults returns the settings used when no file overrides them.
func Defaults() Settings {
	return Settings{
		Audio: AudioConfig{SampleRate: 22050, Channels: 1, BitDepth: 16},
		Toolkit: ToolkitConfig{
			Python:        "python3",
			TrainerModule: "TTS.bin.train_tts",
			Command:       "tts",
			SpeakerArgs: []string{
				"--model_path", "{model}",
				"--config_path", "{config}",
				"--list_speaker_idxs",
			},
			ServerCommand: "tts-server",
			ServerArgs: []string{
				"--model_path", "{model}",
				"--config_path", "{config}",
				"--port", "{port}",
			},
			WarmupText:     "안녕하세요.",
			FFmpeg:         "ffmpeg",
			StartupSeconds: defaultStartup,
			TimeoutSeconds: 0,
		},
		Registry: RegistryConfig{
			ModelName: "tts_models/multilingual/multi-dataset/your_tts",
			URL: "https://github.com/coqui-ai/TTS/releases/download/v0.10.1_models/" +
				"tts_models--multilingual--multi-dataset--your_tts.zip",
			CacheDir: "",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			DefaultSpeaker:  "custom_voice",
			DefaultLanguage: "ko",
		},
		Dataset: DatasetConfig{
			SpeakerName:     "custom_voice",
			Language:        "ko",
			PlaceholderText: "이 오디오 파일의 텍스트 내용입니다.",
			EvalSplit:       0.1,
			SplitSeed:       0,
		},
		NATS: NATSConfig{
			SynthesisSubject: "tts.synthesize",
			AudioBucket:      "SYNTHESIZED_AUDIO",
		},
		Transcription: TranscriptionConfig{
			URL:       "https://api.openai.com/v1/audio/transcriptions",
			Model:     "whisper-1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Paths: PathsConfig{LogsDir: "logs"},
	}
}

// SynthTimeout returns the per-request synthesis timeout, zero when unbounded.
func (s *Settings) SynthTimeout() time.Duration {
	return time.Duration(s.Toolkit.TimeoutSeconds) * time.Second
}

// StartupTimeout returns the bound on model loading, zero when unbounded.
func (s *Settings) StartupTimeout() time.Duration {
	return time.Duration(s.Toolkit.StartupSeconds) * time.Second
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.Audio.SampleRate <= 0 || s.Audio.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: audio.sample_rate must be between 1 and %d", ErrInvalidSettings, maxSampleRate)
	}

	if s.Audio.Channels != outputChannels {
		return fmt.Errorf("%w: audio.channels must be %d", ErrInvalidSettings, outputChannels)
	}

	if s.Audio.BitDepth != outputBitDepth {
		return fmt.Errorf("%w: audio.bit_depth must be %d", ErrInvalidSettings, outputBitDepth)
	}

	if s.Server.Port <= 0 || s.Server.Port > maxPort {
		return fmt.Errorf("%w: server.port must be between 1 and %d", ErrInvalidSettings, maxPort)
	}

	if s.Toolkit.Python == "" || s.Toolkit.Command == "" || s.Toolkit.ServerCommand == "" {
		return fmt.Errorf("%w: toolkit.python, toolkit.command and toolkit.server_command are required",
			ErrInvalidSettings)
	}

	if s.Toolkit.TimeoutSeconds < 0 || s.Toolkit.StartupSeconds < 0 {
		return fmt.Errorf("%w: toolkit timeouts must be non-negative", ErrInvalidSettings)
	}

	if s.Dataset.EvalSplit < 0 || s.Dataset.EvalSplit >= 1 {
		return fmt.Errorf("%w: dataset.eval_split must be in [0, 1)", ErrInvalidSettings)
	}

	return nil
}

// LoadFile reads a TOML settings file on top of the defaults.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	cfg := Defaults()

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return &cfg, nil
}

// Load loads the shared project configuration through the central configurator.
func Load(log *logger.Logger) (*Settings, error) {
	cfg := Defaults()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}

// Resolve picks the settings source for a command: an explicit file wins, then the
// shared project configuration, then the built-in defaults.
func Resolve(path string, log *logger.Logger) (*Settings, error) {
	if path != "" {
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}

		return cfg, cfg.Validate()
	}

	cfg, err := Load(log)
	if err != nil {
		log.Warn("Project configuration unavailable, using defaults: %v", err)

		defaults := Defaults()
		cfg = &defaults
	}

	return cfg, cfg.Validate()
}
