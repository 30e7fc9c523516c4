// Package tts serves a trained voice model through a long-lived toolkit synthesis
// process and renders its output as WAV.
package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// ErrModelLoad is returned when a checkpoint or its configuration cannot be used.
var ErrModelLoad = errors.New("failed to load model")

type languageSource struct {
	LanguageIDsFile string `json:"language_ids_file"`
}

type modelConfig struct {
	languageSource

	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	ModelArgs languageSource `json:"model_args"`
}

// Model is a checkpoint plus the metadata read from its configuration. It is
// read-only after LoadModel returns. Whether the checkpoint actually loads is only
// known once the toolkit has started it, see StartToolkit.
type Model struct {
	checkpoint string
	config     string
	sampleRate int
	languages  []string
}

// LoadModel verifies the checkpoint and configuration files and reads the sample
// rate and language set from the configuration.
func LoadModel(checkpoint, configPath string) (*Model, error) {
	for _, path := range []string{checkpoint, configPath} {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}

		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
		}
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	var cfg modelConfig

	err = json.Unmarshal(raw, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrModelLoad, configPath, err)
	}

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s has no audio.sample_rate", ErrModelLoad, configPath)
	}

	languageFile := cfg.LanguageIDsFile
	if languageFile == "" {
		languageFile = cfg.ModelArgs.LanguageIDsFile
	}

	languages, err := loadLanguages(filepath.Dir(configPath), languageFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	return &Model{
		checkpoint: checkpoint,
		config:     configPath,
		sampleRate: cfg.Audio.SampleRate,
		languages:  languages,
	}, nil
}

// Checkpoint returns the checkpoint path.
func (m *Model) Checkpoint() string { return m.checkpoint }

// ConfigPath returns the configuration path.
func (m *Model) ConfigPath() string { return m.config }

// SampleRate returns the output sample rate in Hz.
func (m *Model) SampleRate() int { return m.sampleRate }

// Languages returns a copy of the sorted language names.
func (m *Model) Languages() []string { return slices.Clone(m.languages) }

// resolve returns path as given when it exists, else relative to the config directory.
func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	_, err := os.Stat(path)
	if err == nil {
		return path
	}

	return filepath.Join(baseDir, path)
}

func loadLanguages(baseDir, file string) ([]string, error) {
	if file == "" {
		return nil, nil
	}

	path := resolve(baseDir, file)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages %s: %w", path, err)
	}

	var ids map[string]int

	err = json.Unmarshal(raw, &ids)
	if err != nil {
		return nil, fmt.Errorf("parse languages %s: %w", path, err)
	}

	languages := make([]string, 0, len(ids))
	for name := range ids {
		languages = append(languages, name)
	}

	slices.Sort(languages)

	return languages, nil
}
