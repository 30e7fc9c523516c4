// Package training assembles the toolkit training configuration and launches the
// trainer for a prepared dataset.
package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Trainer configuration constants.
const (
	ModelName         = "vits"
	DatasetFormatter  = "nino"
	TextCleaner       = "phoneme_cleaners"
	OptimizerName     = "AdamW"
	SchedulerName     = "NoamLR"
	TargetLoss        = "loss_1"
	ConfigFileName    = "config.json"
	PhonemeCacheDir   = "phoneme_cache"
	configPermissions = 0o600
)

// Hyperparameters are the fixed training values for the multilingual voice model.
type Hyperparameters struct {
	BatchSize                 int
	EvalBatchSize             int
	LoaderWorkers             int
	EvalLoaderWorkers         int
	PrecomputeWorkers         int
	Epochs                    int
	LearningRate              float64
	Betas                     [2]float64
	Eps                       float64
	WeightDecay               float64
	WarmupSteps               int
	MixedPrecision            bool
	SampleRate                int
	WinLength                 int
	HopLength                 int
	MelFMin                   int
	MelFMax                   int
	NumMels                   int
	DVectorDim                int
	PhonemeLanguage           string
	MinTextLen                int
	MaxTextLen                int
	MinAudioLen               int
	MaxAudioLen               int
	StepsToStartDiscriminator int
	PrintStep                 int
	TestDelayEpochs           int
}

// DefaultHyperparameters returns the values tuned for an 8 GB GPU.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		BatchSize:                 12,
		EvalBatchSize:             4,
		LoaderWorkers:             4,
		EvalLoaderWorkers:         2,
		PrecomputeWorkers:         4,
		Epochs:                    1000,
		LearningRate:              0.0004,
		Betas:                     [2]float64{0.8, 0.99},
		Eps:                       1e-9,
		WeightDecay:               0.01,
		WarmupSteps:               4000,
		MixedPrecision:            true,
		SampleRate:                22050,
		WinLength:                 1024,
		HopLength:                 256,
		MelFMin:                   0,
		MelFMax:                   8000,
		NumMels:                   80,
		DVectorDim:                256,
		PhonemeLanguage:           "ko",
		MinTextLen:                1,
		MaxTextLen:                500,
		MinAudioLen:               1,
		MaxAudioLen:               160000,
		StepsToStartDiscriminator: 5000,
		PrintStep:                 25,
		TestDelayEpochs:           25,
	}
}

// Options describe one training run.
type Options struct {
	DataDir        string
	OutputPath     string
	RunName        string
	Language       string
	FineTune       bool
	Checkpoint     string
	BaseConfig     string
	SpeakerEncoder string
	DVectorFile    string
	EvalFraction   float64
	SplitSeed      int64
}

// AudioSection is the trainer's audio block.
type AudioSection struct {
	SampleRate int `json:"sample_rate"`
	WinLength  int `json:"win_length"`
	HopLength  int `json:"hop_length"`
	MelFMin    int `json:"mel_fmin"`
	MelFMax    int `json:"mel_fmax"`
	NumMels    int `json:"num_mels"`
}

// ModelArgs is the trainer's model_args block.
type ModelArgs struct {
	DVectorDim                   int     `json:"d_vector_dim"`
	UseDVectorFile               bool    `json:"use_d_vector_file"`
	DVectorFile                  *string `json:"d_vector_file,omitempty"`
	SpeakerEncoderModelPath      *string `json:"speaker_encoder_model_path,omitempty"`
	SpeakerEncoderConfigPath     *string `json:"speaker_encoder_config_path,omitempty"`
	UseSpeakerEncoderAsLoss      bool    `json:"use_speaker_encoder_as_loss"`
	UseLanguageEmbedding         bool    `json:"use_language_embedding"`
	UseSpeakerEmbedding          bool    `json:"use_speaker_embedding"`
	StepsToStartDiscriminator    int     `json:"steps_to_start_discriminator"`
	UseAttentionLossForDurations bool    `json:"use_attn_loss"`
}

// DatasetSection is one entry of the trainer's datasets list.
type DatasetSection struct {
	Formatter     string `json:"formatter"`
	Path          string `json:"path"`
	MetaFileTrain string `json:"meta_file_train"`
	MetaFileVal   string `json:"meta_file_val"`
	Language      string `json:"language"`
}

// OptimizerParams is the AdamW parameter block.
type OptimizerParams struct {
	Betas       [2]float64 `json:"betas"`
	Eps         float64    `json:"eps"`
	WeightDecay float64    `json:"weight_decay"`
}

// SchedulerParams is the NoamLR parameter block.
type SchedulerParams struct {
	WarmupSteps int `json:"warmup_steps"`
}

// TrainerConfig is the JSON document handed to the trainer through --config_path.
type TrainerConfig struct {
	Model                  string           `json:"model"`
	RunName                string           `json:"run_name"`
	OutputPath             string           `json:"output_path"`
	Audio                  AudioSection     `json:"audio"`
	ModelArgs              ModelArgs        `json:"model_args"`
	Datasets               []DatasetSection `json:"datasets"`
	BatchSize              int              `json:"batch_size"`
	EvalBatchSize          int              `json:"eval_batch_size"`
	NumLoaderWorkers       int              `json:"num_loader_workers"`
	NumEvalLoaderWorkers   int              `json:"num_eval_loader_workers"`
	PrecomputeNumWorkers   int              `json:"precompute_num_workers"`
	ComputeInputSeqCache   bool             `json:"compute_input_seq_cache"`
	RunEval                bool             `json:"run_eval"`
	PrintEval              bool             `json:"print_eval"`
	TestDelayEpochs        int              `json:"test_delay_epochs"`
	Epochs                 int              `json:"epochs"`
	TextCleaner            string           `json:"text_cleaner"`
	UsePhonemes            bool             `json:"use_phonemes"`
	PhonemeLanguage        string           `json:"phoneme_language"`
	PhonemeCachePath       string           `json:"phoneme_cache_path"`
	PrintStep              int              `json:"print_step"`
	MixedPrecision         bool             `json:"mixed_precision"`
	CudnnBenchmark         bool             `json:"cudnn_benchmark"`
	MinTextLen             int              `json:"min_text_len"`
	MaxTextLen             int              `json:"max_text_len"`
	MinAudioLen            int              `json:"min_audio_len"`
	MaxAudioLen            int              `json:"max_audio_len"`
	Optimizer              string           `json:"optimizer"`
	OptimizerParams        OptimizerParams  `json:"optimizer_params"`
	LR                     float64          `json:"lr"`
	LRScheduler            string           `json:"lr_scheduler"`
	LRSchedulerParams      SchedulerParams  `json:"lr_scheduler_params"`
	SchedulerAfterEpoch    bool             `json:"scheduler_after_epoch"`
	Dashboard              string           `json:"dashboard_logger"`
	TargetLoss             string           `json:"target_loss"`
	UseLanguageEmbedding   bool             `json:"use_language_embedding"`
	UseSpeakerEmbedding    bool             `json:"use_speaker_embedding"`
	StepsToStartDiscrim    int              `json:"steps_to_start_discriminator"`
	UseAttnLoss            bool             `json:"use_attn_loss"`
	UseDVectorFile         bool             `json:"use_d_vector_file"`
	DVectorFile            *string          `json:"d_vector_file,omitempty"`
	DVectorDim             int              `json:"d_vector_dim"`
	SpeakerEncoderModelPth *string          `json:"speaker_encoder_model_path,omitempty"`
}

func optional(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

// BuildConfig assembles the trainer configuration for opts. trainMeta and evalMeta
// are the split metadata tables written by PrepareSamples.
func BuildConfig(opts Options, hp Hyperparameters, trainMeta, evalMeta string) TrainerConfig {
	dVectorFile := optional(opts.DVectorFile)
	speakerEncoder := optional(opts.SpeakerEncoder)

	return TrainerConfig{
		Model:      ModelName,
		RunName:    opts.RunName,
		OutputPath: opts.OutputPath,
		Audio: AudioSection{
			SampleRate: hp.SampleRate,
			WinLength:  hp.WinLength,
			HopLength:  hp.HopLength,
			MelFMin:    hp.MelFMin,
			MelFMax:    hp.MelFMax,
			NumMels:    hp.NumMels,
		},
		ModelArgs: ModelArgs{
			DVectorDim:                   hp.DVectorDim,
			UseDVectorFile:               true,
			DVectorFile:                  dVectorFile,
			SpeakerEncoderModelPath:      speakerEncoder,
			SpeakerEncoderConfigPath:     nil,
			UseSpeakerEncoderAsLoss:      false,
			UseLanguageEmbedding:         true,
			UseSpeakerEmbedding:          true,
			StepsToStartDiscriminator:    hp.StepsToStartDiscriminator,
			UseAttentionLossForDurations: true,
		},
		Datasets: []DatasetSection{{
			Formatter:     DatasetFormatter,
			Path:          opts.DataDir,
			MetaFileTrain: trainMeta,
			MetaFileVal:   evalMeta,
			Language:      opts.Language,
		}},
		BatchSize:            hp.BatchSize,
		EvalBatchSize:        hp.EvalBatchSize,
		NumLoaderWorkers:     hp.LoaderWorkers,
		NumEvalLoaderWorkers: hp.EvalLoaderWorkers,
		PrecomputeNumWorkers: hp.PrecomputeWorkers,
		ComputeInputSeqCache: true,
		RunEval:              true,
		PrintEval:            true,
		TestDelayEpochs:      hp.TestDelayEpochs,
		Epochs:               hp.Epochs,
		TextCleaner:          TextCleaner,
		UsePhonemes:          true,
		PhonemeLanguage:      hp.PhonemeLanguage,
		PhonemeCachePath:     filepath.Join(opts.OutputPath, PhonemeCacheDir),
		PrintStep:            hp.PrintStep,
		MixedPrecision:       hp.MixedPrecision,
		CudnnBenchmark:       false,
		MinTextLen:           hp.MinTextLen,
		MaxTextLen:           hp.MaxTextLen,
		MinAudioLen:          hp.MinAudioLen,
		MaxAudioLen:          hp.MaxAudioLen,
		Optimizer:            OptimizerName,
		OptimizerParams: OptimizerParams{
			Betas:       hp.Betas,
			Eps:         hp.Eps,
			WeightDecay: hp.WeightDecay,
		},
		LR:                     hp.LearningRate,
		LRScheduler:            SchedulerName,
		LRSchedulerParams:      SchedulerParams{WarmupSteps: hp.WarmupSteps},
		SchedulerAfterEpoch:    false,
		Dashboard:              "tensorboard",
		TargetLoss:             TargetLoss,
		UseLanguageEmbedding:   true,
		UseSpeakerEmbedding:    true,
		StepsToStartDiscrim:    hp.StepsToStartDiscriminator,
		UseAttnLoss:            true,
		UseDVectorFile:         true,
		DVectorFile:            dVectorFile,
		DVectorDim:             hp.DVectorDim,
		SpeakerEncoderModelPth: speakerEncoder,
	}
}

// WriteConfig writes cfg as JSON to path. When basePath names an existing
// configuration, cfg is laid over it key by key so values the base model needs
// (character sets, language ids) survive.
func WriteConfig(path, basePath string, cfg TrainerConfig) error {
	doc := map[string]any{}

	if basePath != "" {
		raw, err := os.ReadFile(basePath)
		if err != nil {
			return fmt.Errorf("failed to read base config %s: %w", basePath, err)
		}

		err = json.Unmarshal(raw, &doc)
		if err != nil {
			return fmt.Errorf("failed to parse base config %s: %w", basePath, err)
		}
	}

	overlay, err := toMap(cfg)
	if err != nil {
		return err
	}

	mergeInto(doc, overlay)

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode trainer config: %w", err)
	}

	err = os.WriteFile(path, data, configPermissions)
	if err != nil {
		return fmt.Errorf("failed to write trainer config %s: %w", path, err)
	}

	return nil
}

func toMap(cfg TrainerConfig) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trainer config: %w", err)
	}

	out := map[string]any{}

	err = json.Unmarshal(raw, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trainer config: %w", err)
	}

	return out, nil
}

// mergeInto copies src over dst, descending into nested objects present in both.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		srcChild, srcIsMap := value.(map[string]any)
		dstChild, dstIsMap := dst[key].(map[string]any)

		if srcIsMap && dstIsMap {
			mergeInto(dstChild, srcChild)

			continue
		}

		dst[key] = value
	}
}
