package training

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/book-expert/voice-model/internal/dataset"
)

// Split metadata file names written into the run directory.
const (
	TrainMetadataFile = "metadata_train.csv"
	EvalMetadataFile  = "metadata_eval.csv"
)

// ErrNoSamples is returned when the metadata table has no rows.
var ErrNoSamples = errors.New("dataset has no samples")

// SampleSet names the split metadata tables for one run.
type SampleSet struct {
	TrainPath  string
	EvalPath   string
	TrainCount int
	EvalCount  int
}

// PrepareSamples reads <dataDir>/metadata.csv, checks every waveform exists, and
// writes a deterministic train/eval split into outDir. Rows keep their wavs/ prefix,
// so both tables resolve relative to dataDir.
func PrepareSamples(dataDir, outDir string, evalFraction float64, seed int64) (*SampleSet, error) {
	records, err := dataset.ReadMetadata(filepath.Join(dataDir, dataset.MetadataFileName))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, dataDir)
	}

	err = dataset.ValidateSamples(dataDir, records)
	if err != nil {
		return nil, err
	}

	train, eval := dataset.Split(records, evalFraction, seed)

	set := &SampleSet{
		TrainPath:  filepath.Join(outDir, TrainMetadataFile),
		EvalPath:   filepath.Join(outDir, EvalMetadataFile),
		TrainCount: len(train),
		EvalCount:  len(eval),
	}

	err = dataset.WriteRecords(set.TrainPath, train)
	if err != nil {
		return nil, err
	}

	err = dataset.WriteRecords(set.EvalPath, eval)
	if err != nil {
		return nil, err
	}

	return set, nil
}
