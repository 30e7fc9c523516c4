package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
)

// ErrSourceMissing reports that the source audio directory does not exist.
var ErrSourceMissing = errors.New("source audio directory not found")

const (
	logFmtSourceMissing   = "'%s' not found; place WAV files in '%s' directly, generating metadata only"
	logFmtConvertFailed   = "Failed to convert %s: %v"
	logFmtConverted       = "%d files converted to WAV"
	logFmtMetadataWritten = "Metadata for %d audio files saved to %s"
	logManualTranscripts  = "Update the CSV manually if accurate transcripts are required"
)

// Converter turns one audio file into a normalized waveform.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// ConversionError records a single skipped file.
type ConversionError struct {
	Path string
	Err  error
}

func (e ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Path, e.Err)
}

func (e ConversionError) Unwrap() error {
	return e.Err
}

// Report summarizes a preparation run.
type Report struct {
	Converted    int
	Failed       []ConversionError
	Rows         int
	MetadataOnly bool
	MetadataPath string
}

// Preparer converts a source directory into <output>/wavs plus <output>/metadata.csv.
type Preparer struct {
	converter Converter
	metadata  MetadataOptions
	log       *logger.Logger
}

// NewPreparer creates a dataset preparer.
func NewPreparer(converter Converter, metadata MetadataOptions, log *logger.Logger) *Preparer {
	return &Preparer{
		converter: converter,
		metadata:  metadata,
		log:       log,
	}
}

// Run converts every regular file in audioDir and regenerates the metadata from the
// waveforms present in the output directory. Individual conversion failures are
// logged and skipped. A missing audioDir degrades to metadata-only mode.
func (p *Preparer) Run(ctx context.Context, audioDir, outputDir string) (*Report, error) {
	wavsDir := filepath.Join(outputDir, WavsDirName)
	report := &Report{MetadataPath: filepath.Join(outputDir, MetadataFileName)}

	err := os.MkdirAll(wavsDir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", wavsDir, err)
	}

	convertErr := p.convertAll(ctx, audioDir, wavsDir, report)

	switch {
	case errors.Is(convertErr, ErrSourceMissing):
		report.MetadataOnly = true

		p.log.Info(logFmtSourceMissing, audioDir, wavsDir)
	case convertErr != nil:
		return nil, convertErr
	default:
		p.log.Info(logFmtConverted, report.Converted)
	}

	rows, err := WriteMetadata(ctx, wavsDir, report.MetadataPath, p.metadata, p.log)
	if err != nil {
		return nil, err
	}

	report.Rows = rows

	p.log.Info(logFmtMetadataWritten, rows, report.MetadataPath)
	p.log.Info(logManualTranscripts)

	return report, nil
}

func (p *Preparer) convertAll(ctx context.Context, audioDir, wavsDir string, report *Report) error {
	info, err := os.Stat(audioDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrSourceMissing, audioDir)
	}

	entries, err := os.ReadDir(audioDir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", audioDir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("dataset preparation interrupted: %w", ctxErr)
		}

		src := filepath.Join(audioDir, entry.Name())
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		dst := filepath.Join(wavsDir, stem+wavExtension)

		convErr := p.converter.Convert(ctx, src, dst)
		if convErr != nil {
			p.log.Error(logFmtConvertFailed, src, convErr)
			report.Failed = append(report.Failed, ConversionError{Path: src, Err: convErr})

			continue
		}

		report.Converted++
	}

	return nil
}
