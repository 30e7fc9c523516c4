// Package dataset prepares fine-tuning data: normalized waveforms plus the
// metadata table the toolkit's dataset formatter reads.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/book-expert/logger"
)

// MetadataFileName is the table written next to the wavs directory.
const MetadataFileName = "metadata.csv"

// WavsDirName is the subdirectory holding normalized waveforms.
const WavsDirName = "wavs"

const (
	wavExtension   = ".wav"
	dirPermissions = 0o750
)

// Header is the fixed metadata column order.
var Header = []string{"file_path", "text", "speaker_name", "language"}

var (
	// ErrInvalidHeader is returned when a metadata file does not start with Header.
	ErrInvalidHeader = errors.New("metadata header mismatch")
	// ErrMalformedRow is returned for rows without exactly four columns.
	ErrMalformedRow = errors.New("malformed metadata row")
	// ErrMissingWaveform is returned when a record points at a file that does not exist.
	ErrMissingWaveform = errors.New("metadata references missing waveform")
)

// Record is one metadata row.
type Record struct {
	FilePath    string
	Text        string
	SpeakerName string
	Language    string
}

func (r Record) row() []string {
	return []string{r.FilePath, r.Text, r.SpeakerName, r.Language}
}

// Transcriber produces a transcript for a waveform file.
type Transcriber interface {
	TranscribeFile(ctx context.Context, audioPath, language string) (string, error)
}

// MetadataOptions fixes the values written for every generated row.
type MetadataOptions struct {
	SpeakerName     string
	Language        string
	PlaceholderText string
	// Transcriber optionally replaces the placeholder; nil keeps it.
	Transcriber Transcriber
}

// ListWaveforms returns the sorted names of the .wav files directly inside dir.
func ListWaveforms(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), wavExtension) {
			continue
		}

		names = append(names, entry.Name())
	}

	slices.Sort(names)

	return names, nil
}

// WriteMetadata writes one row per waveform in wavsDir to csvPath and returns the
// number of rows written.
func WriteMetadata(
	ctx context.Context,
	wavsDir, csvPath string,
	opts MetadataOptions,
	log *logger.Logger,
) (int, error) {
	names, err := ListWaveforms(wavsDir)
	if err != nil {
		return 0, err
	}

	records := make([]Record, 0, len(names))

	for _, name := range names {
		records = append(records, Record{
			FilePath:    path.Join(WavsDirName, name),
			Text:        transcriptFor(ctx, filepath.Join(wavsDir, name), opts, log),
			SpeakerName: opts.SpeakerName,
			Language:    opts.Language,
		})
	}

	err = WriteRecords(csvPath, records)
	if err != nil {
		return 0, err
	}

	return len(records), nil
}

func transcriptFor(ctx context.Context, wavPath string, opts MetadataOptions, log *logger.Logger) string {
	if opts.Transcriber == nil {
		return opts.PlaceholderText
	}

	text, err := opts.Transcriber.TranscribeFile(ctx, wavPath, opts.Language)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn("Transcription failed for %s, keeping placeholder: %v", wavPath, err)

		return opts.PlaceholderText
	}

	return strings.TrimSpace(text)
}

// WriteRecords writes the header and records to csvPath, creating parent directories.
func WriteRecords(csvPath string, records []Record) (err error) {
	mkdirErr := os.MkdirAll(filepath.Dir(csvPath), dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create metadata directory: %w", mkdirErr)
	}

	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", csvPath, err)
	}

	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", csvPath, closeErr)
		}
	}()

	writer := csv.NewWriter(file)
	writer.UseCRLF = true

	err = writer.Write(Header)
	if err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}

	for _, record := range records {
		err = writer.Write(record.row())
		if err != nil {
			return fmt.Errorf("failed to write metadata row: %w", err)
		}
	}

	writer.Flush()

	flushErr := writer.Error()
	if flushErr != nil {
		return fmt.Errorf("failed to flush metadata: %w", flushErr)
	}

	return nil
}

// ReadMetadata parses a metadata table written by WriteRecords or edited by hand.
func ReadMetadata(csvPath string) ([]Record, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", csvPath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, csvPath, err)
	}

	// Spreadsheet editors often prepend a byte order mark when saving.
	header[0] = strings.TrimPrefix(header[0], "\uFEFF")

	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidHeader, header)
	}

	var records []Record

	for line := 2; ; line++ {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", csvPath, readErr)
		}

		if len(row) != len(Header) {
			return nil, fmt.Errorf("%w: line %d has %d columns", ErrMalformedRow, line, len(row))
		}

		records = append(records, Record{
			FilePath:    row[0],
			Text:        row[1],
			SpeakerName: row[2],
			Language:    row[3],
		})
	}

	return records, nil
}

// ValidateSamples checks every record resolves to an existing file under dataDir.
func ValidateSamples(dataDir string, records []Record) error {
	for _, record := range records {
		fullPath := filepath.Join(dataDir, filepath.FromSlash(record.FilePath))

		info, err := os.Stat(fullPath)
		if err != nil || info.IsDir() {
			return fmt.Errorf("%w: %s", ErrMissingWaveform, fullPath)
		}
	}

	return nil
}
