package training

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
)

const (
	cacheDirName     = "voice-model"
	maxEntryBytes    = int64(4 << 30)
	cacheDirPerms    = 0o750
	cacheFilePerms   = 0o600
	registryModelCfg = "config.json"
)

// Checkpoint file names searched for in an extracted archive, in order.
var checkpointNames = []string{"model_file.pth", "model.pth", "best_model.pth", "checkpoint.pth"}

var (
	// ErrDownloadFailed is returned when the registry does not serve the archive.
	ErrDownloadFailed = errors.New("pretrained model download failed")
	// ErrIncompleteArchive is returned when an archive lacks a checkpoint or config.
	ErrIncompleteArchive = errors.New("pretrained model archive is incomplete")
	// ErrEntryTooLarge is returned when an archive entry exceeds the extraction limit.
	ErrEntryTooLarge = errors.New("pretrained model archive entry is too large")
)

// Pretrained locates a downloaded base model.
type Pretrained struct {
	Dir        string
	Checkpoint string
	Config     string
}

// Registry downloads and caches pretrained model archives.
type Registry struct {
	httpClient *http.Client
	name       string
	url        string
	cacheDir   string
	entryLimit int64
	log        *logger.Logger
}

// NewRegistry creates a registry for the named model. An empty cacheDir resolves to
// the user cache directory.
func NewRegistry(name, url, cacheDir string, log *logger.Logger) (*Registry, error) {
	if cacheDir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
		}

		cacheDir = filepath.Join(userCache, cacheDirName)
	}

	return &Registry{
		httpClient: &http.Client{},
		name:       name,
		url:        url,
		cacheDir:   cacheDir,
		entryLimit: maxEntryBytes,
		log:        log,
	}, nil
}

// ModelDir is the extraction directory for the registry's model.
func (r *Registry) ModelDir() string {
	return filepath.Join(r.cacheDir, strings.ReplaceAll(r.name, "/", "--"))
}

// Fetch returns the cached model, downloading and extracting it on first use.
func (r *Registry) Fetch(ctx context.Context) (*Pretrained, error) {
	dir := r.ModelDir()

	cached, err := locate(dir)
	if err == nil {
		r.log.Info("Using cached pretrained model at %s", dir)

		return cached, nil
	}

	r.log.Info("Downloading pretrained model %s from %s", r.name, r.url)

	archive, err := r.download(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		removeErr := os.Remove(archive)
		if removeErr != nil {
			r.log.Warn("Failed to remove archive '%s': %v", archive, removeErr)
		}
	}()

	pretrained, err := r.install(archive, dir)
	if err != nil {
		return nil, err
	}

	r.log.Info("Pretrained checkpoint: %s", pretrained.Checkpoint)
	r.log.Info("Pretrained config: %s", pretrained.Config)

	return pretrained, nil
}

func (r *Registry) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	err = os.MkdirAll(r.cacheDir, cacheDirPerms)
	if err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.cacheDir, "download-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer tmp.Close()

	_, err = io.Copy(tmp, resp.Body)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	return tmp.Name(), nil
}

// install extracts the archive into a staging directory next to dir and renames it
// into place only once it holds a usable model, so dir is either complete or absent.
func (r *Registry) install(archive, dir string) (*Pretrained, error) {
	err := os.MkdirAll(filepath.Dir(dir), cacheDirPerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(dir), ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(staging)
		if removeErr != nil {
			r.log.Warn("Failed to remove staging directory '%s': %v", staging, removeErr)
		}
	}()

	err = extract(archive, staging, r.entryLimit)
	if err != nil {
		return nil, err
	}

	_, err = locate(staging)
	if err != nil {
		return nil, err
	}

	// A directory left behind by an older, interrupted install is replaced.
	err = os.RemoveAll(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", dir, err)
	}

	err = os.Rename(staging, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to move model into %s: %w", dir, err)
	}

	return locate(dir)
}

// extract flattens every regular file of the archive into dir.
func extract(archive, dir string, limit int64) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		if file.UncompressedSize64 > uint64(limit) {
			return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrEntryTooLarge, file.Name, file.UncompressedSize64, limit)
		}

		extractErr := extractFile(file, filepath.Join(dir, filepath.Base(file.Name)), limit)
		if extractErr != nil {
			return extractErr
		}
	}

	return nil
}

func extractFile(file *zip.File, dst string, limit int64) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s from archive: %w", file.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, cacheFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	// One byte past the limit tells an oversized entry from one that fits exactly.
	written, copyErr := io.Copy(out, io.LimitReader(src, limit+1))
	closeErr := out.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to extract %s: %w", file.Name, copyErr)
	}

	if written > limit {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, file.Name, limit)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	return nil
}

func locate(dir string) (*Pretrained, error) {
	config := filepath.Join(dir, registryModelCfg)
	if !fileExists(config) {
		return nil, fmt.Errorf("%w: no %s in %s", ErrIncompleteArchive, registryModelCfg, dir)
	}

	for _, name := range checkpointNames {
		checkpoint := filepath.Join(dir, name)
		if fileExists(checkpoint) {
			return &Pretrained{Dir: dir, Checkpoint: checkpoint, Config: config}, nil
		}
	}

	return nil, fmt.Errorf("%w: no checkpoint in %s", ErrIncompleteArchive, dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
