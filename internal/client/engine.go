package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"golang.org/x/sync/errgroup"
)

const (
	// HealthCheckTimeout defines the timeout for health check operations.
	HealthCheckTimeout = 10 * time.Second

	filePermissions = 0o600
	dirPermissions  = 0o750
)

var (
	// ErrChunksPathEmpty is returned when no chunks file is given.
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	// ErrOutputDirEmpty is returned when no output directory is given.
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
	// ErrOutputPathEmpty is returned when no output file is given.
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	// ErrNoChunksFound is returned for an empty chunks file.
	ErrNoChunksFound = errors.New("no chunks found")
	// ErrServiceNotReady is returned when no tier can serve requests yet.
	ErrServiceNotReady = errors.New("TTS service has no tier ready")
)

const (
	errFmtHealthCheckFailed     = "TTS service health check failed: %w"
	logFmtServiceHealthy        = "TTS service is healthy, processing %d chunks"
	logFmtGeneratedAudio        = "Generated audio: %s (%d bytes, tier %s)"
	outputFileFormat            = "chunk_%04d.wav"
	errFmtChunkFailed           = "chunk %d failed: %w"
	logFmtChunkProcessingFailed = "Failed to process chunk %d: %v"
	logFmtChunkProcessed        = "Processed chunk %d/%d"
)

// Engine turns text and chunk files into WAV files through the service.
type Engine struct {
	client   *HTTPClient
	template api.GenerateRequest
	workers  int
	log      *logger.Logger
}

// NewEngine creates an engine. Every request starts as a copy of template
// (tier, voice, speed and style settings); workers bounds parallel chunks.
func NewEngine(client *HTTPClient, template api.GenerateRequest, workers int, log *logger.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		client:   client,
		template: template,
		workers:  workers,
		log:      log,
	}
}

// CheckHealth fails unless at least one tier is ready.
func (e *Engine) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	health, err := e.client.Health(ctx)
	if err != nil {
		return fmt.Errorf(errFmtHealthCheckFailed, err)
	}

	if health.Status != api.StatusOK {
		return fmt.Errorf(errFmtHealthCheckFailed, fmt.Errorf("%w (status %s)", ErrServiceNotReady, health.Status))
	}

	return nil
}

// ProcessSingleChunk synthesizes text and writes the WAV to outputPath.
func (e *Engine) ProcessSingleChunk(ctx context.Context, text, outputPath string) error {
	if text == "" {
		return ErrTextEmpty
	}

	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	err := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	req := e.template
	req.Text = text

	speech, err := e.client.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	err = os.WriteFile(outputPath, speech.WAV, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	e.log.Info(logFmtGeneratedAudio, outputPath, len(speech.WAV), speech.Response.TierUsed)

	return nil
}

// ProcessChunks reads a JSON array of strings and writes chunk_0001.wav,
// chunk_0002.wav, ... into outputDir. A failed chunk does not stop the
// others; all failures are returned together.
func (e *Engine) ProcessChunks(ctx context.Context, chunksPath, outputDir string) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	if outputDir == "" {
		return ErrOutputDirEmpty
	}

	chunks, err := readChunksFile(chunksPath)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	err = os.MkdirAll(outputDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = e.CheckHealth(ctx)
	if err != nil {
		return err
	}

	e.log.Info(logFmtServiceHealthy, len(chunks))

	return e.processChunksParallel(ctx, chunks, outputDir)
}

func (e *Engine) processChunksParallel(ctx context.Context, chunks []string, outputDir string) error {
	var (
		group    errgroup.Group
		mutex    sync.Mutex
		failures []error
	)

	group.SetLimit(e.workers)

	for chunkIndex, chunk := range chunks {
		number := chunkIndex + 1

		group.Go(func() error {
			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, number))

			err := e.ProcessSingleChunk(ctx, chunk, outputPath)
			if err != nil {
				e.log.Error(logFmtChunkProcessingFailed, number, err)

				mutex.Lock()
				failures = append(failures, fmt.Errorf(errFmtChunkFailed, number, err))
				mutex.Unlock()

				return nil
			}

			e.log.Info(logFmtChunkProcessed, number, len(chunks))

			return nil
		})
	}

	_ = group.Wait()

	return errors.Join(failures...)
}

// readChunksFile parses a JSON array of text chunks.
func readChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}
