// murmur-client talks to a running murmur server from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/client"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagURL     = "url"
	flagTimeout = "timeout"
	flagLogDir  = "log-dir"
	flagTier    = "tier"
	flagText    = "text"
	flagChunks  = "chunks"
	flagVoice   = "voice"
	flagSpeed   = "speed"
	flagOutput  = "output"
	flagWorkers = "workers"
)

// Flag defaults.
const (
	defaultURL        = "http://127.0.0.1:8787"
	defaultTimeout    = 10 * time.Minute
	defaultOutputFile = "output.wav"
	defaultOutputDir  = "audio"
	defaultWorkers    = 2
	logFileName       = "murmur-client.log"
)

// Error and log messages.
const (
	logGenerated          = "Generated: %s\n"
	logGeneratedAudioDir  = "Generated audio files in: %s\n"
	logProcessingChunks   = "Processing chunks from %s into %s"
	logProcessingText     = "Processing single text to %s"
)

var (
	errEitherTextOrChunks = errors.New("either --text or --chunks must be provided")
	errCannotSpecifyBoth  = errors.New("cannot specify both --text and --chunks")
)

// rootOptions holds the persistent flag values.
type rootOptions struct {
	url     string
	timeout time.Duration
	logDir  string
}

// generateOptions holds the generate flag values.
type generateOptions struct {
	text    string
	chunks  string
	tier    string
	voice   string
	speed   float64
	output  string
	workers int
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "murmur-client",
		Short: "Command line client for the murmur TTS server",
		Long: `murmur-client checks the health of a murmur server, lists its voices,
synthesizes text or a JSON file of text chunks into WAV files and asks the
server to retry loading a tier.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.url, flagURL, defaultURL, "Base URL of the murmur server")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, flagTimeout, defaultTimeout, "Timeout for each request")
	rootCmd.PersistentFlags().StringVar(&opts.logDir, flagLogDir, os.TempDir(), "Directory for the client log file")

	rootCmd.AddCommand(
		newHealthCmd(opts),
		newVoicesCmd(opts),
		newGenerateCmd(opts),
		newReloadCmd(opts),
	)

	return rootCmd
}

func (o *rootOptions) client() *client.HTTPClient {
	return client.NewHTTPClient(o.url, o.timeout)
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server and per-tier health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := opts.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			err = printJSON(cmd.OutOrStdout(), health)
			if err != nil {
				return err
			}

			if health.Status != api.StatusOK {
				return fmt.Errorf("%w (status %s)", client.ErrServiceNotReady, health.Status)
			}

			return nil
		},
	}
}

func newVoicesCmd(opts *rootOptions) *cobra.Command {
	var tierName string

	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices, err := opts.client().Voices(cmd.Context(), tierName)
			if err != nil {
				return fmt.Errorf("failed to list voices: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), voices)
		},
	}

	cmd.Flags().StringVar(&tierName, flagTier, "", "Only list voices usable on this tier (fast, normal, high_quality)")

	return cmd
}

func newReloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <tier>",
		Short: "Retry loading a tier that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := opts.client().Reload(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to reload tier %s: %w", args[0], err)
			}

			return printJSON(cmd.OutOrStdout(), response)
		},
	}
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	genOpts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize text or a chunks file into WAV audio",
		Long: `Generate synthesizes --text into a single WAV file, or every entry of a
JSON array given with --chunks into chunk_0001.wav, chunk_0002.wav, ...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts, genOpts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&genOpts.text, flagText, "", "Text to convert to speech")
	flags.StringVar(&genOpts.chunks, flagChunks, "", "JSON file containing text chunks to process")
	flags.StringVar(&genOpts.tier, flagTier, "", "Requested tier (fast, normal, high_quality)")
	flags.StringVar(&genOpts.voice, flagVoice, "", "Voice identifier")
	flags.Float64Var(&genOpts.speed, flagSpeed, 0, "Speech speed multiplier (0 keeps the server default)")
	flags.StringVar(&genOpts.output, flagOutput, "", "Output file (.wav) for --text or directory for --chunks")
	flags.IntVar(&genOpts.workers, flagWorkers, defaultWorkers, "Chunks synthesized in parallel")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts *rootOptions, genOpts *generateOptions) error {
	err := genOpts.validate()
	if err != nil {
		return err
	}

	log, err := logger.New(opts.logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = log.Close() }()

	engine := client.NewEngine(opts.client(), genOpts.template(), genOpts.workers, log)
	ctx := cmd.Context()

	if genOpts.text != "" {
		return generateText(ctx, cmd.OutOrStdout(), engine, log, genOpts)
	}

	outputDir := genOpts.output
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	log.Info(logProcessingChunks, genOpts.chunks, outputDir)

	err = engine.ProcessChunks(ctx, genOpts.chunks, outputDir)
	if err != nil {
		return fmt.Errorf("failed to process chunks: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), logGeneratedAudioDir, outputDir)

	return nil
}

func generateText(
	ctx context.Context,
	out io.Writer,
	engine *client.Engine,
	log *logger.Logger,
	genOpts *generateOptions,
) error {
	outputPath := genOpts.output
	if outputPath == "" {
		outputPath = defaultOutputFile
	}

	log.Info(logProcessingText, outputPath)

	err := engine.ProcessSingleChunk(ctx, genOpts.text, outputPath)
	if err != nil {
		return fmt.Errorf("failed to process text: %w", err)
	}

	_, _ = fmt.Fprintf(out, logGenerated, outputPath)

	return nil
}

func (g *generateOptions) validate() error {
	switch {
	case g.text == "" && g.chunks == "":
		return errEitherTextOrChunks
	case g.text != "" && g.chunks != "":
		return errCannotSpecifyBoth
	default:
		return nil
	}
}

func (g *generateOptions) template() api.GenerateRequest {
	req := api.GenerateRequest{
		Tier:    g.tier,
		VoiceID: g.voice,
	}

	if g.speed > 0 {
		speed := g.speed
		req.Speed = &speed
	}

	return req
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to print response: %w", err)
	}

	return nil
}
