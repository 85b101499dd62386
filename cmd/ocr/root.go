// cmd/ocr/root.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/config"
	"github.com/SyedDaiam9101/ocr-service/internal/logging"
)

const serviceName = "ocr-service"

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Image-to-text recognition service",
		Long: `ocr recognizes text in images with a GPU-accelerated vision encoder and
autoregressive decoder, and normalizes the result for display.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "path to config file (default: search ., /etc/ocr-service, ~/.ocr-service)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, console)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRecognizeCmd(opts),
		newNormalizeCmd(),
	)
	return cmd
}

// addModelFlags registers the flags that locate model assets.
func addModelFlags(f *pflag.FlagSet) {
	f.String("encoder", "models/encoder.onnx", "path to the encoder ONNX model")
	f.String("decoder", "models/decoder.onnx", "path to the decoder ONNX model")
	f.String("embeddings", "models/embeddings.bin", "path to the little-endian float32 embedding table")
	f.String("vocab", "models/vocab.json", "path to the JSON vocabulary")
	f.String("cache-dir", "", "writable directory for staged model files (empty compiles from memory)")
	f.String("accelerator-lib", "", "directory holding the ONNX Runtime shared library")
	f.Bool("mock", false, "use the mock inference engine instead of ONNX Runtime")
}

// setup loads configuration for cmd and builds the logger.
func setup(cmd *cobra.Command, opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}
