// cmd/ocr/recognize.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SyedDaiam9101/ocr-service/api/ocrv1"
	"github.com/SyedDaiam9101/ocr-service/internal/handler"
	"github.com/SyedDaiam9101/ocr-service/internal/session"
)

type recognizeOptions struct {
	remote    string
	maxTokens int32
	jsonOut   bool
	timeout   time.Duration
}

// batchFunc recognizes a batch either in process or over gRPC.
type batchFunc func(ctx context.Context, req *ocrv1.BatchRecognizeRequest) (*ocrv1.BatchRecognizeResponse, error)

func newRecognizeCmd(opts *rootOptions) *cobra.Command {
	ro := &recognizeOptions{}

	cmd := &cobra.Command{
		Use:   "recognize FILE...",
		Short: "Recognize text in image files",
		Long: `Recognize text in one or more image files. Without --remote the models are
loaded in process; with --remote the images are sent to a running server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecognize(cmd, opts, ro, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ro.remote, "remote", "", "address of a running ocr server (host:port)")
	f.Int32Var(&ro.maxTokens, "max-tokens", 0, "token limit including the start token (0 uses the model capacity)")
	f.BoolVar(&ro.jsonOut, "json", false, "print one JSON object per file")
	f.DurationVar(&ro.timeout, "timeout", time.Minute, "overall deadline")
	addModelFlags(f)
	return cmd
}

func runRecognize(cmd *cobra.Command, opts *rootOptions, ro *recognizeOptions, files []string) error {
	cfg, logger, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	req := &ocrv1.BatchRecognizeRequest{Requests: make([]*ocrv1.RecognizeRequest, len(files))}
	for i, path := range files {
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		req.Requests[i] = &ocrv1.RecognizeRequest{Image: image, MaxTokens: ro.maxTokens, SkipCache: true}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ro.timeout)
	defer cancel()

	var batch batchFunc
	if ro.remote != "" {
		conn, err := dial(ro.remote)
		if err != nil {
			return err
		}
		defer conn.Close()
		client := ocrv1.NewRecognizerClient(conn)
		batch = func(ctx context.Context, req *ocrv1.BatchRecognizeRequest) (*ocrv1.BatchRecognizeResponse, error) {
			return client.BatchRecognize(ctx, req)
		}
	} else {
		if err := cfg.ValidateModel(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		st, err := buildStack(ctx, cfg, logger, nil, false)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("Failed to release OCR stack", zap.Error(err))
			}
		}()
		h := handler.New(st.recognizer, st.session, handler.Options{
			MaxBatchSize: len(files),
			Logger:       logger,
		})
		batch = h.BatchRecognize
	}

	resp, err := batch(ctx, req)
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), files, resp.Responses, ro.jsonOut)
}

func dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

type fileResult struct {
	File string `json:"file"`
	*ocrv1.RecognizeResponse
}

func printResults(w io.Writer, files []string, responses []*ocrv1.RecognizeResponse, jsonOut bool) error {
	if len(responses) != len(files) {
		return fmt.Errorf("got %d results for %d files", len(responses), len(files))
	}
	enc := json.NewEncoder(w)
	for i, resp := range responses {
		if jsonOut {
			if err := enc.Encode(fileResult{File: files[i], RecognizeResponse: resp}); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s: %s", files[i], resp.Text)
		if resp.State != session.StateDone.String() {
			line += fmt.Sprintf(" [%s]", resp.State)
		}
		if resp.Error != "" {
			line += " (" + resp.Error + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
