// Command aish-host is an interactive shell host for aish. It reads lines in
// raw mode, publishes a channel endpoint on request, and lets a connected
// kernel insert code into the line being edited.
//
// Usage:
//
//	./aish-host                   # interactive, no transcript
//	./aish-host > session.toml    # prompt on screen, TOML transcript to file
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/hostctx"
	"github.com/Paranoid-AF/aish/integration"
	"github.com/Paranoid-AF/aish/predict"
)

const prompt = "aish> "

type rootOptions struct {
	configPath string
	verbose    bool
	logFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:          "aish-host",
		Short:        "Interactive shell host for an aish kernel",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default "+aish.ConfigPath()+")")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file (the terminal is in raw mode)")
	return cmd
}

func loadConfig(path string) (*aish.Config, error) {
	if path == "" {
		return aish.LoadConfig()
	}
	return aish.LoadConfigFile(path)
}

// setupLogging points the default logger at a file. Without one, logs are
// dropped so they do not corrupt the raw-mode display.
func setupLogging(cfg *aish.Config, opts rootOptions) (*slog.Logger, func(), error) {
	level := aish.LogLevel(cfg)
	if opts.verbose {
		level = slog.LevelDebug
	}
	path := opts.logFile
	if path == "" {
		path = cfg.Log.File
	}

	var w io.Writer = io.Discard
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log, closeFn, nil
}

func run(opts rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	log, closeLog, err := setupLogging(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	defer closeLog()
	for _, w := range aish.ValidateConfig(cfg) {
		log.Warn("config", "warning", w)
	}

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	defer editor.Close()

	historyOpts := []hostctx.Option{hostctx.WithLogger(log)}
	if aish.RedactionEnabled(cfg) {
		ttl := max(cfg.Context.RedactTTLMinutes, 1)
		historyOpts = append(historyOpts, hostctx.WithRedaction(time.Duration(ttl)*time.Minute))
	}
	history := hostctx.NewHistory(cfg.Context.HistorySize, historyOpts...)
	defer history.Close()

	workspaces := hostctx.NewWorkspaces(0, log)
	defer workspaces.Close()

	cwd, err := os.Getwd()
	if err != nil {
		log.Warn("cannot determine cwd", "error", err)
	}

	transcript := NewTranscript(termWriter(os.Stdout))
	lineEditor := &recordingEditor{Editor: editor, transcript: transcript}

	channelOpts := []integration.Option{
		integration.WithTimeout(aish.ResolveHandshakeTimeout(cfg)),
		integration.WithContextProvider(history),
		integration.WithLogger(log),
	}
	var predictor *predict.Manager
	if aish.PredictionEnabled(cfg) {
		predictor = predict.NewManager(log)
		editor.SetPredictor(predictor)
		channelOpts = append(channelOpts, integration.WithPredictor(predictor))
	}
	channel := integration.New(lineEditor, channelOpts...)
	defer channel.Dispose()

	s := &session{
		ui:         editor,
		channel:    channel,
		history:    history,
		workspaces: workspaces,
		predictor:  predictor,
		transcript: transcript,
		cwd:        cwd,
	}
	s.banner()

	for {
		line, err := editor.ReadLine(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupt) {
			return nil
		}
		if err != nil {
			editor.Printf("read error: %v\n", err)
			return err
		}
		if s.handle(line) {
			return nil
		}
	}
}
