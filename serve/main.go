// Command aish-kernel connects to an aish shell host, receives its queries,
// and posts the code blocks of each answer into the shell's input line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/kernel"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const contextTimeout = 2 * time.Second

type rootOptions struct {
	channel    string
	responder  string
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:          "aish-kernel",
		Short:        "Answer queries from an aish shell host",
		Version:      Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.channel, "channel", "", "endpoint name printed by the shell's :setup")
	cmd.Flags().StringVar(&opts.responder, "responder", "stdin", "how queries are answered: stdin or echo")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default "+aish.ConfigPath()+")")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func newResponder(name string, in io.Reader, out io.Writer) (Responder, func(), error) {
	switch name {
	case "echo":
		return EchoResponder{}, func() {}, nil
	case "stdin":
		r := NewStdinResponder(in, out, contextTimeout)
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown responder %q (want stdin or echo)", name)
}

func run(ctx context.Context, opts rootOptions, in io.Reader, out, errOut io.Writer) error {
	var (
		cfg *aish.Config
		err error
	)
	if opts.configPath == "" {
		cfg, err = aish.LoadConfig()
	} else {
		cfg, err = aish.LoadConfigFile(opts.configPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := aish.LogLevel(cfg)
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	for _, w := range aish.ValidateConfig(cfg) {
		log.Warn("config", "warning", w)
	}

	responder, closeResponder, err := newResponder(opts.responder, in, out)
	if err != nil {
		return err
	}
	defer closeResponder()

	log.Info("connecting", "channel", opts.channel)
	ch, err := kernel.Dial(ctx, opts.channel,
		kernel.WithTimeout(aish.ResolveKernelTimeout(cfg)),
		kernel.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to connect", "error", err)
		return err
	}
	defer ch.Close()

	log.Info("ready")
	err = NewServer(ch, responder, log).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}
