package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/middleware"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/runtime"
)

const closeTimeout = 5 * time.Second

func newRunCommand(flags *rootFlags) *cobra.Command {
	var metrics bool

	cmd := &cobra.Command{
		Use:   "run [requests.jsonl]",
		Short: "Serve JSON-lines requests from a file or stdin",
		Long: `Serve JSON-lines requests from a file or stdin.

Each input line is a request:
  {"id": 1, "op": "print", "args": {"msg": "hi"}}

Each output line is a response. Async ops first answer with a promise id
and later with a line carrying "done": true.

The print op and stdio resources write to stderr so that stdout carries
only responses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := cmd.InOrStdin()
			var stdin io.Reader = strings.NewReader("")
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in, stdin = f, cmd.InOrStdin()
			}
			var m *middleware.Metrics
			if metrics {
				m = middleware.NewMetrics()
			}
			return serve(ctx, flags, m, in, stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "log per-op call counters on exit")
	return cmd
}

func serve(ctx context.Context, flags *rootFlags, m *middleware.Metrics, in, stdin io.Reader, out, errOut io.Writer) error {
	var mws []ops.Middleware
	if m != nil {
		mws = append(mws, m.Middleware())
	}
	rt, log, err := newRuntime(ctx, flags, mws, runtime.WithStdio(stdin, errOut, errOut))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	serveErr := rt.Serve(ctx, in, out)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := rt.Close(cctx); err != nil {
		log.Warn("close", zap.Error(err))
	}
	if m != nil {
		logMetrics(log, m)
	}
	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}

func logMetrics(log *zap.Logger, m *middleware.Metrics) {
	for _, s := range m.Snapshot() {
		if s.SyncDispatched+s.AsyncDispatched == 0 {
			continue
		}
		log.Info("op metrics",
			zap.String("op", s.Op),
			zap.Uint64("sync", s.SyncDispatched),
			zap.Uint64("async", s.AsyncDispatched),
			zap.Uint64("failed", s.Failed),
			zap.Uint64("bytes_in", s.BytesIn),
			zap.Uint64("bytes_out", s.BytesOut))
	}
	total := m.Aggregate()
	log.Info("metrics total",
		zap.Uint64("calls", total.SyncDispatched+total.AsyncDispatched),
		zap.Uint64("in_flight", total.InFlight()),
		zap.Uint64("failed", total.Failed))
}
