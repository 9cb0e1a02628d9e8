// Command oprt hosts an op runtime with every capability extension and
// drives it over JSON lines, as a listing, or interactively.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/config"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/runtime"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "oprt",
		Short:         "Host an op dispatch runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "config file (yaml, toml or json)")

	root.AddCommand(
		newRunCommand(&flags),
		newOpsCommand(&flags),
		newInteractiveCommand(&flags),
	)
	return root
}

// newRuntime loads configuration and starts a runtime. mws run inside the
// configured middleware. The caller closes the runtime and syncs the logger.
func newRuntime(ctx context.Context, flags *rootFlags, mws []ops.Middleware, extra ...runtime.Option) (*runtime.Runtime, *zap.Logger, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.Options(log, mws...)
	if err != nil {
		return nil, nil, err
	}
	runtime.SetLogger(log)

	rt, err := runtime.New(ctx, append(opts, extra...)...)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	log.Debug("runtime started", zap.String("session", string(rt.ID())), zap.Int("ops", len(rt.Ops())))
	return rt, log, nil
}
