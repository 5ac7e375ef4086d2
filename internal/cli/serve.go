package cli

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shopbot/internal/app"
	logx "shopbot/pkg/logx"
	"shopbot/pkg/systemd"
)

func newServeCommand(opts *options) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the dispatch loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configPath, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func runServe(ctx context.Context, cfgPath string, stopTimeout time.Duration) error {
	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = a.Stop(stopCtx, app.StopFatalError)
		cancel()
		return err
	}

	log := logx.NewConsole("info").With(logx.String("comp", "serve"))
	if sent, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		log.Debug("sd_notify ready sent")
	}
	go func() {
		healthy := func() bool { return a.Err() == nil }
		if err := systemd.Watchdog(ctx, healthy); err != nil {
			log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	}()

	reason := app.StopAppStop
	select {
	case <-ctx.Done():
		reason = stopReason(ctx)
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = systemd.Stopping()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
		return errors.New("stopped on fatal error")
	}
	return nil
}

// signalCause is set as the context cause by main when a signal arrives.
type signalCause struct{ sig os.Signal }

func (c signalCause) Error() string { return "received " + c.sig.String() }

// WithSignalCause wraps sig so stopReason can tell SIGINT from SIGTERM.
func WithSignalCause(sig os.Signal) error { return signalCause{sig: sig} }

func stopReason(ctx context.Context) app.StopReason {
	var sc signalCause
	if errors.As(context.Cause(ctx), &sc) {
		switch sc.sig {
		case os.Interrupt:
			return app.StopSIGINT
		case syscall.SIGTERM:
			return app.StopSIGTERM
		}
	}
	return app.StopUnknown
}
