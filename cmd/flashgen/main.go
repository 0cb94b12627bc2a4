package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/pkg/logger"
)

const usage = `usage: flashgen <command> [flags]

commands:
  login      sign in through the identity provider
  logout     sign out and forget the source access token
  profile    show or update the profile (-external-url)
  generate   run the generation flow in the terminal
  results    list saved results
  serve      run the local control server
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logr.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logr *slog.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}

	var cmd func(context.Context, *app, []string) error
	switch args[0] {
	case "login":
		cmd = runLogin
	case "logout":
		cmd = runLogout
	case "profile":
		cmd = runProfile
	case "generate":
		cmd = runGenerate
	case "results":
		cmd = runResults
	case "serve":
		cmd = runServe
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	a, err := newApp(ctx, cfg, logr, out)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd(ctx, a, args[1:])
}
