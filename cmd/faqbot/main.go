package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/logging"
	"github.com/ZanzyTHEbar/faqbot/faqbot/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "faqbot:", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  faqbot [--config <file>] serve")
	fmt.Fprintln(w, "  faqbot [--config <file>] ingest [--force] [--csv <file>]")
	fmt.Fprintln(w, "  faqbot [--config <file>] ask [--session <id>] <question...>")
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := pflag.NewFlagSet("faqbot", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.String("config", "", "path to config.yaml")
	global.Usage = func() { usage(os.Stderr) }
	if err := global.Parse(args); err != nil {
		return err
	}

	// A missing .env is fine; other read errors are not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	rest := global.Args()
	command := "serve"
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "ingest":
		return ingest(ctx, cfg, logger, rest, stdout)
	case "ask":
		return ask(ctx, cfg, logger, rest, stdout)
	default:
		usage(os.Stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Ingest.OnStart {
		if _, err := a.ingestor.IngestIfEmpty(ctx, cfg.Ingest.CSVPath); err != nil {
			// Serving with an empty store still answers canned and fallback replies.
			logger.Warn().Err(err).Str("path", cfg.Ingest.CSVPath).Msg("Startup ingestion failed")
		}
	}

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	watcher, err := a.factory.CreateTemplateWatcher(orch.Composer())
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, server.Deps{
		Orchestrator: orch,
		Index:        a.index,
		Metrics:      a.metrics,
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { orch.Sessions().Run(ctx) })
	if watcher != nil {
		wg.Go(func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn().Err(err).Msg("Template watcher stopped")
			}
		})
	}

	err = srv.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func ingest(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	force := fs.Bool("force", false, "clear the collection before ingesting")
	csvPath := fs.String("csv", cfg.Ingest.CSVPath, "FAQ CSV with Question and Answer columns")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ingestor.Ingest(ctx, *csvPath, *force)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ingested %d documents into %s\n", n, cfg.Store.Collection)
	return nil
}

func ask(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("ask", pflag.ContinueOnError)
	session := fs.String("session", "cli", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		usage(os.Stderr)
		return fmt.Errorf("%w: ask needs a question", errUsage)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	ans := orch.HandleQuestion(ctx, *session, question)
	fmt.Fprintln(stdout, ans.Response)
	if ans.Err != nil {
		return ans.Err
	}
	return nil
}
