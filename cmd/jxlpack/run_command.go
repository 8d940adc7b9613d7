package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"jxlpack/internal/config"
	"jxlpack/internal/deps"
	"jxlpack/internal/logging"
	"jxlpack/internal/pipeline"
	"jxlpack/internal/preflight"
	"jxlpack/internal/services"
	"jxlpack/internal/worklist"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "run [root]",
		Short: "Convert, pack and clean up every directory under root",
		Long: "Walks root deepest first, converts PNG and JPEG files to JPEG XL, packs each\n" +
			"directory's outputs into <dir>.zip beside it and applies the configured\n" +
			"deletion switches. Progress is recorded per root so an interrupted run\n" +
			"resumes where it stopped. Without an argument the root is read from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var root string
			if len(args) == 1 {
				root, err = preflight.ResolveRoot(args[0])
				if err != nil {
					return err
				}
			} else {
				root, err = promptRoot(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}

			runErr := runRoot(cmd.Context(), cmd.OutOrStdout(), cfg, ctx.loadResult, root)
			if !noWait && isTerminal(cmd.InOrStdin()) {
				waitForEnter(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Exit without waiting for Enter when attached to a terminal")
	return cmd
}

// promptRoot asks for a root directory until an existing one is entered.
func promptRoot(in io.Reader, out io.Writer) (string, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Directory to convert: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read directory: %w", err)
			}
			return "", services.Wrap(services.ErrValidation, "cli", "prompt", "no directory given", preflight.ErrEmptyRoot)
		}
		root, err := preflight.ResolveRoot(scanner.Text())
		if err == nil {
			return root, nil
		}
		fmt.Fprintf(out, "Not a usable directory: %v\n", err)
	}
}

func runRoot(parent context.Context, out io.Writer, cfg *config.Config, loaded config.LoadResult, root string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = services.WithRunID(ctx, uuid.NewString())

	baseLogger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	logger := logging.WithContext(ctx, logging.NewComponentLogger(baseLogger, "cli"))

	if loaded.Restored {
		if loaded.ParseError != nil {
			logging.WarnWithContext(logger, "config file was malformed and has been replaced by defaults", "config_restored",
				logging.String("path", loaded.Path),
				logging.String("backup", loaded.Backup),
				logging.Error(loaded.ParseError),
				logging.String(logging.FieldImpact, "running with default settings"))
		} else {
			logging.WarnWithContext(logger, "config file was missing and has been created with defaults", "config_restored",
				logging.String("path", loaded.Path),
				logging.String(logging.FieldImpact, "running with default settings"))
		}
	}
	logSettings(logger, cfg, loaded.Path, root)

	if err := preflight.FirstFailure(preflight.RunAll(root, cfg)); err != nil {
		logger.Error("preflight failed", logging.Error(err))
		return err
	}
	if err := deps.RequireAll(cfg); err != nil {
		logger.Error("encoder unavailable", logging.Error(err), logging.String("encoder", cfg.Encoder))
		return err
	}

	store, err := worklist.Open(ctx, cfg.StateDir, root, cfg.Settings())
	if err != nil {
		logger.Error("open worklist failed", logging.Error(err))
		if errors.Is(err, worklist.ErrLocked) {
			return fmt.Errorf("another jxlpack run is already working on %s: %w", root, err)
		}
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close worklist failed", logging.Error(err))
		}
	}()
	if store.Resumed() {
		logger.Info("resuming worklist",
			logging.String("worklist", store.Path()),
			logging.String("created", store.Root().CreatedAt.Format("2006-01-02 15:04:05")))
		if store.SettingsChanged() {
			logging.WarnWithContext(logger, "settings differ from those recorded when this worklist was created", "settings_changed",
				logging.String(logging.FieldImpact, "remaining directories use the current settings"))
		}
	}

	p, err := pipeline.NewFromConfig(cfg, store, baseLogger)
	if err != nil {
		return err
	}
	summary, runErr := p.Run(ctx, store.Root().Path)
	if id, ok := services.RunIDFromContext(ctx); ok {
		summary.RunID = id
	}

	fmt.Fprint(out, renderSummary(summary))
	fmt.Fprintln(out)

	if runErr != nil {
		logger.Error("run aborted", logging.Error(runErr), logging.String("error_kind", services.Kind(runErr)))
		return runErr
	}
	if summary.Interrupted {
		logging.WarnWithContext(logger, "run interrupted", "interrupted",
			logging.String(logging.FieldImpact, "remaining directories stay pending; run again to resume"))
		return context.Canceled
	}
	logger.Info("run complete", logging.String("elapsed", pipeline.FormatDuration(summary.Elapsed)))
	return nil
}

func logSettings(logger *slog.Logger, cfg *config.Config, configPath, root string) {
	logger.Info("effective settings",
		logging.String("config", configPath),
		logging.String("root", root),
		logging.Bool("delete_folder", cfg.DeleteFolder),
		logging.Bool("delete_source_image", cfg.DeleteSourceImage),
		logging.Bool("make_zip", cfg.MakeZip),
		logging.Bool("dont_use_trashcan_just_delete", cfg.SkipTrash),
		logging.String("png_args", strings.Join(cfg.PNGArgs, " ")),
		logging.String("jpg_args", strings.Join(cfg.JPGArgs, " ")),
		logging.String("encoder", cfg.Encoder),
		logging.Int("workers", cfg.WorkerCount()),
		logging.Duration("encode_timeout", cfg.EncodeTimeout()),
		logging.String("exclude", strings.Join(cfg.Exclude, ",")),
		logging.String("state_dir", cfg.StateDir))
}
