package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"jxlpack/internal/archive"
	"jxlpack/internal/cleanup"
	"jxlpack/internal/config"
	"jxlpack/internal/convert"
	"jxlpack/internal/encoder"
	"jxlpack/internal/logging"
	"jxlpack/internal/scheduler"
	"jxlpack/internal/services"
	"jxlpack/internal/worklist"
)

// Worklist is the durable ledger the pipeline reads and updates.
type Worklist interface {
	scheduler.Ledger
	MarkDone(ctx context.Context, path string) error
}

// Converter runs the conversion stage for one directory.
type Converter interface {
	Run(ctx context.Context, dir string) (convert.DirResult, error)
}

// Pipeline owns one run over one root.
type Pipeline struct {
	cfg       *config.Config
	worklist  Worklist
	converter Converter
	cleaner   *cleanup.Cleaner
	logger    *slog.Logger
}

// New wires a pipeline from its stages.
func New(cfg *config.Config, wl Worklist, converter Converter, cleaner *cleanup.Cleaner, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		worklist:  wl,
		converter: converter,
		cleaner:   cleaner,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// NewFromConfig builds the standard stages for cfg: the configured external
// encoder, the conversion stage, and a trash-backed or permanent cleaner.
func NewFromConfig(cfg *config.Config, wl Worklist, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "config is nil", nil)
	}
	stage := convert.New(encoder.New(cfg.Encoder, cfg.EncodeTimeout()), convert.Options{
		PNGArgs: cfg.PNGArgs,
		JPGArgs: cfg.JPGArgs,
		Workers: cfg.WorkerCount(),
	}, logger)
	return New(cfg, wl, stage, cleanup.New(cleanup.NewRemover(cfg.SkipTrash)), logger), nil
}

// Run schedules every pending directory under root and processes them in
// order. A cancelled ctx stops before the next directory and leaves the
// remaining ones pending. The returned error is always fatal.
func (p *Pipeline) Run(ctx context.Context, root string) (Summary, error) {
	start := time.Now()
	summary := Summary{Root: root}
	if id, ok := services.RunIDFromContext(ctx); ok {
		summary.RunID = id
	}
	logger := logging.WithContext(ctx, p.logger)

	plan, err := scheduler.Schedule(logging.WithStage(ctx, "discover"), root, p.cfg.Exclude, p.worklist)
	if err != nil {
		summary.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			summary.Interrupted = true
			return summary, nil
		}
		if services.IsFatal(err) {
			return summary, err
		}
		return summary, services.Wrap(services.ErrPersistence, "pipeline", "discover", root, err)
	}
	summary.Discovered = len(plan.Pending) + len(plan.Done)
	summary.AlreadyDone = len(plan.Done)
	summary.Excluded = len(plan.Excluded)
	summary.DiscoveryElapsed = plan.Elapsed

	for _, dir := range plan.Done {
		logger.Info("already done", logging.String(logging.FieldDirectory, dir))
	}
	for _, dir := range plan.Excluded {
		logger.Debug("excluded directory", logging.String(logging.FieldDirectory, dir))
	}
	for dir, walkErr := range plan.Unreadable {
		logging.WarnWithContext(logger, "could not list directory during discovery", "walk_failed",
			logging.String(logging.FieldDirectory, dir),
			logging.Error(walkErr),
			logging.String(logging.FieldImpact, "sub-directories below it are not scheduled"))
	}
	logger.Info("discovery complete",
		logging.Int("pending", len(plan.Pending)),
		logging.Int("already_done", len(plan.Done)),
		logging.Int("excluded", len(plan.Excluded)),
		logging.String("elapsed", FormatDuration(plan.Elapsed)))

	for _, dir := range plan.Pending {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		report, err := p.ProcessDirectory(ctx, dir)
		summary.Directories = append(summary.Directories, report)
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		if report.State == StateInterrupted {
			summary.Interrupted = true
			break
		}
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// ProcessDirectory takes one pending directory to done.
func (p *Pipeline) ProcessDirectory(ctx context.Context, dir string) (DirReport, error) {
	start := time.Now()
	report := DirReport{Dir: dir}
	ctx = services.WithDirectory(ctx, dir)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("processing directory")

	result, err := p.converter.Run(logging.WithStage(ctx, "convert"), dir)
	tally(&report, result)
	if err != nil {
		if ctx.Err() != nil {
			report.State = StateInterrupted
			report.Pending = true
			report.Elapsed = time.Since(start)
			logging.WarnWithContext(logger, "directory interrupted", "interrupted",
				logging.String(logging.FieldImpact, "directory stays pending for the next run"))
			return report, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			report.State = StateVanished
			logging.WarnWithContext(logger, "directory vanished before conversion", "already_deleted",
				logging.String(logging.FieldImpact, "treated as already handled"))
			return p.finish(ctx, logger, report, start)
		}
		report.State = StateFailed
		report.Pending = true
		report.Elapsed = time.Since(start)
		logging.WarnWithContext(logger, "directory could not be listed", "list_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory stays pending for the next run"))
		return report, nil
	}

	// From here on the directory is completed even if the run is interrupted.
	ctx = context.WithoutCancel(ctx)

	anyFailed := result.AnyFailed()
	hasImages := report.Converted+report.Kept+report.Failed > 0
	packaged := false
	packageFailed := false

	switch {
	case !hasImages:
		report.State = StateNoImages
		logger.Info("no image files in directory")
	case anyFailed:
		report.State = StateFailed
		for _, failure := range result.Failures() {
			logger.Debug("failed source", logging.String(logging.FieldSource, failure.Source), logging.Error(failure.Err))
		}
		logging.WarnWithContext(logger, "conversion failed, skipping packaging", "directory_failed",
			logging.Int("failed", report.Failed),
			logging.Int("converted", report.Converted),
			logging.String(logging.FieldImpact, "no archive and no deletion; files left for inspection"))
	case !p.cfg.MakeZip:
		report.State = StateNotPackaged
		logger.Info("packaging disabled, leaving outputs in place")
	default:
		packaged, packageFailed = p.pack(logging.WithStage(ctx, "package"), logger, &report, result.Accepted())
		if packageFailed {
			report.State = StatePackageFailed
		} else {
			report.State = StatePackaged
		}
	}

	gates := cleanup.Decide(cleanup.Options{
		DeleteSourceImage: p.cfg.DeleteSourceImage,
		DeleteFolder:      p.cfg.DeleteFolder,
	}, anyFailed || packageFailed, packaged)
	if hasImages && (gates.DeleteSources || gates.DeleteFolder) {
		p.clean(logging.WithStage(ctx, "cleanup"), logger, &report, gates, result.ConvertedSources())
	}

	return p.finish(ctx, logger, report, start)
}

func tally(report *DirReport, result convert.DirResult) {
	report.Converted = result.Count(convert.Converted)
	report.Kept = result.Count(convert.Kept)
	report.Unsupported = result.Count(convert.Unsupported)
	report.Vanished = result.Count(convert.Vanished)
	report.Failed = result.Count(convert.Failed)
}

func (p *Pipeline) pack(ctx context.Context, logger *slog.Logger, report *DirReport, accepted []string) (packaged, failed bool) {
	res, err := archive.Package(ctx, report.Dir, accepted)
	for _, missing := range res.Missing {
		logging.WarnWithContext(logger, "file vanished before packaging", "already_deleted",
			logging.String(logging.FieldSource, missing),
			logging.String(logging.FieldImpact, "not included in archive"))
	}
	if err != nil {
		logging.WarnWithContext(logger, "packaging failed", "package_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "outputs left loose; no deletion"))
		return false, true
	}
	for member, removeErr := range res.RemoveErrors {
		logging.WarnWithContext(logger, "archived file could not be removed", "remove_failed",
			logging.String(logging.FieldSource, member),
			logging.Error(removeErr),
			logging.String(logging.FieldImpact, "file is archived and also left loose"))
	}
	if res.Reconcile != nil {
		for _, conflict := range res.Reconcile.Conflicts {
			logging.WarnWithContext(logger, "archive name already holds different content", "collision_differs",
				logging.String("existing", conflict),
				logging.String("archive", res.Path),
				logging.String(logging.FieldImpact, "new archive written under a numbered name"))
		}
	}
	if res.Empty() {
		logger.Info("nothing left to package; empty archive removed")
		return false, false
	}
	report.Archive = res.Path
	report.Archived = len(res.Added)
	logger.Info("archive written",
		logging.String("archive", res.Path),
		logging.Int("members", len(res.Added)))
	return true, false
}

func (p *Pipeline) clean(ctx context.Context, logger *slog.Logger, report *DirReport, gates cleanup.Gates, sources []string) {
	if p.cleaner == nil {
		return
	}
	res := p.cleaner.Apply(ctx, cleanup.Request{Dir: report.Dir, Gates: gates, Sources: sources})
	report.SourcesRemoved = len(res.RemovedSources)
	report.DirRemoved = res.DirRemoved

	for _, missing := range res.MissingSources {
		logging.WarnWithContext(logger, "source already gone at cleanup", "already_deleted",
			logging.String(logging.FieldSource, missing),
			logging.String(logging.FieldImpact, "nothing to remove"))
	}
	for src, err := range res.SourceErrors {
		logging.WarnWithContext(logger, "could not remove source image", "remove_failed",
			logging.String(logging.FieldSource, src),
			logging.Error(err),
			logging.String(logging.FieldImpact, "source left in place"))
	}
	if len(res.RemovedSources) > 0 {
		logger.Info("source images removed",
			logging.Int("count", len(res.RemovedSources)),
			logging.Bool("reversible", p.cleaner.Reversible()))
	}
	switch {
	case res.DirRemoved:
		logger.Info("directory removed", logging.Bool("reversible", p.cleaner.Reversible()))
	case len(res.DirBlockers) > 0:
		logging.WarnWithContext(logger, "directory kept: it holds more than converted sources", "directory_not_empty",
			logging.Int("blockers", len(res.DirBlockers)),
			logging.String("first_blocker", res.DirBlockers[0]),
			logging.String(logging.FieldImpact, "directory left in place"))
	case res.DirErr != nil:
		logging.WarnWithContext(logger, "could not remove directory", "remove_failed",
			logging.Error(res.DirErr),
			logging.String(logging.FieldImpact, "directory left in place"))
	}
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, report DirReport, start time.Time) (DirReport, error) {
	report.Elapsed = time.Since(start)
	if err := p.worklist.MarkDone(ctx, report.Dir); err != nil {
		var missing *worklist.MissingEntryError
		switch {
		case errors.As(err, &missing):
			logger.Error("worklist has no entry for directory", logging.Error(err))
			return report, err
		case errors.Is(err, worklist.ErrAlreadyDone):
			logging.WarnWithContext(logger, "directory was already marked done", "already_done",
				logging.String(logging.FieldImpact, "no change"))
		default:
			logger.Error("worklist update failed", logging.Error(err))
			return report, err
		}
	}
	logger.Info("directory done",
		logging.String("state", string(report.State)),
		logging.Int("converted", report.Converted),
		logging.Int("kept", report.Kept),
		logging.Int("failed", report.Failed),
		logging.String("elapsed", FormatDuration(report.Elapsed)))
	return report, nil
}
