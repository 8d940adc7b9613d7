package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"jxlpack/internal/collision"
	"jxlpack/internal/encoder"
	"jxlpack/internal/fileutil"
	"jxlpack/internal/imageformat"
	"jxlpack/internal/logging"
	"jxlpack/internal/services"
)

// TargetExt is the extension of converted outputs.
const TargetExt = ".jxl"

// Options configures the stage.
type Options struct {
	PNGArgs []string
	JPGArgs []string
	Workers int
}

// Stage converts the images of one directory at a time.
type Stage struct {
	enc    encoder.Encoder
	opts   Options
	logger *slog.Logger
}

// New builds a Stage. Workers below 1 run one encoder at a time.
func New(enc encoder.Encoder, opts Options, logger *slog.Logger) *Stage {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Stage{enc: enc, opts: opts, logger: logging.NewComponentLogger(logger, "convert")}
}

// ListFiles returns the regular files directly inside dir, minus zip
// archives and partial outputs, sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".zip") || fileutil.IsPartial(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// OutputPath is the canonical output for source: same stem, .jxl extension.
func OutputPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + TargetExt
}

type job struct {
	index int
	args  []string
}

// Run converts dir. The returned error is non-nil only when the directory
// could not be listed or ctx was cancelled; per-file problems are reported
// in the outcomes.
func (s *Stage) Run(ctx context.Context, dir string) (DirResult, error) {
	start := time.Now()
	result := DirResult{Dir: dir}
	logger := logging.WithContext(ctx, s.logger)

	files, err := ListFiles(dir)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "convert", "list directory", dir, err)
	}
	s.sweepPartials(logger, dir)

	result.Outcomes = make([]Outcome, len(files))
	resolver := collision.NewResolver()
	var jobs []job
	for i, file := range files {
		out := &result.Outcomes[i]
		out.Source = file

		kind, err := imageformat.Sniff(file)
		out.Kind = kind
		switch {
		case errors.Is(err, os.ErrNotExist):
			out.Status = Vanished
			out.Err = services.Wrap(services.ErrNotFound, "convert", "sniff", file, err)
			logging.WarnWithContext(logger, "source vanished before conversion", "already_deleted",
				logging.String(logging.FieldSource, file),
				logging.String(logging.FieldImpact, "treated as already handled"))
			continue
		case err != nil:
			out.Status = Failed
			out.Err = services.Wrap(services.ErrTransient, "convert", "sniff", file, err)
			logging.WarnWithContext(logger, "could not read source header", "sniff_failed",
				logging.String(logging.FieldSource, file),
				logging.Error(err),
				logging.String(logging.FieldImpact, "directory will not be packaged or deleted"))
			continue
		}

		switch {
		case kind.AlreadyTarget():
			out.Status = Kept
			out.Output = file
			logger.Debug("keeping jpeg xl file", logging.String(logging.FieldSource, file))
		case kind.Convertible():
			res, err := resolver.Reserve(OutputPath(file))
			if err != nil {
				out.Status = Failed
				out.Err = err
				continue
			}
			out.Reservation = res
			jobs = append(jobs, job{index: i, args: s.argsFor(kind)})
		default:
			out.Status = Unsupported
			out.Err = services.Wrap(services.ErrValidation, "convert", "sniff", "not a png, jpeg or jpeg xl image", nil)
			logging.WarnWithContext(logger, "skipping non-image file", "unsupported_file",
				logging.String(logging.FieldSource, file),
				logging.String(logging.FieldImpact, "file left untouched"))
		}
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, j := range jobs {
		out := &result.Outcomes[j.index]
		args := j.args
		g.Go(func() error {
			s.convertOne(ctx, logger, out, args)
			return nil
		})
	}
	_ = g.Wait()

	result.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Stage) argsFor(kind imageformat.Kind) []string {
	if kind == imageformat.PNG {
		return s.opts.PNGArgs
	}
	return s.opts.JPGArgs
}

// convertOne runs the encode-and-reconcile sequence for one reserved source.
func (s *Stage) convertOne(ctx context.Context, logger *slog.Logger, out *Outcome, args []string) {
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	fileCtx := services.WithSource(ctx, out.Source)
	log := logger.With(logging.String(logging.FieldSource, out.Source))

	if err := ctx.Err(); err != nil {
		out.Status = Failed
		out.Err = err
		return
	}
	if _, err := os.Stat(out.Source); errors.Is(err, os.ErrNotExist) {
		s.markVanished(log, out, err)
		return
	}

	partial := fileutil.PartialPath(out.Reservation.Path)
	res, err := s.enc.Encode(fileCtx, out.Source, partial, args)
	out.Encoder = res
	if err == nil {
		err = fileutil.CommitPartial(partial, out.Reservation.Path)
	}
	if err != nil {
		_ = os.Remove(partial)
		if _, statErr := os.Stat(out.Source); errors.Is(statErr, os.ErrNotExist) {
			s.markVanished(log, out, statErr)
			return
		}
		out.Status = Failed
		out.Err = err
		logging.WarnWithContext(log, "conversion failed", "conversion_failed",
			logging.String("output", out.Reservation.Path),
			logging.String("error_kind", services.Kind(err)),
			logging.String("stdout", strings.TrimSpace(res.Stdout)),
			logging.String("stderr", strings.TrimSpace(res.Stderr)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory will not be packaged or deleted"))
		return
	}

	reconciled, err := collision.Reconcile(out.Reservation)
	if err != nil {
		out.Status = Failed
		out.Err = err
		logging.WarnWithContext(log, "collision reconciliation failed", "reconcile_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory will not be packaged or deleted"))
		return
	}
	out.Status = Converted
	out.Output = reconciled.Final
	if out.Reservation.Collided() {
		out.Reconcile = &reconciled
		s.logReconcile(log, out.Reservation, reconciled)
	}
	log.Info("image converted",
		logging.String("output", out.Output),
		logging.String("format", out.Kind.String()),
		logging.Duration("encode_time", res.Duration))
}

// sweepPartials deletes outputs an earlier run left half written, for
// example when its encoder was killed.
func (s *Stage) sweepPartials(logger *slog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !fileutil.IsPartial(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(logger, "could not remove stale partial output", "remove_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "directory cannot be removed while it remains"))
			continue
		}
		logger.Info("removed stale partial output", logging.String("path", path))
	}
}

func (s *Stage) markVanished(log *slog.Logger, out *Outcome, err error) {
	out.Status = Vanished
	out.Err = services.Wrap(services.ErrNotFound, "convert", "encode", out.Source, err)
	logging.WarnWithContext(log, "source vanished before conversion", "already_deleted",
		logging.String(logging.FieldImpact, "treated as already handled"))
}

func (s *Stage) logReconcile(log *slog.Logger, res collision.Reservation, outcome collision.Outcome) {
	for _, removed := range outcome.Removed {
		log.Debug("removed identical earlier output", logging.String("path", removed))
	}
	for _, vanished := range outcome.Vanished {
		log.Debug("earlier output vanished before comparison", logging.String("path", vanished))
	}
	for _, conflict := range outcome.Conflicts {
		logging.WarnWithContext(log, "output name already holds different content", "collision_differs",
			logging.String("existing", conflict),
			logging.String("output", outcome.Final),
			logging.String(logging.FieldImpact, fmt.Sprintf("new output kept as %s", filepath.Base(outcome.Final))))
	}
	if outcome.Promoted {
		log.Debug("promoted output to canonical name",
			logging.String("from", res.Path),
			logging.String("to", res.Canonical))
	}
}
