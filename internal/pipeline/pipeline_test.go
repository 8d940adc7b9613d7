package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"jxlpack/internal/config"
	"jxlpack/internal/convert"
	"jxlpack/internal/fileutil"
	"jxlpack/internal/logging"
	"jxlpack/internal/services"
	"jxlpack/internal/testsupport"
	"jxlpack/internal/worklist"
)

func openStore(t *testing.T, cfg *config.Config, root string) *worklist.Store {
	t.Helper()
	store, err := worklist.Open(context.Background(), cfg.StateDir, root, cfg.Settings())
	if err != nil {
		t.Fatalf("open worklist: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newPipeline(t *testing.T, cfg *config.Config, store Worklist) *Pipeline {
	t.Helper()
	p, err := NewFromConfig(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return p
}

func runOnce(t *testing.T, cfg *config.Config, root string) Summary {
	t.Helper()
	store, err := worklist.Open(context.Background(), cfg.StateDir, root, cfg.Settings())
	if err != nil {
		t.Fatalf("open worklist: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close worklist: %v", err)
		}
	}()
	summary, err := newPipeline(t, cfg, store).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return summary
}

func members(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive %s: %v", path, err)
	}
	defer r.Close()
	out := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open member %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read member %s: %v", f.Name, err)
		}
		out[f.Name] = data
	}
	return out
}

func names(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func reportFor(t *testing.T, s Summary, dir string) DirReport {
	t.Helper()
	for _, d := range s.Directories {
		if d.Dir == dir {
			return d
		}
	}
	t.Fatalf("no report for %s", dir)
	return DirReport{}
}

func assertDone(t *testing.T, cfg *config.Config, root string, dirs ...string) {
	t.Helper()
	store := openStore(t, cfg, root)
	for _, dir := range dirs {
		entry, ok, err := store.Lookup(context.Background(), dir)
		if err != nil {
			t.Fatalf("lookup %s: %v", dir, err)
		}
		if !ok || !entry.Done {
			t.Fatalf("expected %s to be done, got ok=%v entry=%+v", dir, ok, entry)
		}
	}
}

func TestRunPackagesSiblingDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDeletion(true, true))
	root := t.TempDir()
	x := filepath.Join(root, "x")
	y := filepath.Join(root, "y")
	testsupport.WriteJPEG(t, filepath.Join(x, "one.jpg"), 1)
	testsupport.WriteJPEG(t, filepath.Join(x, "two.jpg"), 2)
	testsupport.WritePNG(t, filepath.Join(y, "pic.png"), 3)
	testsupport.WriteFile(t, filepath.Join(y, "readme.txt"), "keep me")

	summary := runOnce(t, cfg, root)
	if summary.Interrupted {
		t.Fatal("run should not be interrupted")
	}

	if got := names(members(t, filepath.Join(root, "x.zip"))); len(got) != 2 || got[0] != "one.jxl" || got[1] != "two.jxl" {
		t.Fatalf("unexpected x archive members %v", got)
	}
	if testsupport.Exists(x) {
		t.Fatalf("expected %s removed", x)
	}
	if rep := reportFor(t, summary, x); rep.State != StatePackaged || rep.Converted != 2 || !rep.DirRemoved {
		t.Fatalf("unexpected x report %+v", rep)
	}

	if got := names(members(t, filepath.Join(root, "y.zip"))); len(got) != 1 || got[0] != "pic.jxl" {
		t.Fatalf("unexpected y archive members %v", got)
	}
	if got := listDir(t, y); len(got) != 1 || got[0] != "readme.txt" {
		t.Fatalf("expected only readme.txt left in y, got %v", got)
	}
	rep := reportFor(t, summary, y)
	if rep.DirRemoved || rep.Unsupported != 1 || rep.SourcesRemoved != 1 {
		t.Fatalf("unexpected y report %+v", rep)
	}

	// Root itself holds only the two child archives, which are not images.
	if rep := reportFor(t, summary, root); rep.State != StateNoImages {
		t.Fatalf("expected root to have no images, got %+v", rep)
	}
	if !testsupport.Exists(filepath.Join(root, "x.zip")) {
		t.Fatal("child archive must survive the parent pass")
	}
	assertDone(t, cfg, root, root, y)
}

func TestRunProcessesDeepestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b")
	testsupport.WritePNG(t, filepath.Join(deep, "p.png"), 1)
	testsupport.WritePNG(t, filepath.Join(root, "a", "q.png"), 2)

	summary := runOnce(t, cfg, root)
	if len(summary.Directories) != 3 {
		t.Fatalf("expected 3 directories, got %d", len(summary.Directories))
	}
	if summary.Directories[0].Dir != deep {
		t.Fatalf("expected %s first, got %s", deep, summary.Directories[0].Dir)
	}
	got := names(members(t, filepath.Join(root, "a.zip")))
	if len(got) != 1 || got[0] != "q.jxl" {
		t.Fatalf("parent archive should not include the child archive, got %v", got)
	}
	if !testsupport.Exists(filepath.Join(root, "a", "b.zip")) {
		t.Fatal("expected child archive beside child directory")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(root, "d", "a.png"), 1)

	first := runOnce(t, cfg, root)
	if len(first.Directories) != 2 {
		t.Fatalf("expected 2 directories on first run, got %d", len(first.Directories))
	}

	// New content appearing in a done directory is not picked up.
	testsupport.WritePNG(t, filepath.Join(root, "d", "b.png"), 2)
	second := runOnce(t, cfg, root)
	if len(second.Directories) != 0 {
		t.Fatalf("expected no work on second run, got %+v", second.Directories)
	}
	if second.AlreadyDone != 2 {
		t.Fatalf("expected 2 already done, got %d", second.AlreadyDone)
	}
	if testsupport.Exists(filepath.Join(root, "d", "b.jxl")) {
		t.Fatal("done directory must not be converted again")
	}
}

func TestFailureBlocksPackagingAndDeletion(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubEncoder(testsupport.StubSelective),
		testsupport.WithDeletion(true, true))
	root := t.TempDir()
	dir := filepath.Join(root, "mixed")
	testsupport.WritePNG(t, filepath.Join(dir, "good.png"), 1)
	testsupport.WritePNG(t, filepath.Join(dir, "bad.png"), 2)

	summary := runOnce(t, cfg, root)
	rep := reportFor(t, summary, dir)
	if rep.State != StateFailed || rep.Failed != 1 || rep.Converted != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if testsupport.Exists(filepath.Join(root, "mixed.zip")) {
		t.Fatal("no archive may be written for a failed directory")
	}
	for _, name := range []string{"good.png", "bad.png", "good.jxl"} {
		if !testsupport.Exists(filepath.Join(dir, name)) {
			t.Fatalf("expected %s to survive", name)
		}
	}
	if totals := summary.Totals(); totals.FailedDirs != 1 {
		t.Fatalf("expected one failed directory, got %+v", totals)
	}
	assertDone(t, cfg, root, dir)
}

func TestNoImagesLeavesDirectoryUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDeletion(true, true))
	root := t.TempDir()
	dir := filepath.Join(root, "docs")
	testsupport.WriteFile(t, filepath.Join(dir, "a.txt"), "a")

	summary := runOnce(t, cfg, root)
	if rep := reportFor(t, summary, dir); rep.State != StateNoImages {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got := listDir(t, dir); len(got) != 1 || got[0] != "a.txt" {
		t.Fatalf("directory changed: %v", got)
	}
	if testsupport.Exists(filepath.Join(root, "docs.zip")) {
		t.Fatal("no archive expected")
	}
	assertDone(t, cfg, root, dir)
}

func TestResumeAfterCrashTreatsArchivedSourcesAsHandled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDeletion(true, false))
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)

	// First run completes the directory, then the worklist is reset to
	// pending as if the process died before recording done.
	runOnce(t, cfg, root)
	archived := members(t, filepath.Join(root, "x.zip"))
	if _, ok := archived["a.jxl"]; !ok {
		t.Fatalf("expected a.jxl archived, got %v", names(archived))
	}
	if _, err := worklist.Reset(cfg.StateDir, root); err != nil {
		t.Fatalf("reset: %v", err)
	}

	summary := runOnce(t, cfg, root)
	rep := reportFor(t, summary, dir)
	if rep.State != StateNoImages || rep.Converted != 0 || rep.Failed != 0 {
		t.Fatalf("unexpected report on resume %+v", rep)
	}
	if got := names(members(t, filepath.Join(root, "x.zip"))); len(got) != 1 || got[0] != "a.jxl" {
		t.Fatalf("archive changed on resume: %v", got)
	}
	if testsupport.Exists(filepath.Join(root, "x(1).zip")) {
		t.Fatal("resume must not write a second archive")
	}
	assertDone(t, cfg, root, dir)
}

func TestResumeReusesLooseOutputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)

	// A crashed run left the converted output but never packaged it.
	src, err := os.ReadFile(filepath.Join(dir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(dir, "a.jxl"), testsupport.JXLMagic+string(src))

	summary := runOnce(t, cfg, root)
	rep := reportFor(t, summary, dir)
	if rep.State != StatePackaged {
		t.Fatalf("unexpected report %+v", rep)
	}
	got := names(members(t, filepath.Join(root, "x.zip")))
	if len(got) != 1 || got[0] != "a.jxl" {
		t.Fatalf("expected a single a.jxl member, got %v", got)
	}
	if testsupport.Exists(filepath.Join(dir, "a(1).jxl")) {
		t.Fatal("numbered duplicate must be reconciled away")
	}
}

func TestDifferentContentCollisionKeepsBoth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)
	testsupport.WriteJXL(t, filepath.Join(dir, "a.jxl"), "unrelated")

	summary := runOnce(t, cfg, root)
	if rep := reportFor(t, summary, dir); rep.State != StatePackaged || rep.Kept != 1 || rep.Converted != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	got := members(t, filepath.Join(root, "x.zip"))
	if len(got) != 2 {
		t.Fatalf("expected both outputs archived, got %v", names(got))
	}
	if string(got["a.jxl"]) != testsupport.JXLMagic+"unrelated" {
		t.Fatal("pre-existing file content must be preserved")
	}
	if _, ok := got["a(1).jxl"]; !ok {
		t.Fatalf("expected numbered output, got %v", names(got))
	}
}

func TestMakeZipDisabledLeavesOutputsLoose(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMakeZip(false), testsupport.WithDeletion(true, true))
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)

	summary := runOnce(t, cfg, root)
	rep := reportFor(t, summary, dir)
	if rep.State != StateNotPackaged || rep.DirRemoved {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got := listDir(t, dir); len(got) != 1 || got[0] != "a.jxl" {
		t.Fatalf("expected only the output to remain, got %v", got)
	}
}

func TestExcludedDirectoriesAreSkipped(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithExclude("skip/**", "skip"))
	root := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(root, "skip", "a.png"), 1)
	testsupport.WritePNG(t, filepath.Join(root, "keep", "b.png"), 2)

	summary := runOnce(t, cfg, root)
	if summary.Excluded != 1 {
		t.Fatalf("expected one excluded directory, got %d", summary.Excluded)
	}
	if testsupport.Exists(filepath.Join(root, "skip.zip")) {
		t.Fatal("excluded directory must not be packaged")
	}
	if !testsupport.Exists(filepath.Join(root, "keep.zip")) {
		t.Fatal("expected keep.zip")
	}
}

func TestInterruptedDirectoryStaysPending(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubEncoder(testsupport.StubSleep))
	root := t.TempDir()
	dir := filepath.Join(root, "slow")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)

	store := openStore(t, cfg, root)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	summary, err := newPipeline(t, cfg, store).Run(ctx, root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Interrupted {
		t.Fatal("expected interrupted run")
	}
	entry, ok, err := store.Lookup(context.Background(), dir)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if entry.Done {
		t.Fatal("interrupted directory must stay pending")
	}
	if rep := reportFor(t, summary, dir); rep.State != StateInterrupted || !rep.Pending {
		t.Fatalf("expected interrupted pending report, got %+v", rep)
	}
	if testsupport.Exists(filepath.Join(root, "slow.zip")) {
		t.Fatal("no archive for an interrupted directory")
	}
}

func TestResumeAfterKilledEncoderArchivesOneOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubEncoder(testsupport.StubTruncate))
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	src := filepath.Join(dir, "a.png")
	testsupport.WritePNG(t, src, 1)
	original, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	store, err := worklist.Open(context.Background(), cfg.StateDir, root, cfg.Settings())
	if err != nil {
		t.Fatalf("open worklist: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	summary, err := newPipeline(t, cfg, store).Run(ctx, root)
	cancel()
	if closeErr := store.Close(); closeErr != nil {
		t.Fatalf("close worklist: %v", closeErr)
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Interrupted {
		t.Fatal("expected interrupted run")
	}
	if testsupport.Exists(filepath.Join(dir, "a.jxl")) {
		t.Fatal("a killed encoder must not leave output in the reserved slot")
	}

	cfg.Encoder = testsupport.WriteStubEncoder(t, t.TempDir(), testsupport.StubConvert)
	summary = runOnce(t, cfg, root)
	rep := reportFor(t, summary, dir)
	if rep.State != StatePackaged || rep.Converted != 1 || rep.Kept != 0 {
		t.Fatalf("unexpected report on resume %+v", rep)
	}
	archived := members(t, filepath.Join(root, "x.zip"))
	if got := names(archived); len(got) != 1 || got[0] != "a.jxl" {
		t.Fatalf("expected only a.jxl archived, got %v", got)
	}
	if want := testsupport.JXLMagic + string(original); string(archived["a.jxl"]) != want {
		t.Fatalf("archived a.jxl is not the complete output (%d bytes)", len(archived["a.jxl"]))
	}
	for _, name := range listDir(t, dir) {
		if fileutil.IsPartial(name) {
			t.Fatalf("partial output %s left behind", name)
		}
	}
	assertDone(t, cfg, root, dir)
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubEncoder(testsupport.StubSleep),
		testsupport.WithEncodeTimeout(1))
	root := t.TempDir()
	dir := filepath.Join(root, "slow")
	testsupport.WritePNG(t, filepath.Join(dir, "a.png"), 1)

	summary := runOnce(t, cfg, root)
	if rep := reportFor(t, summary, dir); rep.State != StateFailed || rep.Failed != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	assertDone(t, cfg, root, dir)
}

type fakeWorklist struct {
	pending []string
	done    map[string]error
}

func (f *fakeWorklist) EnsureAll(_ context.Context, paths []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, p := range paths {
		out[p] = false
	}
	return out, nil
}

func (f *fakeWorklist) MarkDone(_ context.Context, path string) error {
	f.pending = append(f.pending, path)
	return f.done[path]
}

func TestMissingEntryIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	wl := &fakeWorklist{done: map[string]error{root: &worklist.MissingEntryError{Path: root}}}

	_, err := newPipeline(t, cfg, wl).Run(context.Background(), root)
	var missing *worklist.MissingEntryError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingEntryError, got %v", err)
	}
}

func TestAlreadyDoneIsNotFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	wl := &fakeWorklist{done: map[string]error{root: worklist.ErrAlreadyDone}}

	summary, err := newPipeline(t, cfg, wl).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Directories) != 1 {
		t.Fatalf("expected one directory, got %d", len(summary.Directories))
	}
}

type vanishingConverter struct{}

func (vanishingConverter) Run(_ context.Context, dir string) (convert.DirResult, error) {
	_, err := convert.ListFiles(filepath.Join(dir, "gone"))
	return convert.DirResult{Dir: dir}, err
}

func TestVanishedDirectoryIsMarkedDone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	wl := &fakeWorklist{}
	p := New(cfg, wl, vanishingConverter{}, nil, logging.NewNop())

	rep, err := p.ProcessDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	if rep.State != StateVanished {
		t.Fatalf("expected vanished, got %s", rep.State)
	}
	if len(wl.pending) != 1 || wl.pending[0] != root {
		t.Fatalf("expected MarkDone on %s, got %v", root, wl.pending)
	}
}

type unlistableConverter struct{}

func (unlistableConverter) Run(_ context.Context, dir string) (convert.DirResult, error) {
	err := &os.PathError{Op: "open", Path: dir, Err: os.ErrPermission}
	return convert.DirResult{Dir: dir}, services.Wrap(services.ErrTransient, "convert", "list directory", dir, err)
}

func TestUnlistableDirectoryStaysPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	wl := &fakeWorklist{}
	p := New(cfg, wl, unlistableConverter{}, nil, logging.NewNop())

	rep, err := p.ProcessDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	if rep.State != StateFailed || !rep.Pending {
		t.Fatalf("expected failed and pending, got %+v", rep)
	}
	if len(wl.pending) != 0 {
		t.Fatalf("unlistable directory must not be marked done, got %v", wl.pending)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{1500 * time.Millisecond, "00:00:01.500"},
		{time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, "01:02:03.004"},
		{-time.Second, "00:00:00.000"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
