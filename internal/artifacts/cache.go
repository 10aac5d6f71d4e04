package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

const (
	documentsDir = "pdfs"
	imagesDir    = "images"
)

// Config locates the reference book, the tools and the cache directories
type Config struct {
	Root          string // scratch root holding the pdfs/ and images/ directories
	Reference     string // the full book every extract is sliced from
	ExtractTool   string
	RenderTool    string
	MaxConcurrent int // upper bound on simultaneously running tools
}

// Cache materializes per-recipe PDF extracts and images on first request and
// reuses them afterwards. Presence on disk is the only cache key: files are
// never invalidated or removed.
type Cache struct {
	cfg    Config
	runner Runner
	slots  *semaphore.Weighted
}

// New creates a cache. A nil runner runs tools as local processes.
func New(cfg Config, runner Runner) *Cache {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Cache{
		cfg:    cfg,
		runner: runner,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// DocumentFor returns the path of the PDF extract holding the pages of rec,
// extracting it from the reference book if it does not exist yet.
func (c *Cache) DocumentFor(ctx context.Context, rec models.Record) (string, error) {
	dir := c.dir(documentsDir)
	path := filepath.Join(dir, fileName(rec.Name)+".pdf")

	if fileExists(path) {
		slog.Debug("Reusing cached document", "record_id", rec.ID, "path", path)
		return path, nil
	}

	pages := fmt.Sprintf("%d-%d", rec.PageStart, rec.PageEnd)
	if _, err := c.run(ctx, c.cfg.ExtractTool, c.cfg.Reference, "cat", pages, "output", path); err != nil {
		return "", fmt.Errorf("failed to extract pages %s for %q: %w", pages, rec.Name, err)
	}

	slog.Info("Document extracted", "record_id", rec.ID, "pages", pages, "path", path)
	return path, nil
}

// ImageFor returns the path of a PNG rendered from the PDF extract of rec.
// The render tool chooses the final filename; when it reports several files
// the last one wins.
func (c *Cache) ImageFor(ctx context.Context, rec models.Record) (string, error) {
	doc, err := c.DocumentFor(ctx, rec)
	if err != nil {
		return "", err
	}

	dir := c.dir(imagesDir)
	base := filepath.Join(dir, fileName(rec.Name))

	if existing, ok := findImage(base); ok {
		slog.Debug("Reusing cached image", "record_id", rec.ID, "path", existing)
		return existing, nil
	}

	stdout, err := c.run(ctx, c.cfg.RenderTool, "-png", "-print-filenames", doc, base)
	if err != nil {
		return "", fmt.Errorf("failed to render image for %q: %w", rec.Name, err)
	}

	image := lastLine(string(stdout))
	if image == "" {
		return "", fmt.Errorf("failed to render image for %q: %w", rec.Name, ErrNoOutputProduced)
	}

	slog.Info("Image rendered", "record_id", rec.ID, "path", image)
	return image, nil
}

// Warm materializes the artifacts of every record, running at most
// concurrency records at once. It stops scheduling new work after the first
// failure.
func (c *Cache) Warm(ctx context.Context, records []models.Record, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			var err error
			if rec.HasPicture {
				_, err = c.ImageFor(gctx, rec)
			} else {
				_, err = c.DocumentFor(gctx, rec)
			}
			return err
		})
	}

	return g.Wait()
}

// run executes a tool once a slot is free. The tool itself ignores
// cancellation: once started it runs until it exits.
func (c *Cache) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.slots.Release(1)

	slog.Debug("Running tool", "tool", tool, "args", args)
	return c.runner.Run(tool, args...)
}

// dir returns a cache directory, creating it if needed. A creation failure is
// only logged; the tool writing into it will report the problem.
func (c *Cache) dir(name string) string {
	dir := filepath.Join(c.cfg.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Could not create cache directory", "dir", dir, "err", err)
	}
	return dir
}

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

func fileName(name string) string {
	name = nameReplacer.Replace(name)
	if name == "." || name == ".." {
		return strings.Repeat("_", len(name))
	}
	return name
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// findImage looks for files named <base>-<digits>.png, the naming used by
// pdfimages, and returns the one with the highest index.
func findImage(base string) (string, bool) {
	entries, err := os.ReadDir(filepath.Dir(base))
	if err != nil {
		return "", false
	}

	prefix := filepath.Base(base) + "-"
	found := ""
	highest := -1
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".png") {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".png")
		if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
			continue
		}
		index, err := strconv.Atoi(digits)
		if err != nil || index <= highest {
			continue
		}
		highest = index
		found = filepath.Join(filepath.Dir(base), name)
	}

	return found, found != ""
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
