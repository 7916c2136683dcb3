package workshop

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/laspad/internal/archive"
	"github.com/leapstack-labs/laspad/internal/project"
)

// TimestampFile records when the extracted copy of an item was published,
// as a little-endian uint64 of unix seconds.
const TimestampFile = ".update_timestamp"

// DefaultConcurrency bounds parallel item updates.
const DefaultConcurrency = 4

// Outcome is the result of updating one item.
type Outcome struct {
	Item    project.ItemID
	Dir     string
	Updated bool
	Local   uint64
	Remote  uint64
	Files   int
}

// Updater downloads outdated items into an item-keyed cache directory.
type Updater struct {
	client      *Client
	concurrency int
	logger      *slog.Logger
}

// UpdaterOptions configure an Updater.
type UpdaterOptions struct {
	Client      *Client
	Concurrency int
	Logger      *slog.Logger
}

// NewUpdater creates an updater.
func NewUpdater(opts UpdaterOptions) *Updater {
	if opts.Client == nil {
		opts.Client = NewClient()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Updater{client: opts.Client, concurrency: opts.Concurrency, logger: opts.Logger}
}

// UpdateProject updates every remote dependency of p into cacheDir
// (relative paths resolve against the project root). Items update
// concurrently; the first failure cancels the rest. Outcomes keep the
// declaration order.
func (u *Updater) UpdateProject(ctx context.Context, p *project.Project, cacheDir string) ([]Outcome, error) {
	items := p.Config.Dependencies()
	outcomes := make([]Outcome, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, item := range items {
		dir := p.ItemPath(cacheDir, item)
		g.Go(func() error {
			out, err := u.Update(ctx, item, dir)
			if err != nil {
				return err
			}
			outcomes[i] = *out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Update refreshes one item in dir when the published copy is newer than
// the extracted one.
func (u *Updater) Update(ctx context.Context, item project.ItemID, dir string) (*Outcome, error) {
	details, err := u.client.Details(ctx, item)
	if err != nil {
		return nil, err
	}

	local, err := ReadTimestamp(dir)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Item: item, Dir: dir, Local: local, Remote: details.TimeUpdated}

	if local >= details.TimeUpdated {
		u.logger.Debug("workshop item is up to date", "item", item.String())
		return out, nil
	}

	if local > 0 {
		u.logger.Info("workshop item is outdated", "item", item.String(),
			"old", Details{TimeUpdated: local}.UpdatedAt().Format("2006-01-02"), "new", details.UpdatedAt().Format("2006-01-02"))
	} else {
		u.logger.Info("downloading workshop item", "item", item.String(), "published", details.UpdatedAt().Format("2006-01-02"))
	}

	files, err := u.replace(ctx, details, dir)
	if err != nil {
		return nil, fmt.Errorf("could not update %s: %w", item, err)
	}
	out.Updated = true
	out.Files = files
	return out, nil
}

// replace extracts the item archive next to dir and swaps it in, so a
// failed download leaves the old copy untouched.
func (u *Updater) replace(ctx context.Context, details *Details, dir string) (int, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return 0, fmt.Errorf("could not create %s: %w", parent, err)
	}

	zipFile, err := os.CreateTemp(parent, ".download-*.zip")
	if err != nil {
		return 0, fmt.Errorf("could not create download file: %w", err)
	}
	defer func() {
		_ = zipFile.Close()
		_ = os.Remove(zipFile.Name())
	}()

	size, err := u.client.Download(ctx, details.FileURL, zipFile)
	if err != nil {
		return 0, fmt.Errorf("could not download archive: %w", err)
	}

	staging, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return 0, fmt.Errorf("could not create extraction directory: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.RemoveAll(staging)
		}
	}()

	files, err := archive.Extract(ctx, zipFile, size, staging)
	if err != nil {
		return 0, err
	}
	if err := WriteTimestamp(staging, details.TimeUpdated); err != nil {
		return 0, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("could not remove outdated copy: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return 0, fmt.Errorf("could not move extracted item into place: %w", err)
	}
	cleanup = false
	return files, nil
}

// ReadTimestamp returns the recorded publish time in dir, or 0 if none.
func ReadTimestamp(dir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, TimestampFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read %s: %w", TimestampFile, err)
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("could not read %s in %s: truncated", TimestampFile, dir)
	}
	return binary.LittleEndian.Uint64(data), nil
}

// WriteTimestamp records ts in dir.
func WriteTimestamp(dir string, ts uint64) error {
	buf := binary.LittleEndian.AppendUint64(nil, ts)
	if err := os.WriteFile(filepath.Join(dir, TimestampFile), buf, 0o600); err != nil {
		return fmt.Errorf("could not write %s: %w", TimestampFile, err)
	}
	return nil
}

