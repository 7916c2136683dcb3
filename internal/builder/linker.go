package builder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// LinkPolicy selects how existing content is placed into the output tree.
type LinkPolicy string

// Link policies.
const (
	// LinkPolicyLink hard links only; cross-device placement fails.
	LinkPolicyLink LinkPolicy = "link"
	// LinkPolicyCopy always copies.
	LinkPolicyCopy LinkPolicy = "copy"
	// LinkPolicyAuto hard links and copies only when the link crosses devices.
	LinkPolicyAuto LinkPolicy = "auto"
)

// Linker places a file at dst, replacing whatever is there.
type Linker interface {
	Link(src, dst string) error
}

// NewLinker returns the linker for a policy. An empty policy means auto.
func NewLinker(policy LinkPolicy, logger *slog.Logger) (Linker, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch policy {
	case LinkPolicyLink:
		return HardLinker{}, nil
	case LinkPolicyCopy:
		return Copier{}, nil
	case LinkPolicyAuto, "":
		return &AutoLinker{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown link policy %q (expected link, copy or auto)", policy)
	}
}

// HardLinker creates hard links, so the output shares content with its source.
type HardLinker struct{}

// Link implements Linker.
func (HardLinker) Link(src, dst string) error {
	if err := removeExisting(dst); err != nil {
		return err
	}
	return os.Link(src, dst)
}

// Copier copies file content and permissions.
type Copier struct{}

// Link implements Linker.
func (Copier) Link(src, dst string) error {
	// dst may be a hard link to a source file; truncating it in place would
	// clobber that source.
	if err := removeExisting(dst); err != nil {
		return err
	}
	return copyFile(src, dst)
}

// AutoLinker hard links and falls back to copying across devices.
type AutoLinker struct {
	logger *slog.Logger
	warned bool
	// link defaults to os.Link.
	link func(oldname, newname string) error
}

// Link implements Linker.
func (a *AutoLinker) Link(src, dst string) error {
	if err := removeExisting(dst); err != nil {
		return err
	}
	link := a.link
	if link == nil {
		link = os.Link
	}
	err := link(src, dst)
	if err == nil || !IsCrossDevice(err) {
		return err
	}
	if !a.warned && a.logger != nil {
		a.logger.Warn("hard link crosses devices, copying instead; edits to the output will not reach sources",
			"src", src, "dst", dst)
		a.warned = true
	}
	return copyFile(src, dst)
}

// IsCrossDevice reports whether err is a link failure across filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func removeExisting(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to replace %s: %w", path, err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src comes from the merge walk
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()) //nolint:gosec // dst is inside the output root
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, filepath.Base(dst), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}
