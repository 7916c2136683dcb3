package workshop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/laspad/internal/project"
)

// Uploader command placeholders.
const (
	PlaceholderArchive     = "{archive}"
	PlaceholderPreview     = "{preview}"
	PlaceholderDescription = "{description}"
	PlaceholderTitle       = "{title}"
	PlaceholderItem        = "{item}"
	PlaceholderBranch      = "{branch}"
	PlaceholderTags        = "{tags}"
	PlaceholderChangeNote  = "{changenote}"
)

// ErrNoUploader is returned when no uploader command is configured.
var ErrNoUploader = errors.New("no uploader command configured")

// ModIDFile returns the file recording the item a branch publishes to.
func ModIDFile(p *project.Project, branch string) string {
	return filepath.Join(p.Path, ".modid."+branch)
}

// ReadModID returns the item recorded for branch, or 0 if none is.
func ReadModID(p *project.Project, branch string) (project.ItemID, error) {
	data, err := os.ReadFile(ModIDFile(p, branch))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read .modid.%s: %w", branch, err)
	}
	item, err := project.ParseItemID(string(data))
	if err != nil {
		return 0, fmt.Errorf("'.modid.%s' does not have a valid format, it should contain the item ID of the branch: %w", branch, err)
	}
	return item, nil
}

// WriteModID records the item a branch publishes to.
func WriteModID(p *project.Project, branch string, item project.ItemID) error {
	if err := os.WriteFile(ModIDFile(p, branch), []byte(item.String()), 0o600); err != nil {
		return fmt.Errorf("could not write .modid.%s: %w", branch, err)
	}
	return nil
}

// Publisher hands a packaged branch to an external uploader.
type Publisher struct {
	command []string
	output  io.Writer
	logger  *slog.Logger
}

// PublisherOptions configure a Publisher.
type PublisherOptions struct {
	// Command is the uploader argv; placeholders are substituted per argument.
	Command []string
	// Output receives the uploader's combined output. Defaults to discard.
	Output io.Writer
	Logger *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(opts PublisherOptions) *Publisher {
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{command: opts.Command, output: opts.Output, logger: opts.Logger}
}

// PublishRequest is one branch to publish.
type PublishRequest struct {
	Project    *project.Project
	BranchName string
	Archive    string
	Mods       []Mod
}

// PublishResult describes a finished upload.
type PublishResult struct {
	Item        project.ItemID
	Created     bool
	Description string
	Preview     string
}

// Publish writes the description and preview next to the archive and runs
// the uploader. When the branch has no item yet, the uploader runs with an
// empty {item} and must print the new item ID as its last output line; the
// ID is then recorded in .modid.<branch>.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if len(p.command) == 0 {
		return nil, ErrNoUploader
	}
	branch, err := req.Project.Branch(req.BranchName)
	if err != nil {
		return nil, err
	}

	item, err := p.resolveItem(req.Project, req.BranchName, branch)
	if err != nil {
		return nil, err
	}
	if item != 0 {
		p.logger.Info("publishing", "branch", req.BranchName, "item", item.String())
	} else {
		p.logger.Info("publishing new item", "branch", req.BranchName)
	}

	head := req.Project.GitHead()
	desc, err := Description(DescriptionInput{
		Project: req.Project,
		Branch:  branch,
		Item:    item,
		Mods:    req.Mods,
		GitHead: head,
	})
	if err != nil {
		return nil, fmt.Errorf("could not generate description: %w", err)
	}

	dir := filepath.Dir(req.Archive)
	result := &PublishResult{
		Item:        item,
		Description: filepath.Join(dir, "laspad_description_"+req.BranchName+".txt"),
	}
	if err := os.WriteFile(result.Description, []byte(desc), 0o600); err != nil {
		return nil, fmt.Errorf("could not write description: %w", err)
	}
	result.Preview, err = p.preview(req.Project, branch, dir, req.BranchName)
	if err != nil {
		return nil, err
	}

	changeNote := ""
	if head != "" {
		changeNote = "git commit: " + head
	}
	vars := map[string]string{
		PlaceholderArchive:     req.Archive,
		PlaceholderPreview:     result.Preview,
		PlaceholderDescription: result.Description,
		PlaceholderTitle:       branch.Name,
		PlaceholderItem:        "",
		PlaceholderBranch:      req.BranchName,
		PlaceholderTags:        strings.Join(branch.Tags, ","),
		PlaceholderChangeNote:  changeNote,
	}
	if item != 0 {
		vars[PlaceholderItem] = item.String()
	}

	out, err := p.run(ctx, Expand(p.command, vars))
	if err != nil {
		return nil, err
	}

	if item == 0 {
		created, err := lastItemLine(out)
		if err != nil {
			return nil, fmt.Errorf("uploader did not report the created item: %w", err)
		}
		if err := WriteModID(req.Project, req.BranchName, created); err != nil {
			return nil, err
		}
		p.logger.Info("created new item", "branch", req.BranchName, "item", created.String())
		result.Item = created
		result.Created = true
	}
	return result, nil
}

func (p *Publisher) resolveItem(proj *project.Project, name string, branch project.Branch) (project.ItemID, error) {
	if branch.Item != nil {
		return *branch.Item, nil
	}
	return ReadModID(proj, name)
}

// preview returns the branch preview path, writing a blank PNG when the
// branch has none or it is empty.
func (p *Publisher) preview(proj *project.Project, branch project.Branch, dir, name string) (string, error) {
	if branch.Preview != "" {
		path := branch.Preview
		if !filepath.IsAbs(path) {
			path = filepath.Join(proj.Path, path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("could not read preview: %w", err)
		}
		if info.Size() > 0 {
			return path, nil
		}
	}

	path := filepath.Join(dir, "laspad_preview_"+name+".png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		return "", fmt.Errorf("could not encode blank preview: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("could not write blank preview: %w", err)
	}
	return path, nil
}

func (p *Publisher) run(ctx context.Context, argv []string) ([]byte, error) {
	p.logger.Debug("running uploader", "command", strings.Join(argv, " "))

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // uploader is user configured
	cmd.Stdout = io.MultiWriter(&out, p.output)
	cmd.Stderr = p.output
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("uploader %s failed: %w", argv[0], err)
	}
	return out.Bytes(), nil
}

// Expand substitutes placeholders in every argument.
func Expand(argv []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

func lastItemLine(out []byte) (project.ItemID, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return project.ParseItemID(lines[len(lines)-1])
}
