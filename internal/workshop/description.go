package workshop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/resolver"
)

type bbRule struct {
	re   *regexp.Regexp
	repl string
}

// Applied in order: code blocks before inline code, headings before
// emphasis, bold before italic.
var markdownRules = []bbRule{
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "[url=${2}]${1}[/url]"},
	{regexp.MustCompile("(?s)```(.*?)```"), "[code]${1}[/code]"},
	{regexp.MustCompile("(?s)``(.*?)``"), "[code]${1}[/code]"},
	{regexp.MustCompile("`(.*?)`"), "[code]${1}[/code]"},
	{regexp.MustCompile(`(^|\n)##(.*)`), "${1}[b]${2}[/b]"},
	{regexp.MustCompile(`(^|\n)#(.*)`), "${1}[h1]${2}[/h1]"},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "[b]${1}[/b]"},
	{regexp.MustCompile(`\*(.*?)\*`), "[i]${1}[/i]"},
	{regexp.MustCompile(`~~(.*?)~~`), "[strike]${1}[/strike]"},
}

// MarkdownToBBCode converts the markdown subset workshop pages understand.
func MarkdownToBBCode(md string) string {
	for _, r := range markdownRules {
		md = r.re.ReplaceAllString(md, r.repl)
	}
	return md
}

// HTMLToBBCode converts HTML through markdown.
func HTMLToBBCode(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("could not convert HTML description: %w", err)
	}
	return MarkdownToBBCode(md), nil
}

// Mod is an included dependency listed in the generated description.
type Mod struct {
	Name string
	URL  string
}

// IncludedMods lists the dependencies of a resolved plan that can be linked:
// workshop items by their page, local dependencies by the origin remote of
// their own checkout. The name comes from .modinfo when present, otherwise
// the item ID or directory name.
func IncludedMods(plan *resolver.Plan) []Mod {
	var mods []Mod
	seen := map[string]bool{}
	for _, dep := range plan.Dependencies {
		var url string
		switch dep.Kind {
		case resolver.KindRemote:
			url = dep.Item.URL()
		case resolver.KindLocal:
			url = project.OriginURL(dep.Path)
		}
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		name := dep.Name
		if info, err := project.ReadModInfo(dep.Path); err == nil && info.Name != "" {
			name = info.Name
		}
		mods = append(mods, Mod{Name: name, URL: url})
	}
	return mods
}

// DescriptionInput is everything a branch description is built from.
type DescriptionInput struct {
	Project *project.Project
	Branch  project.Branch
	// Item is zero when the branch has never been published.
	Item    project.ItemID
	Mods    []Mod
	GitHead string
}

// Description renders the workshop description of a branch: the custom
// text, prefixed by a generated header unless the branch opts out.
func Description(in DescriptionInput) (string, error) {
	custom, err := customDescription(in.Project, in.Branch)
	if err != nil {
		return "", err
	}
	if !in.Branch.WantsAutoDescription() {
		return custom, nil
	}

	var b strings.Builder
	if in.Item != 0 {
		fmt.Fprintf(&b, "[b]Mod ID: %s[/b]\n", in.Item)
	}
	if in.Branch.Website != "" {
		fmt.Fprintf(&b, "[b][url=%s]website[/url][/b]\n", in.Branch.Website)
		if in.GitHead != "" {
			fmt.Fprintf(&b, "current git commit: %s\n", in.GitHead)
		}
		b.WriteString("\n")
	}
	if len(in.Mods) > 0 {
		b.WriteString("Mods included: [list]\n")
		for _, m := range in.Mods {
			fmt.Fprintf(&b, "  [*] [url=%s]%s[/url]\n", m.URL, m.Name)
		}
		b.WriteString("[/list]\n\n")
	}
	b.WriteString("\n")
	b.WriteString(custom)
	return b.String(), nil
}

func customDescription(p *project.Project, branch project.Branch) (string, error) {
	if branch.Description == "" {
		return branch.DescriptionText, nil
	}

	path := branch.Description
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.Path, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return branch.DescriptionText, nil
	}
	if err != nil {
		return "", fmt.Errorf("could not read description %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return MarkdownToBBCode(string(data)), nil
	case ".html", ".htm":
		return HTMLToBBCode(string(data))
	default:
		return string(data), nil
	}
}
