// Package rules maps source file extensions to external build steps.
//
// A rule is data: the outputs a source produces and the command that produces
// them. Files whose extension has no rule are passed through unchanged.
package rules

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Command is an external program invocation.
type Command struct {
	Program string
	Args    []string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Program}, c.Args...) {
		if strings.ContainsAny(p, " \t\"") {
			p = fmt.Sprintf("%q", p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// Invocation carries the paths a command template is parameterised by.
type Invocation struct {
	// Src is the absolute source file path.
	Src string
	// Dst is the destination path relative to OutputRoot.
	Dst string
	// OutputRoot is the absolute root of the output tree under construction.
	OutputRoot string
}

// Rule describes how one file type is built.
type Rule struct {
	// Ext is the extension key without the leading dot, matched exactly.
	Ext string
	// Outputs returns every destination-relative path produced for dst.
	// The first entry is the primary output.
	Outputs func(dst string) []string
	// Command returns the invocation that produces the outputs.
	Command func(inv Invocation) Command
}

// Table is an extension-keyed set of rules.
type Table struct {
	rules map[string]Rule
}

// NewTable builds a table from rules. Two rules for one extension is an error.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := t.Register(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds a rule.
func (t *Table) Register(r Rule) error {
	if r.Ext == "" || strings.HasPrefix(r.Ext, ".") {
		return fmt.Errorf("rule extension must be non-empty and without a leading dot: %q", r.Ext)
	}
	if r.Outputs == nil || r.Command == nil {
		return fmt.Errorf("rule %q must define outputs and a command", r.Ext)
	}
	if _, exists := t.rules[r.Ext]; exists {
		return fmt.Errorf("a rule for %q is already registered", r.Ext)
	}
	t.rules[r.Ext] = r
	return nil
}

// Lookup returns the rule for path's extension.
func (t *Table) Lookup(path string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return Rule{}, false
	}
	r, ok := t.rules[ext]
	return r, ok
}

// Extensions returns the registered extensions in sorted order.
func (t *Table) Extensions() []string {
	exts := make([]string, 0, len(t.rules))
	for ext := range t.rules {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Len returns the number of registered rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// ReplaceExt swaps the extension of a relative path.
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
