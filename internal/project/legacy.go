package project

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ParseDeclarations scans key = "value" and key = [[long]] / [==[long]==]
// declarations. Lines that are not declarations (comments, stray code) are skipped.
func ParseDeclarations(src string) map[string]string {
	s := &declScanner{src: src}
	decls := make(map[string]string)
	for !s.eof() {
		s.skipSpace()
		if s.eof() {
			break
		}
		start := s.pos
		key, value, ok := s.declaration()
		if !ok {
			s.pos = start
			s.skipLine()
			continue
		}
		decls[key] = value
	}
	return decls
}

type declScanner struct {
	src string
	pos int
}

func (s *declScanner) eof() bool { return s.pos >= len(s.src) }

func (s *declScanner) skipSpace() {
	for !s.eof() && unicode.IsSpace(rune(s.src[s.pos])) {
		s.pos++
	}
}

func (s *declScanner) skipLine() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		s.pos += i + 1
		return
	}
	s.pos = len(s.src)
}

func (s *declScanner) declaration() (string, string, bool) {
	start := s.pos
	for !s.eof() {
		c := rune(s.src[s.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			break
		}
		s.pos++
	}
	key := s.src[start:s.pos]
	if key == "" {
		return "", "", false
	}

	s.skipSpace()
	if s.eof() || s.src[s.pos] != '=' {
		return "", "", false
	}
	s.pos++
	s.skipSpace()
	if s.eof() {
		return "", "", false
	}

	switch s.src[s.pos] {
	case '"':
		end := strings.IndexByte(s.src[s.pos+1:], '"')
		if end < 0 {
			return "", "", false
		}
		value := s.src[s.pos+1 : s.pos+1+end]
		s.pos += end + 2
		return key, value, true

	case '[':
		level := 0
		i := s.pos + 1
		for i < len(s.src) && s.src[i] == '=' {
			level++
			i++
		}
		if i >= len(s.src) || s.src[i] != '[' {
			return "", "", false
		}
		closing := "]" + strings.Repeat("=", level) + "]"
		body := s.src[i+1:]
		end := strings.Index(body, closing)
		if end < 0 {
			return "", "", false
		}
		s.pos = i + 1 + end + len(closing)
		return key, body[:end], true
	}
	return "", "", false
}

// Keys read from mod.settings.
const (
	legacySourceDir = "source_dir"
	legacyOutputDir = "output_dir"
)

var legacyRequired = []string{"name", "description", "image", "publish_id", legacySourceDir, legacyOutputDir}

// ParseLegacy builds a Config from mod.settings content.
// All tag_* keys become tags of the single master branch.
func ParseLegacy(src string) (*Config, error) {
	decls := ParseDeclarations(src)
	for _, key := range legacyRequired {
		if _, ok := decls[key]; !ok {
			return nil, fmt.Errorf("key %q is missing from %s", key, LegacyFile)
		}
	}

	item, err := ParseItemID(decls["publish_id"])
	if err != nil {
		return nil, fmt.Errorf("'publish_id' in %s has an invalid format, it should be hexadecimal: %w", LegacyFile, err)
	}

	var tagKeys []string
	for k := range decls {
		if strings.HasPrefix(k, "tag_") {
			tagKeys = append(tagKeys, k)
		}
	}
	sort.Strings(tagKeys)
	tags := make([]string, 0, len(tagKeys))
	for _, k := range tagKeys {
		tags = append(tags, decls[k])
	}

	auto := false
	return &Config{
		format: FormatLegacy,
		branches: map[string]Branch{
			DefaultBranch: {
				Name:            decls["name"],
				Tags:            tags,
				AutoDescription: &auto,
				DescriptionText: decls["description"],
				Preview:         decls["image"],
				Item:            &item,
			},
		},
		override: &SourceOverride{
			SourceDir: decls[legacySourceDir],
			OutputDir: decls[legacyOutputDir],
		},
	}, nil
}

// LegacyDirs extracts the source_dir and output_dir declarations from mod.settings content.
// Missing keys are returned as ok=false.
func LegacyDirs(src string) (source string, hasSource bool, output string, hasOutput bool) {
	decls := ParseDeclarations(src)
	source, hasSource = decls[legacySourceDir]
	output, hasOutput = decls[legacyOutputDir]
	return source, hasSource, output, hasOutput
}
