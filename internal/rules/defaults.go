package rules

import (
	"path/filepath"
	"strings"
)

// OverviewsDir is inserted before the file name of level auxiliary outputs.
const OverviewsDir = "overviews"

// NormalMapSuffix marks a texture stem that must be compressed as a normal map.
const NormalMapSuffix = "_normal"

// Tools locates the external programs used by the default rules.
type Tools struct {
	// Overview builds level overview images and height maps.
	Overview string
	// Texture converts layered images to compressed textures.
	Texture string
}

// Compression flags passed to the texture tool.
var (
	colorTextureFlags  = []string{"-color", "-bc3"}
	normalTextureFlags = []string{"-normal", "-bc3n"}
)

// LevelRule copies a level and generates its overview artifacts.
func LevelRule(tools Tools) Rule {
	return Rule{
		Ext: "level",
		Outputs: func(dst string) []string {
			dir, name := filepath.Split(dst)
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			return []string{
				dst,
				filepath.Join(dir, OverviewsDir, stem+".tga"),
				filepath.Join(dir, OverviewsDir, stem+".hmp"),
			}
		},
		Command: func(inv Invocation) Command {
			return Command{
				Program: tools.Overview,
				Args:    []string{inv.Src, inv.OutputRoot},
			}
		},
	}
}

// TextureRule compresses a .psd into a .dds beside it.
// Stems ending in _normal use the normal-map variant and lose the suffix,
// so texture_normal.psd becomes texture.dds.
func TextureRule(tools Tools) Rule {
	return Rule{
		Ext: "psd",
		Outputs: func(dst string) []string {
			return []string{textureOutput(dst)}
		},
		Command: func(inv Invocation) Command {
			flags := colorTextureFlags
			if IsNormalMap(inv.Src) {
				flags = normalTextureFlags
			}
			args := append([]string{}, flags...)
			args = append(args, inv.Src, filepath.Join(inv.OutputRoot, textureOutput(inv.Dst)))
			return Command{Program: tools.Texture, Args: args}
		},
	}
}

func textureOutput(dst string) string {
	out := ReplaceExt(dst, "dds")
	if IsNormalMap(dst) {
		dir, name := filepath.Split(out)
		out = dir + strings.TrimSuffix(Stem(name), NormalMapSuffix) + ".dds"
	}
	return out
}

// IsNormalMap reports whether a texture path names a normal map.
func IsNormalMap(path string) bool {
	return strings.HasSuffix(Stem(path), NormalMapSuffix)
}

// Default returns the built-in rule table.
func Default(tools Tools) *Table {
	t, err := NewTable(LevelRule(tools), TextureRule(tools))
	if err != nil {
		panic(err) // built-in rules never collide
	}
	return t
}
