package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// ModInfoFile marks a directory holding already-built, pre-merged content.
const ModInfoFile = ".modinfo"

// ModInfo is the content of a .modinfo marker.
type ModInfo struct {
	Name string `toml:"name"`
}

// ReadModInfo reads the .modinfo marker in dir.
func ReadModInfo(dir string) (*ModInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModInfoFile))
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", ModInfoFile, err)
	}
	var info ModInfo
	if err := toml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("could not parse %s in %s: %w", ModInfoFile, dir, err)
	}
	return &info, nil
}

// Encode renders the marker the way packaged archives carry it.
func (m ModInfo) Encode() []byte {
	return []byte("name = " + strconv.Quote(m.Name))
}
