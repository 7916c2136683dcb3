package project

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidItem is returned when no workshop item ID can be found in the input.
var ErrInvalidItem = errors.New("could not find any workshop item ID in the input")

// idParam matches the id query parameter of a workshop URL.
var idParam = regexp.MustCompile(`id=([0-9]+)\b`)

// ItemID identifies a remote workshop item.
// It is written as uppercase hexadecimal everywhere on disk.
type ItemID uint64

// ParseItemID parses a hexadecimal ID or a URL carrying id=<decimal>.
func ParseItemID(s string) (ItemID, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 16, 64); err == nil {
		return ItemID(v), nil
	}
	if m := idParam.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			return ItemID(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidItem, s)
}

// String returns the uppercase hexadecimal form used for cache directories.
func (i ItemID) String() string {
	return fmt.Sprintf("%X", uint64(i))
}

// URL returns the public workshop page for the item.
func (i ItemID) URL() string {
	return fmt.Sprintf("https://steamcommunity.com/sharedfiles/filedetails/?id=%d", uint64(i))
}

// MarshalText implements encoding.TextMarshaler.
func (i ItemID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ItemID) UnmarshalText(b []byte) error {
	v, err := ParseItemID(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
