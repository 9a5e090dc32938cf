// Package payload loads the images the simulator sends and authenticates
// them with a truncated AES-CMAC.
package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// FillByte pads the gaps between the segments of a HEX image.
const FillByte = 0xFF

// Load reads an image from path. Intel HEX files (.hex, .ihex) are flattened
// into one contiguous block from the lowest to the highest address; any
// other file is returned as is.
func Load(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".hex" && ext != ".ihex" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return Flatten(mem.GetDataSegments())
}

// Flatten joins HEX data segments into one image, filling gaps with FillByte.
func Flatten(segments []gohex.DataSegment) ([]byte, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("image has no data")
	}
	lo, hi := segments[0].Address, segments[0].Address
	for _, s := range segments {
		if s.Address < lo {
			lo = s.Address
		}
		if end := s.Address + uint32(len(s.Data)); end > hi {
			hi = end
		}
	}
	out := make([]byte, hi-lo)
	for i := range out {
		out[i] = FillByte
	}
	for _, s := range segments {
		copy(out[s.Address-lo:], s.Data)
	}
	return out, nil
}
