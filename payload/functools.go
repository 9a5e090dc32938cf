package payload

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SplitBlock cuts data into blocks of at most blockSize bytes.
func SplitBlock(data []byte, blockSize int) [][]byte {
	var blocks [][]byte
	if blockSize <= 0 {
		return [][]byte{data}
	}
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		// the last block may be short
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	return blocks
}

// HexStringToByteSlice parses a 128 bit key written as 32 hex characters.
// Spaces are ignored.
func HexStringToByteSlice(hexStr string) ([]byte, error) {
	hexStr = strings.ReplaceAll(hexStr, " ", "")
	if len(hexStr) != 32 {
		return nil, fmt.Errorf("input string must be 32 characters long")
	}
	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return out, nil
}
