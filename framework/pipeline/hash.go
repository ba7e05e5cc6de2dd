package pipeline

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// ContentHash returns the hex xxh3 digest of the file at path.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
