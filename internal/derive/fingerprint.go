package derive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strconv"

	"github.com/corona10/goimagehash"
)

// PerceptualHash returns the 64 bit DCT hash of img as 16 hex digits.
func PerceptualHash(img image.Image) (string, error) {
	const op = "derive.PerceptualHash"

	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", &DerivedAssetError{Asset: AssetPerceptualHash, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// HammingDistance compares two hashes produced by PerceptualHash.
func HammingDistance(a, b string) (int, error) {
	const op = "derive.HammingDistance"

	ha, err := parsePerceptual(a)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	hb, err := parsePerceptual(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return ha.Distance(hb)
}

func parsePerceptual(s string) (*goimagehash.ImageHash, error) {
	if len(s) != 16 {
		return nil, fmt.Errorf("perceptual hash %q must be 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, err
	}
	return goimagehash.NewImageHash(v, goimagehash.PHash), nil
}

// ContentHash is the SHA-256 of the raw upload bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
