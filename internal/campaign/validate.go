package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Remote platform limit for video assets
const maxAssetBytes = 4 << 30 // 4 GiB

var allowedAssetExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
}

// ValidateAsset checks the creative asset locally. It runs before any
// remote call so a bad file never leaves orphaned remote resources.
func ValidateAsset(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AssetError{Path: path, Reason: "file not found"}
		}
		return &AssetError{Path: path, Reason: err.Error()}
	}

	if info.IsDir() {
		return &AssetError{Path: path, Reason: "is a directory"}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedAssetExtensions[ext] {
		return &AssetError{Path: path, Reason: fmt.Sprintf("unsupported format %q (use .mp4 or .mov)", ext)}
	}

	if info.Size() == 0 {
		return &AssetError{Path: path, Reason: "file is empty"}
	}
	if info.Size() > maxAssetBytes {
		return &AssetError{Path: path, Reason: fmt.Sprintf("file is %d bytes, maximum is %d", info.Size(), int64(maxAssetBytes))}
	}

	return nil
}
