package imaging

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ExtPNG is the single-frame lossless container for 8-bit mono and
	// RGB frames.
	ExtPNG = ".png"

	// ExtTIFF is the lossless container for 16-bit mono frames.
	ExtTIFF = ".tif"
)

// Ext selects the container extension for a pixel format.
func Ext(format string) string {
	if format == "mono16" {
		return ExtTIFF
	}
	return ExtPNG
}

// WriteFrame encodes one frame into the container selected by its format
// and writes it to path atomically enough for a crash not to leave a
// half-written file under the final name.
func WriteFrame(path string, pixels []byte, p *Provenance) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(tmp), err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	switch filepath.Ext(path) {
	case ExtTIFF:
		err = EncodeTIFF(f, pixels, p)
	default:
		err = EncodePNG(f, pixels, p)
	}
	if err != nil {
		return err
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(tmp), err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(tmp), err)
	}
	return nil
}
