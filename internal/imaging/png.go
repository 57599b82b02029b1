package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"io"
)

// pngHeaderSize covers the PNG signature plus the IHDR chunk, which the
// encoder always emits first: 8 signature bytes, then 4 length + 4 type +
// 13 data + 4 CRC.
const pngHeaderSize = 8 + 4 + 4 + 13 + 4

// EncodePNG writes an 8-bit mono or RGB frame as a PNG with the
// provenance embedded as tEXt chunks. The pixel payload is encoded by the
// standard library; the metadata chunks are spliced in after IHDR because
// image/png exposes no way to emit them.
func EncodePNG(w io.Writer, pixels []byte, p *Provenance) error {
	img, err := pngImage(pixels, p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}

	raw := buf.Bytes()
	if len(raw) < pngHeaderSize {
		return fmt.Errorf("encoding png: truncated stream (%d bytes)", len(raw))
	}

	if _, err := w.Write(raw[:pngHeaderSize]); err != nil {
		return fmt.Errorf("writing png header: %w", err)
	}
	for _, kv := range p.textChunks() {
		if err := writeTextChunk(w, kv[0], kv[1]); err != nil {
			return err
		}
	}
	if _, err := w.Write(raw[pngHeaderSize:]); err != nil {
		return fmt.Errorf("writing png body: %w", err)
	}
	return nil
}

func pngImage(pixels []byte, p *Provenance) (image.Image, error) {
	switch p.Format {
	case "mono8":
		if len(pixels) < p.Width*p.Height {
			return nil, fmt.Errorf("mono8 frame too short: %d bytes for %dx%d", len(pixels), p.Width, p.Height)
		}
		img := &image.Gray{Pix: pixels, Stride: p.Width, Rect: image.Rect(0, 0, p.Width, p.Height)}
		return img, nil

	case "rgb24":
		if len(pixels) < p.Width*p.Height*3 {
			return nil, fmt.Errorf("rgb24 frame too short: %d bytes for %dx%d", len(pixels), p.Width, p.Height)
		}
		// Sensor RGB frames arrive in BGR byte order.
		img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
		for y := 0; y < p.Height; y++ {
			src := pixels[y*p.Width*3:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < p.Width; x++ {
				dst[x*4+0] = src[x*3+2]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+0]
				dst[x*4+3] = 0xff
			}
		}
		return img, nil

	default:
		return nil, fmt.Errorf("png container does not support format %s", p.Format)
	}
}

// writeTextChunk emits one PNG tEXt chunk: keyword, NUL separator, text.
func writeTextChunk(w io.Writer, keyword, text string) error {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	data = append(data, text...)

	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], "tEXt")

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)

	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	for _, part := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("writing tEXt chunk: %w", err)
		}
	}
	return nil
}
