package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// TIFF tag and type constants for the baseline writer.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagMake             = 271
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSoftware         = 305
	tagDateTime         = 306

	typeShort = 3
	typeLong  = 4
	typeASCII = 2

	tiffHeaderSize = 8
	ifdEntrySize   = 12
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32 // inline value or offset into the trailing data block
}

// EncodeTIFF writes a 16-bit mono frame as a single-strip baseline
// little-endian TIFF with the provenance recorded in the description
// tags. The file is written by hand because x/image/tiff's encoder does
// not expose metadata tags; its decoder reads this output.
func EncodeTIFF(w io.Writer, pixels []byte, p *Provenance) error {
	if p.Format != "mono16" {
		return fmt.Errorf("tiff container does not support format %s", p.Format)
	}
	pixLen := p.Width * p.Height * 2
	if len(pixels) < pixLen {
		return fmt.Errorf("mono16 frame too short: %d bytes for %dx%d", len(pixels), p.Width, p.Height)
	}
	pixels = pixels[:pixLen]

	// Layout: header, pixel strip, IFD, out-of-line ASCII values.
	ifdOffset := uint32(tiffHeaderSize + len(pixels))
	if ifdOffset%2 != 0 {
		ifdOffset++
	}

	ascii := func(s string) []byte {
		b := append([]byte(s), 0)
		if len(b)%2 != 0 {
			b = append(b, 0)
		}
		return b
	}

	description := ascii(p.description())
	cameraMake := ascii(p.CameraName)
	software := ascii(Software)
	dateTime := ascii(p.CapturedAt.UTC().Format("2006:01:02 15:04:05"))

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, uint32(p.Width)},
		{tagImageLength, typeLong, 1, uint32(p.Height)},
		{tagBitsPerSample, typeShort, 1, 16},
		{tagCompression, typeShort, 1, 1}, // uncompressed (lossless)
		{tagPhotometric, typeShort, 1, 1}, // black is zero
		{tagImageDescription, typeASCII, uint32(len(description)), 0},
		{tagMake, typeASCII, uint32(len(cameraMake)), 0},
		{tagStripOffsets, typeLong, 1, tiffHeaderSize},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint32(p.Height)},
		{tagStripByteCounts, typeLong, 1, uint32(len(pixels))},
		{tagSoftware, typeASCII, uint32(len(software)), 0},
		{tagDateTime, typeASCII, uint32(len(dateTime)), 0},
	}

	le := binary.LittleEndian

	// Assign value slots for the ASCII tags. Values of four bytes or fewer
	// sit inside the entry itself; baseline readers never follow an offset
	// for those. Longer values follow the IFD.
	dataOffset := ifdOffset + 2 + uint32(len(entries))*ifdEntrySize + 4
	var trailing bytes.Buffer
	for i := range entries {
		var v []byte
		switch entries[i].tag {
		case tagImageDescription:
			v = description
		case tagMake:
			v = cameraMake
		case tagSoftware:
			v = software
		case tagDateTime:
			v = dateTime
		default:
			continue
		}
		if len(v) <= 4 {
			var inline [4]byte
			copy(inline[:], v)
			entries[i].value = le.Uint32(inline[:])
			continue
		}
		entries[i].value = dataOffset + uint32(trailing.Len())
		trailing.Write(v)
	}

	var buf bytes.Buffer

	// Header: byte order, magic, first IFD offset.
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, ifdOffset)

	// Pixel strip. mono16 sample bytes arrive little-endian from the
	// sensor, matching the file byte order.
	buf.Write(pixels)
	for uint32(buf.Len()) < ifdOffset {
		buf.WriteByte(0)
	}

	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, e.count)
		if e.typ == typeShort && e.count == 1 {
			binary.Write(&buf, le, uint16(e.value))
			binary.Write(&buf, le, uint16(0))
		} else {
			binary.Write(&buf, le, e.value)
		}
	}
	binary.Write(&buf, le, uint32(0)) // no next IFD
	buf.Write(trailing.Bytes())

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing tiff: %w", err)
	}
	return nil
}
