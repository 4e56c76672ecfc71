package profile

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	tagCountOffset = 128
	tagTableOffset = 132
	tagEntrySize   = 12
	descSignature  = "desc"
	acspMagic      = "acsp"
)

// Header holds the identifying fields decoded from a profile's bytes.
// Decoding never fails; fields that cannot be read are left empty.
type Header struct {
	DeviceClass string
	ColorSpace  string
	Version     string
	Description string
	// Valid reports whether the 'acsp' magic is present at offset 36.
	// It is informational only.
	Valid bool
}

// ParseHeader decodes the device class, color space and description tag
func ParseHeader(data []byte) Header {
	h := Header{
		DeviceClass: signatureAt(data, 12),
		ColorSpace:  signatureAt(data, 16),
		Valid:       len(data) >= 40 && string(data[36:40]) == acspMagic,
	}
	if len(data) >= 10 {
		h.Version = fmt.Sprintf("%d.%d.%d", data[8], data[9]>>4, data[9]&0x0f)
	}
	if desc, ok := findDescription(data); ok {
		h.Description = desc
	}
	return h
}

func signatureAt(data []byte, off int) string {
	if len(data) < off+4 {
		return ""
	}
	return trimSignature(string(data[off : off+4]))
}

func trimSignature(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

func findDescription(data []byte) (string, bool) {
	count, ok := readUint32(data, tagCountOffset)
	if !ok {
		return "", false
	}

	size := uint64(len(data))
	for i := uint64(0); i < uint64(count); i++ {
		entry := tagTableOffset + i*tagEntrySize
		if entry+tagEntrySize > size {
			return "", false
		}
		if string(data[entry:entry+4]) != descSignature {
			continue
		}
		offset := binary.BigEndian.Uint32(data[entry+4 : entry+8])
		return parseDescription(data, uint64(offset))
	}
	return "", false
}

// parseDescription reads a textDescriptionType payload:
// type signature, 4 reserved bytes, a big-endian length and length-1 ASCII bytes plus a null.
func parseDescription(data []byte, offset uint64) (string, bool) {
	size := uint64(len(data))
	if offset+12 > size {
		return "", false
	}
	if string(data[offset:offset+4]) != descSignature {
		return "", false
	}
	length := uint64(binary.BigEndian.Uint32(data[offset+8 : offset+12]))
	if length == 0 || offset+12+length > size {
		return "", false
	}
	text := string(data[offset+12 : offset+12+length-1])
	return strings.TrimSpace(strings.TrimRight(text, "\x00")), true
}

func readUint32(data []byte, off uint64) (uint32, bool) {
	if off+4 > uint64(len(data)) {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[off : off+4]), true
}
