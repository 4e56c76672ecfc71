package profile

import (
	"encoding/binary"
	"testing"
)

type testTag struct {
	sig     string
	payload []byte
}

// buildProfile assembles a minimal profile: a 128-byte header, a tag table
// and the tag payloads laid out back to back after the table.
func buildProfile(class, space string, tags ...testTag) []byte {
	header := make([]byte, 128)
	copy(header[12:16], class)
	copy(header[16:20], space)
	copy(header[36:40], "acsp")
	header[8] = 4
	header[9] = 0x30

	tableSize := 4 + len(tags)*12
	data := append(header, make([]byte, tableSize)...)
	binary.BigEndian.PutUint32(data[128:132], uint32(len(tags)))

	for i, tag := range tags {
		offset := len(data)
		entry := 132 + i*12
		copy(data[entry:entry+4], tag.sig)
		binary.BigEndian.PutUint32(data[entry+4:entry+8], uint32(offset))
		binary.BigEndian.PutUint32(data[entry+8:entry+12], uint32(len(tag.payload)))
		data = append(data, tag.payload...)
	}
	return data
}

func descPayload(text string) []byte {
	p := make([]byte, 12, 12+len(text)+1)
	copy(p[0:4], "desc")
	binary.BigEndian.PutUint32(p[8:12], uint32(len(text)+1))
	p = append(p, text...)
	return append(p, 0)
}

func TestParseHeader_Description(t *testing.T) {
	data := buildProfile("prtr", "CMYK", testTag{"desc", descPayload("Coated FOGRA39")})

	h := ParseHeader(data)
	if h.DeviceClass != "prtr" {
		t.Errorf("Expected device class prtr, got %q", h.DeviceClass)
	}
	if h.ColorSpace != "CMYK" {
		t.Errorf("Expected color space CMYK, got %q", h.ColorSpace)
	}
	if h.Description != "Coated FOGRA39" {
		t.Errorf("Expected description, got %q", h.Description)
	}
	if !h.Valid {
		t.Error("Expected acsp magic to be detected")
	}
	if h.Version != "4.3.0" {
		t.Errorf("Expected version 4.3.0, got %q", h.Version)
	}
}

func TestParseHeader_DescriptionIsTrimmed(t *testing.T) {
	data := buildProfile("mntr", "RGB ", testTag{"desc", descPayload("  sRGB IEC61966-2.1 \t")})

	h := ParseHeader(data)
	if h.Description != "sRGB IEC61966-2.1" {
		t.Errorf("Expected trimmed description, got %q", h.Description)
	}
	if h.ColorSpace != "RGB" {
		t.Errorf("Expected padding to be trimmed from color space, got %q", h.ColorSpace)
	}
}

func TestParseHeader_DescriptionAfterOtherTags(t *testing.T) {
	data := buildProfile("prtr", "CMYK",
		testTag{"wtpt", make([]byte, 20)},
		testTag{"cprt", []byte("text\x00\x00\x00\x00copyright")},
		testTag{"desc", descPayload("Uncoated")},
	)

	if got := ParseHeader(data).Description; got != "Uncoated" {
		t.Errorf("Expected Uncoated, got %q", got)
	}
}

func TestParseHeader_AbsentDescription(t *testing.T) {
	wrongType := descPayload("hidden")
	copy(wrongType[0:4], "mluc")

	truncated := buildProfile("prtr", "CMYK", testTag{"desc", descPayload("Truncated description")})
	truncated = truncated[:len(truncated)-8]

	hugeCount := buildProfile("prtr", "CMYK")
	binary.BigEndian.PutUint32(hugeCount[128:132], 0xFFFFFFFF)

	badOffset := buildProfile("prtr", "CMYK", testTag{"desc", descPayload("x")})
	binary.BigEndian.PutUint32(badOffset[136:140], 0xFFFFFFF0)

	zeroLength := descPayload("")
	binary.BigEndian.PutUint32(zeroLength[8:12], 0)

	tests := []struct {
		name string
		data []byte
	}{
		{"header only, no tag table", buildProfile("prtr", "CMYK")[:128]},
		{"empty tag table", buildProfile("prtr", "CMYK")},
		{"no desc tag", buildProfile("prtr", "CMYK", testTag{"wtpt", make([]byte, 20)})},
		{"wrong type signature", buildProfile("prtr", "CMYK", testTag{"desc", wrongType})},
		{"length past end of file", truncated},
		{"tag count larger than file", hugeCount},
		{"offset past end of file", badOffset},
		{"zero length", buildProfile("prtr", "CMYK", testTag{"desc", zeroLength})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ParseHeader(tt.data)
			if h.Description != "" {
				t.Errorf("Expected absent description, got %q", h.Description)
			}
			if h.DeviceClass != "prtr" || h.ColorSpace != "CMYK" {
				t.Errorf("Expected signatures to survive, got %q/%q", h.DeviceClass, h.ColorSpace)
			}
		})
	}
}

func TestParseHeader_ShortInput(t *testing.T) {
	for _, n := range []int{0, 5, 14, 19} {
		h := ParseHeader(make([]byte, n))
		if h.ColorSpace != "" || h.Description != "" || h.Valid {
			t.Errorf("len=%d: expected empty header, got %+v", n, h)
		}
	}

	// 16 bytes carry a device class but no color space
	data := make([]byte, 16)
	copy(data[12:16], "scnr")
	h := ParseHeader(data)
	if h.DeviceClass != "scnr" || h.ColorSpace != "" {
		t.Errorf("Unexpected partial header: %+v", h)
	}
}

func TestParseHeader_Deterministic(t *testing.T) {
	data := buildProfile("prtr", "CMYK", testTag{"desc", descPayload("Stable")})
	if ParseHeader(data) != ParseHeader(data) {
		t.Error("Expected identical headers for identical bytes")
	}
}
