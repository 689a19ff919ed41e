package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// buildOpusHead returns an identification header packet.
func buildOpusHead(version, channels uint8, preSkip uint16, rate uint32, gain int16, mapping uint8) []byte {
	var b bytes.Buffer
	b.WriteString("OpusHead")
	b.WriteByte(version)
	b.WriteByte(channels)
	_ = binary.Write(&b, binary.LittleEndian, preSkip)
	_ = binary.Write(&b, binary.LittleEndian, rate)
	_ = binary.Write(&b, binary.LittleEndian, gain)
	b.WriteByte(mapping)
	return b.Bytes()
}

// buildPage wraps packet into a single Ogg page using the given lacing table.
// A nil table laces the packet as one segment.
func buildPage(oggVersion uint8, lacing []byte, packet []byte) []byte {
	if lacing == nil {
		lacing = []byte{byte(len(packet))}
	}
	var b bytes.Buffer
	b.WriteString("OggS")
	b.WriteByte(oggVersion)
	b.WriteByte(0x02)
	_ = binary.Write(&b, binary.LittleEndian, int64(0))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0x1234))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0xdeadbeef))
	b.WriteByte(byte(len(lacing)))
	b.Write(lacing)
	b.Write(packet)
	return b.Bytes()
}

func TestRead_ValidHeader(t *testing.T) {
	page := buildPage(0, nil, buildOpusHead(1, 1, 312, 48000, 0, 0))

	head, err := Read(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head.SampleRate != 48000 {
		t.Errorf("expected sample rate 48000, got %d", head.SampleRate)
	}
	if head.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", head.Channels)
	}
	if head.PreSkip != 312 {
		t.Errorf("expected pre-skip 312, got %d", head.PreSkip)
	}
	if head.Version != 1 {
		t.Errorf("expected version 1, got %d", head.Version)
	}
}

func TestRead_DecodesAllFields(t *testing.T) {
	page := buildPage(0, nil, buildOpusHead(0x0F, 2, 3840, 16000, -256, 1))

	head, err := Read(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := OpusHead{Version: 0x0F, Channels: 2, PreSkip: 3840, SampleRate: 16000, OutputGain: -256, MappingFamily: 1}
	if head != want {
		t.Errorf("expected %+v, got %+v", want, head)
	}
}

func TestRead_IgnoresTrailingPages(t *testing.T) {
	page := buildPage(0, nil, buildOpusHead(1, 1, 0, 24000, 0, 0))
	page = append(page, []byte("OggS garbage that follows")...)

	head, err := Read(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head.SampleRate != 24000 {
		t.Errorf("expected 24000, got %d", head.SampleRate)
	}
}

func TestRead_MultiSegmentPacket(t *testing.T) {
	// 255 + 9 bytes: the identification header followed by padding so the
	// packet spans a continued segment.
	packet := buildOpusHead(1, 1, 0, 48000, 0, 0)
	packet = append(packet, make([]byte, 255+9-len(packet))...)
	page := buildPage(0, []byte{255, 9}, packet)

	head, err := Read(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head.SampleRate != 48000 {
		t.Errorf("expected 48000, got %d", head.SampleRate)
	}
}

func TestReadFirstPacket_StopsAtFirstShortLacing(t *testing.T) {
	first := buildOpusHead(1, 1, 0, 48000, 0, 0)
	second := []byte("OpusTags")
	page := buildPage(0, []byte{byte(len(first)), byte(len(second))}, append(append([]byte{}, first...), second...))

	packet, err := ReadFirstPacket(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(packet, first) {
		t.Errorf("expected first packet only, got %d bytes", len(packet))
	}
}

func TestRead_Rejections(t *testing.T) {
	valid := buildOpusHead(1, 1, 0, 48000, 0, 0)

	wrongCapture := buildPage(0, nil, valid)
	copy(wrongCapture, "RIFF")

	notOpus := buildOpusHead(1, 1, 0, 48000, 0, 0)
	copy(notOpus, "OpusTag_")

	unterminated := buildPage(0, []byte{255}, make([]byte, 255))

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty input", nil},
		{"truncated page header", []byte("OggS\x00\x02")},
		{"wrong capture pattern", wrongCapture},
		{"unsupported ogg version", buildPage(1, nil, valid)},
		{"empty segment table", buildPage(0, []byte{}, nil)},
		{"not an opus stream", buildPage(0, nil, notOpus)},
		{"opus major version 1", buildPage(0, nil, buildOpusHead(0x10, 1, 0, 48000, 0, 0))},
		{"short opus head", buildPage(0, nil, valid[:12])},
		{"truncated packet", buildPage(0, []byte{19}, valid[:10])},
		{"packet continues past page", unterminated},
		{"sample rate out of range", buildPage(0, nil, buildOpusHead(1, 1, 0, 0x80000000, 0, 0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("expected ErrUnsupportedFormat, got %v", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) || fe.Reason == "" {
				t.Errorf("expected FormatError with a reason, got %T", err)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(path, buildPage(0, nil, buildOpusHead(1, 1, 0, 16000, 0, 0)), 0o600); err != nil {
		t.Fatal(err)
	}

	head, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head.SampleRate != 16000 {
		t.Errorf("expected 16000, got %d", head.SampleRate)
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.ogg"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		t.Error("missing file must not be reported as a format error")
	}
}

func TestOpusHead_Fields(t *testing.T) {
	h := OpusHead{Version: 1, Channels: 2, PreSkip: 3, SampleRate: 48000, OutputGain: 5, MappingFamily: 0}
	fields := h.Fields()
	if len(fields) != 6 {
		t.Fatalf("expected 6 fields, got %d", len(fields))
	}
	if fields[3][0] != "sample_rate" || fields[3][1] != "48000" {
		t.Errorf("unexpected sample_rate field %v", fields[3])
	}
}
