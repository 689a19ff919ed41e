// Package ogg reads the Opus identification header from the first page of an
// Ogg container. Only the first logical packet is decoded; audio pages are
// never touched.
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// PageHeaderSize is the size of the fixed part of an Ogg page header.
	PageHeaderSize = 27

	// OpusHeadSize is the size of the mandatory part of the Opus identification header.
	OpusHeadSize = 19

	capturePattern = "OggS"
	opusHeadMagic  = "OpusHead"

	// MaxSampleRate is the largest input sample rate a recognition request
	// can carry.
	MaxSampleRate = math.MaxInt32

	// lacing values below this size terminate a packet
	maxLacingValue = 255
)

// ErrUnsupportedFormat is matched by every error returned for input that is not
// an Ogg/Opus stream this package can read.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// FormatError describes why a stream was rejected.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported audio format: %s", e.Reason)
}

// Is reports whether target is ErrUnsupportedFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// PageHeader is the fixed 27-byte header of an Ogg page.
type PageHeader struct {
	Version         uint8
	HeaderType      uint8
	GranulePosition int64
	SerialNumber    uint32
	SequenceNumber  uint32
	Checksum        uint32
	SegmentCount    uint8
}

// OpusHead is the Opus identification header.
type OpusHead struct {
	Version       uint8
	Channels      uint8
	PreSkip       uint16
	SampleRate    uint32
	OutputGain    int16
	MappingFamily uint8
}

// MajorVersion returns the high nibble of the header version.
func (h OpusHead) MajorVersion() uint8 {
	return h.Version >> 4
}

// Fields returns the header as ordered key/value pairs for diagnostics.
func (h OpusHead) Fields() [][2]string {
	return [][2]string{
		{"version", fmt.Sprint(h.Version)},
		{"channels", fmt.Sprint(h.Channels)},
		{"pre_skip", fmt.Sprint(h.PreSkip)},
		{"sample_rate", fmt.Sprint(h.SampleRate)},
		{"gain", fmt.Sprint(h.OutputGain)},
		{"mapping_type", fmt.Sprint(h.MappingFamily)},
	}
}

// ReadPageHeader reads and validates the fixed header of the page at the
// current position of r.
func ReadPageHeader(r io.Reader) (PageHeader, error) {
	var raw [PageHeaderSize]byte
	if n, err := io.ReadFull(r, raw[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return PageHeader{}, formatErrorf("page header truncated (%d of %d bytes)", n, PageHeaderSize)
		}
		return PageHeader{}, fmt.Errorf("read page header: %w", err)
	}

	if string(raw[0:4]) != capturePattern {
		return PageHeader{}, formatErrorf("capture pattern %q is not %q", raw[0:4], capturePattern)
	}

	h := PageHeader{
		Version:         raw[4],
		HeaderType:      raw[5],
		GranulePosition: int64(binary.LittleEndian.Uint64(raw[6:14])),
		SerialNumber:    binary.LittleEndian.Uint32(raw[14:18]),
		SequenceNumber:  binary.LittleEndian.Uint32(raw[18:22]),
		Checksum:        binary.LittleEndian.Uint32(raw[22:26]),
		SegmentCount:    raw[26],
	}
	if h.Version != 0 {
		return PageHeader{}, formatErrorf("ogg version %d, only 0 is supported", h.Version)
	}
	return h, nil
}

// ReadFirstPacket reads the first page header of r and returns the bytes of the
// first logical packet on that page. Lacing values are summed until the first
// one below 255, so a packet spanning several 255-byte segments is returned whole.
func ReadFirstPacket(r io.Reader) ([]byte, error) {
	h, err := ReadPageHeader(r)
	if err != nil {
		return nil, err
	}
	if h.SegmentCount == 0 {
		return nil, formatErrorf("first page has an empty segment table")
	}

	table := make([]byte, h.SegmentCount)
	if _, err := io.ReadFull(r, table); err != nil {
		return nil, formatErrorf("segment table truncated: %v", err)
	}

	total := 0
	terminated := false
	for _, lacing := range table {
		total += int(lacing)
		if lacing < maxLacingValue {
			terminated = true
			break
		}
	}
	if !terminated {
		return nil, formatErrorf("first packet continues past the first page")
	}

	packet := make([]byte, total)
	if n, err := io.ReadFull(r, packet); err != nil {
		return nil, formatErrorf("first packet truncated (%d of %d bytes)", n, total)
	}
	return packet, nil
}

// ParseOpusHead decodes an identification header packet.
func ParseOpusHead(packet []byte) (OpusHead, error) {
	if len(packet) < len(opusHeadMagic) || !bytes.Equal(packet[:len(opusHeadMagic)], []byte(opusHeadMagic)) {
		return OpusHead{}, formatErrorf("first packet is not %s", opusHeadMagic)
	}
	if len(packet) < OpusHeadSize {
		return OpusHead{}, formatErrorf("%s packet too short (%d bytes)", opusHeadMagic, len(packet))
	}

	b := packet[len(opusHeadMagic):]
	h := OpusHead{
		Version:       b[0],
		Channels:      b[1],
		PreSkip:       binary.LittleEndian.Uint16(b[2:4]),
		SampleRate:    binary.LittleEndian.Uint32(b[4:8]),
		OutputGain:    int16(binary.LittleEndian.Uint16(b[8:10])),
		MappingFamily: b[10],
	}
	if h.MajorVersion() != 0 {
		return OpusHead{}, formatErrorf("opus header version %d, only major version 0 is supported", h.Version)
	}
	if h.SampleRate > MaxSampleRate {
		return OpusHead{}, formatErrorf("input sample rate %d out of range", h.SampleRate)
	}
	return h, nil
}

// Read parses the identification header from a stream positioned at offset 0.
func Read(r io.Reader) (OpusHead, error) {
	packet, err := ReadFirstPacket(r)
	if err != nil {
		return OpusHead{}, err
	}
	return ParseOpusHead(packet)
}

// ReadFile parses the identification header of the file at path.
func ReadFile(path string) (OpusHead, error) {
	f, err := os.Open(path)
	if err != nil {
		return OpusHead{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Read(f)
}
