// Package audio provides WAV inspection for reference clips.
//
// GPT-SoVITS places hard constraints on reference audio (3-10 second clips,
// 32 kHz recommended), so uploaded corpus files are probed up front instead
// of failing later inside the synthesis service.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
)

// RecommendedSampleRate is the sample rate GPT-SoVITS trains against.
const RecommendedSampleRate = 32000

// Minimum structural sizes for a parseable RIFF/WAVE stream.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
)

// Static errors.
var (
	ErrNotRIFF       = errors.New("not a RIFF/WAVE stream")
	ErrTruncated     = errors.New("truncated WAV data")
	ErrNoFormatChunk = errors.New("missing fmt chunk")
	ErrNoDataChunk   = errors.New("missing data chunk")
	ErrInvalidFormat = errors.New("invalid format chunk")
)

// Info describes a WAV file's encoding and length.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int
	Duration   time.Duration
}

// Seconds returns the clip length in seconds.
func (i Info) Seconds() float64 {
	return i.Duration.Seconds()
}

// Probe reads and parses the WAV header of the file at path.
func Probe(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read audio file: %w", err)
	}

	info, parseErr := ProbeBytes(data)
	if parseErr != nil {
		return Info{}, fmt.Errorf("failed to parse '%s': %w", path, parseErr)
	}

	return info, nil
}

// ProbeBytes parses a RIFF/WAVE header from an in-memory buffer. Only the
// fmt and data chunks are inspected; other chunks are skipped.
func ProbeBytes(data []byte) (Info, error) {
	if len(data) < riffHeaderSize {
		return Info{}, ErrTruncated
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotRIFF
	}

	var (
		info     Info
		haveFmt  bool
		haveData bool
		byteRate uint32
	)

	offset := riffHeaderSize

	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
				return Info{}, ErrInvalidFormat
			}

			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			info.DataBytes = chunkSize
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return Info{}, ErrNoFormatChunk
	}

	if !haveData {
		return Info{}, ErrNoDataChunk
	}

	if info.SampleRate <= 0 || info.Channels <= 0 || byteRate == 0 {
		return Info{}, ErrInvalidFormat
	}

	seconds := float64(info.DataBytes) / float64(byteRate)
	info.Duration = time.Duration(seconds * float64(time.Second))

	return info, nil
}
