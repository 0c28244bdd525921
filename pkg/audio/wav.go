package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

const (
	formatPCM   = 1
	formatFloat = 3
)

// decodeWAV reads a RIFF/WAVE file into an interleaved float32 buffer.
// Supports 8/16/24/32-bit PCM and 32-bit float.
func decodeWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "audio", "reading RIFF header")
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "audio", "%s is not a WAVE file", path)
	}

	var (
		audioFormat   uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		haveFmt       bool
	)

	// chunk scan: fmt then data, skipping everything else
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, smerrors.New(smerrors.KindCorrupt, "audio", "no data chunk found")
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		chunkID := string(header[0:4])
		chunkSize := binary.LittleEndian.Uint32(header[4:8])

		switch chunkID {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return nil, smerrors.Wrap(err, smerrors.KindCorrupt, "audio", "reading fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(fmtChunk[0:2])
			channels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(fmtChunk[14:16])
			haveFmt = true
			if chunkSize > 16 {
				if _, err := f.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("skipping fmt extension: %w", err)
				}
			}
		case "data":
			if !haveFmt {
				return nil, smerrors.New(smerrors.KindCorrupt, "audio", "data chunk before fmt chunk")
			}
			data := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, smerrors.Wrap(err, smerrors.KindCorrupt, "audio", "truncated data chunk")
			}
			samples, err := decodeSamples(data, audioFormat, bitsPerSample)
			if err != nil {
				return nil, err
			}
			return &Buffer{
				Samples:    samples,
				SampleRate: int(sampleRate),
				Channels:   int(channels),
			}, nil
		default:
			// chunks are word-aligned
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skipping %s chunk: %w", chunkID, err)
			}
		}
	}
}

func decodeSamples(data []byte, format, bits uint16) ([]float32, error) {
	switch {
	case format == formatPCM && bits == 16:
		out := make([]float32, len(data)/2)
		for i := range out {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(v) / 32768
		}
		return out, nil
	case format == formatPCM && bits == 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	case format == formatPCM && bits == 24:
		out := make([]float32, len(data)/3)
		for i := range out {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xffffff
			}
			out[i] = float32(v) / 8388608
		}
		return out, nil
	case format == formatPCM && bits == 32:
		out := make([]float32, len(data)/4)
		for i := range out {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			out[i] = float32(v) / 2147483648
		}
		return out, nil
	case format == formatFloat && bits == 32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	default:
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "audio",
			"unsupported WAV encoding: format %d, %d bits", format, bits)
	}
}

// WriteWAV writes a mono or interleaved buffer as 16-bit PCM. Used by tests
// and the ffmpeg conversion path.
func WriteWAV(path string, buf *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	channels := buf.Channels
	if channels < 1 {
		channels = 1
	}
	dataSize := len(buf.Samples) * 2

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(buf.SampleRate))
	byteRate := buf.SampleRate * channels * 2
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	pcm := make([]byte, dataSize)
	for i, s := range buf.Samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	if _, err := f.Write(pcm); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	return nil
}
