// Package hasher produces the content fingerprints used as cache keys
// throughout SampleMind: audio buffers, files on disk, and AI request
// payloads. All fingerprints are 256-bit BLAKE3 digests rendered as
// 64-character lowercase hex.
package hasher

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"lukechampine.com/blake3"
)

// Policy selects how much of the input contributes to the fingerprint.
type Policy string

const (
	// PolicyFast samples head, middle and tail windows plus summary
	// statistics. Changing a single sample may not change the fingerprint.
	PolicyFast Policy = "fast"

	// PolicyFull hashes the entire sample stream. Strict identity.
	PolicyFull Policy = "full"
)

const (
	segmentSamples = 1000
	fastFileBytes  = 1 << 20
	dtypeTag       = "f32le"
)

// BufferFingerprint fingerprints a mono or interleaved sample buffer.
// Identical buffers produce identical fingerprints on any platform; sample
// bytes are hashed little-endian. Zero-length buffers yield a sentinel
// fingerprint derived from "empty".
func BufferFingerprint(samples []float32, sampleRate int, policy Policy) string {
	h := blake3.New(32, nil)

	if len(samples) == 0 {
		io.WriteString(h, "empty")
		writeTag(h, sampleRate, 0)
		return hex(h)
	}

	switch policy {
	case PolicyFull:
		buf := make([]byte, 4)
		for _, s := range samples {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(s))
			h.Write(buf)
		}
	default:
		writeSegment(h, headSegment(samples))
		writeSegment(h, middleSegment(samples))
		writeSegment(h, tailSegment(samples))

		mean, stddev := summarize(samples)
		stats := make([]byte, 16)
		binary.LittleEndian.PutUint64(stats[0:8], math.Float64bits(mean))
		binary.LittleEndian.PutUint64(stats[8:16], math.Float64bits(stddev))
		h.Write(stats)
	}

	writeTag(h, sampleRate, len(samples))
	return hex(h)
}

// FileFingerprint fingerprints a file's raw bytes. PolicyFast hashes the
// first MiB plus the file size; PolicyFull streams the whole file.
func FileFingerprint(path string, policy Policy) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	h := blake3.New(32, nil)
	var reader io.Reader = f
	if policy != PolicyFull {
		reader = io.LimitReader(f, fastFileBytes)
	}
	if _, err := io.Copy(h, reader); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	size := make([]byte, 8)
	binary.LittleEndian.PutUint64(size, uint64(info.Size()))
	h.Write(size)
	return hex(h), nil
}

// RequestFingerprint fingerprints an AI request payload. The payload is
// canonicalized to JSON with sorted keys and no whitespace, so two payloads
// equal under canonical JSON produce the same fingerprint regardless of
// original key order.
func RequestFingerprint(payload map[string]any) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}

// ParamsFingerprint derives the cache-key component describing how an
// analysis was produced.
func ParamsFingerprint(level, backendTag, extractorVersion string) string {
	sum := blake3.Sum256([]byte(level + "|" + backendTag + "|" + extractorVersion))
	return fmt.Sprintf("%x", sum)
}

func headSegment(samples []float32) []float32 {
	n := min(segmentSamples, len(samples))
	return samples[:n]
}

func middleSegment(samples []float32) []float32 {
	if len(samples) <= segmentSamples {
		return samples
	}
	mid := len(samples) / 2
	half := segmentSamples / 2
	lo := max(0, mid-half)
	hi := min(len(samples), lo+segmentSamples)
	return samples[lo:hi]
}

func tailSegment(samples []float32) []float32 {
	n := min(segmentSamples, len(samples))
	return samples[len(samples)-n:]
}

func writeSegment(h *blake3.Hasher, seg []float32) {
	buf := make([]byte, 4)
	for _, s := range seg {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(s))
		h.Write(buf)
	}
}

func writeTag(h *blake3.Hasher, sampleRate, length int) {
	tag := make([]byte, 16)
	binary.LittleEndian.PutUint64(tag[0:8], uint64(length))
	binary.LittleEndian.PutUint64(tag[8:16], uint64(sampleRate))
	h.Write(tag)
	io.WriteString(h, dtypeTag)
}

func summarize(samples []float32) (mean, stddev float64) {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean = sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(samples)))
	return mean, stddev
}

func hex(h *blake3.Hasher) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}
