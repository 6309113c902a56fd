package protocol

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// DefaultCompressionThreshold is the encoded size at which outbound
// payloads switch from text to gzip-compressed binary frames.
const DefaultCompressionThreshold = 10 * 1024

// MaxDecompressedSize caps how many bytes DecodeFrame will inflate from
// a single binary frame, guarding against decompression bombs.
const MaxDecompressedSize = 16 * 1024 * 1024

// EncodeFrame serializes a message for transmission. Payloads at or
// above threshold are gzip-compressed and flagged binary; smaller ones
// are returned as-is and flagged text. The frame type is the compression
// signal — there is no separate flag on the wire. A threshold <= 0 uses
// DefaultCompressionThreshold.
func EncodeFrame(msg Message, threshold int) (data []byte, binary bool, err error) {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	encoded, err := Encode(msg)
	if err != nil {
		return nil, false, err
	}
	if len(encoded) < threshold {
		return encoded, false, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		zw.Close()
		return nil, false, fmt.Errorf("protocol: compress frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("protocol: compress frame: %w", err)
	}
	return buf.Bytes(), true, nil
}

// DecodeFrame parses an inbound frame. Binary frames are decompressed
// before decoding; text frames are decoded directly.
func DecodeFrame(data []byte, binary bool) (Message, error) {
	if binary {
		plain, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	return Decode(data)
}

// Decompress inflates a gzip-compressed binary frame payload.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress frame: %w", err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress frame: %w", err)
	}
	if len(plain) > MaxDecompressedSize {
		return nil, fmt.Errorf("protocol: decompressed frame exceeds %d bytes", MaxDecompressedSize)
	}
	return plain, nil
}
