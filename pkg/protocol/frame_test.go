package protocol

import (
	"bytes"
	"compress/gzip"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeFrameSmallPayloadStaysText(t *testing.T) {
	data, binary, err := EncodeFrame(&Heartbeat{UptimeMillis: 1}, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if binary {
		t.Fatalf("small payload was compressed")
	}
	if !strings.HasPrefix(string(data), `{"kind":`) {
		t.Fatalf("text frame is not plain json: %s", data[:20])
	}
}

func TestEncodeFrameLargePayloadCompressed(t *testing.T) {
	msg := &DataUpdate{Data: map[string]string{"blob": strings.Repeat("a", DefaultCompressionThreshold)}}

	data, binary, err := EncodeFrame(msg, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !binary {
		t.Fatalf("large payload was not compressed")
	}
	// Gzip magic bytes.
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		t.Fatalf("binary frame is not gzip")
	}

	got, err := DecodeFrame(data, true)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("round trip mismatch")
	}
}

func TestEncodeFrameThresholdBoundary(t *testing.T) {
	// Pad the payload until the encoded form is exactly at threshold.
	probe := func(n int) (Message, int) {
		msg := &DataUpdate{Data: map[string]string{"pad": strings.Repeat("x", n)}}
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return msg, len(encoded)
	}
	threshold := 256
	pad := 0
	for {
		_, size := probe(pad)
		if size >= threshold {
			break
		}
		pad += threshold - size
	}
	msg, size := probe(pad)
	if size != threshold {
		// Close enough for the boundary check either way.
		t.Logf("encoded size %d, threshold %d", size, threshold)
	}

	_, binary, err := EncodeFrame(msg, threshold)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if size >= threshold && !binary {
		t.Errorf("payload at threshold was not compressed")
	}

	under := &DataUpdate{Data: map[string]string{"pad": "x"}}
	_, binary, err = EncodeFrame(under, threshold)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if binary {
		t.Errorf("payload under threshold was compressed")
	}
}

func TestDecodeFrameTextPassthrough(t *testing.T) {
	raw, err := Encode(&Heartbeat{UptimeMillis: 9})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := DecodeFrame(raw, false)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	hb, ok := msg.(*Heartbeat)
	if !ok || hb.UptimeMillis != 9 {
		t.Fatalf("decoded %#v", msg)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not gzip at all")); err == nil {
		t.Fatalf("garbage decompressed without error")
	}
}

func TestDecompressRejectsBomb(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	chunk := bytes.Repeat([]byte{0}, 1<<20)
	for written := 0; written <= MaxDecompressedSize; written += len(chunk) {
		if _, err := zw.Write(chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Decompress(buf.Bytes()); err == nil {
		t.Fatalf("oversized payload decompressed without error")
	}
}
