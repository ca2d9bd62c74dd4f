package protocol

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// oneByteReader forces the frame reader to reassemble across short reads.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xF0}, 300),
	}

	var buf bytes.Buffer
	for _, payload := range payloads {
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for i, want := range payloads {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: payload mismatch", i)
		}
	}
	if _, err := ReadFrame(r); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadFrameAcrossShortReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAA}, 521)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	r := bufio.NewReaderSize(oneByteReader{&buf}, 16)
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch after short reads")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("complete")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	short := buf.Bytes()[:buf.Len()-3]

	if _, err := ReadFrame(bufio.NewReader(bytes.NewReader(short))); err == nil {
		t.Fatalf("expected error on truncated payload")
	}
}

func TestFrameSizeLimit(t *testing.T) {
	if err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)); err != ErrFrameTooLarge {
		t.Fatalf("WriteFrame err = %v, want ErrFrameTooLarge", err)
	}

	header := protowire.AppendVarint(nil, MaxFrameSize+1)
	if _, err := ReadFrame(bufio.NewReader(bytes.NewReader(header))); err != ErrFrameTooLarge {
		t.Fatalf("ReadFrame err = %v, want ErrFrameTooLarge", err)
	}
}
