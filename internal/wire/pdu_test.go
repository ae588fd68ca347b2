package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestJSONLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, JSONLine, Response{"version": "1.0", "foo": "bar"}); err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}

	// A request uses the same framing; write one by hand to decode it.
	buf.Reset()
	body := `["watch","/tmp/a"]`
	buf.WriteString("18\n")
	buf.WriteString(body)

	args, enc, err := DecodeRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if enc != JSONLine {
		t.Fatalf("expected JSONLine, got %v", enc)
	}
	if len(args) != 2 || args[0] != "watch" || args[1] != "/tmp/a" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBinaryFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, BinaryFramed, Response{"version": "1.0"}); err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}

	// Build a binary-framed request by hand and decode it back.
	var reqBuf bytes.Buffer
	if err := EncodeResponse(&reqBuf, BinaryFramed, []any{"version"}); err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}

	args, enc, err := DecodeRequest(bufio.NewReader(&reqBuf))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if enc != BinaryFramed {
		t.Fatalf("expected BinaryFramed, got %v", enc)
	}
	if len(args) != 1 || args[0] != "version" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestDecodeRequestBadLengthHeader(t *testing.T) {
	buf := bytes.NewBufferString("notanumber\n{}")
	_, _, err := DecodeRequest(bufio.NewReader(buf))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if _, ok := err.(*DecodeError); !ok {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
}

func TestEncodeFileListTemplateFaithfulness(t *testing.T) {
	matches := []MatchRecord{
		{Name: "a.txt", Exists: true, Size: 10, OClock: "c:1:1", CClock: "c:1:2"},
		{Name: "b.txt", Exists: false, OClock: "c:1:1"},
	}
	out := EncodeFileList(matches).(templatedFileList)
	if len(out.Template) != len(FileFields) {
		t.Fatalf("template length mismatch: %d vs %d", len(out.Template), len(FileFields))
	}
	for i, row := range out.Rows {
		if len(row) != len(FileFields) {
			t.Fatalf("row %d has %d fields, want %d", i, len(row), len(FileFields))
		}
	}
	// exists == false => no stat fields present.
	missingRow := out.Rows[1]
	for i := fSize; i <= fCClock; i++ {
		if i == fOClock {
			continue
		}
		if missingRow[i] != nil {
			t.Fatalf("field %d should be nil for a non-existent file, got %v", i, missingRow[i])
		}
	}
}
