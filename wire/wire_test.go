package wire

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReaderSize(strings.NewReader(s), 64)
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    string
		wantErr error
	}{
		{name: "simple", input: "EHLO client.example.com\r\n", max: 512, want: "EHLO client.example.com"},
		{name: "empty line", input: "\r\n", max: 512, want: ""},
		{name: "bare LF rejected", input: "EHLO client\n", max: 512, wantErr: ErrBadLineEnding},
		{name: "too long", input: strings.Repeat("a", 20) + "\r\n", max: 10, wantErr: ErrLineTooLong},
		{name: "exactly max", input: strings.Repeat("a", 10) + "\r\n", max: 10, want: strings.Repeat("a", 10)},
		{name: "spans buffer", input: strings.Repeat("b", 200) + "\r\n", max: 512, want: strings.Repeat("b", 200)},
		{name: "spans buffer too long", input: strings.Repeat("b", 600) + "\r\n", max: 512, wantErr: ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadLine(reader(tt.input), tt.max, false)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadLine() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadLine() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadLineResyncAfterOversized(t *testing.T) {
	r := reader(strings.Repeat("x", 600) + "\r\nQUIT\r\n")

	if _, err := ReadLine(r, 512, false); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	// The oversized line must be fully drained so the next read starts at
	// the following command.
	got, err := ReadLine(r, 512, false)
	if err != nil {
		t.Fatalf("ReadLine() after oversized line: %v", err)
	}
	if got != "QUIT" {
		t.Errorf("ReadLine() = %q, want QUIT", got)
	}
}

func TestReadLine7BitEnforcement(t *testing.T) {
	if _, err := ReadLine(reader("caf\xc3\xa9\r\n"), 512, true); !errors.Is(err, Err8BitData) {
		t.Fatalf("expected Err8BitData, got %v", err)
	}

	got, err := ReadLine(reader("caf\xc3\xa9\r\n"), 512, false)
	if err != nil {
		t.Fatalf("ReadLine() without enforcement: %v", err)
	}
	if got != "caf\xc3\xa9" {
		t.Errorf("8-bit octets were not preserved: %q", got)
	}
}

func TestReadData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple body",
			input: "line one\r\nline two\r\n.\r\n",
			want:  "line one\r\nline two\r\n",
		},
		{
			name:  "empty body",
			input: ".\r\n",
			want:  "",
		},
		{
			name:  "dot unstuffing",
			input: "..leading dot\r\n...two dots\r\n.\r\n",
			want:  ".leading dot\r\n..two dots\r\n",
		},
		{
			name:  "dot mid-line untouched",
			input: "a.b\r\n.\r\n",
			want:  "a.b\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadData(reader(tt.input), 0, false)
			if err != nil {
				t.Fatalf("ReadData() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("ReadData() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadDataTooLarge(t *testing.T) {
	r := reader("0123456789\r\n0123456789\r\n.\r\nNOOP\r\n")

	_, err := ReadData(r, 15, false)
	if !errors.Is(err, ErrDataTooLarge) {
		t.Fatalf("expected ErrDataTooLarge, got %v", err)
	}

	// The body must be consumed through the terminator so the connection
	// stays synchronized.
	got, err := ReadLine(r, 512, false)
	if err != nil || got != "NOOP" {
		t.Fatalf("stream out of sync after oversized body: %q, %v", got, err)
	}
}

func TestReadData8BitRejected(t *testing.T) {
	r := reader("caf\xc3\xa9\r\nmore\r\n.\r\nNOOP\r\n")

	_, err := ReadData(r, 0, true)
	if !errors.Is(err, Err8BitData) {
		t.Fatalf("expected Err8BitData, got %v", err)
	}

	got, err := ReadLine(r, 512, false)
	if err != nil || got != "NOOP" {
		t.Fatalf("stream out of sync after rejected body: %q, %v", got, err)
	}
}

func TestReadData8BitAllowed(t *testing.T) {
	body := "Subject: caf\xc3\xa9\r\n\r\n\xff\xfe binary-ish\r\n"
	got, err := ReadData(reader(body+".\r\n"), 0, false)
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if string(got) != body {
		t.Errorf("8-bit body was altered:\ngot  %q\nwant %q", got, body)
	}
}

func TestWriteData(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "plain",
			data: "hello\r\nworld\r\n",
			want: "hello\r\nworld\r\n.\r\n",
		},
		{
			name: "leading dots stuffed",
			data: ".hidden\r\n..deeper\r\n",
			want: "..hidden\r\n...deeper\r\n.\r\n",
		},
		{
			name: "bare LF normalized",
			data: "one\ntwo\n",
			want: "one\r\ntwo\r\n.\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteData(&buf, []byte(tt.data)); err != nil {
				t.Fatalf("WriteData() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("WriteData() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	original := ".starts with dot\r\nmiddle . dot\r\n..double\r\nplain\r\n"

	var buf bytes.Buffer
	if err := WriteData(&buf, []byte(original)); err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}

	got, err := ReadData(bufio.NewReader(&buf), 0, false)
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if string(got) != original {
		t.Errorf("round trip altered data:\ngot  %q\nwant %q", got, original)
	}
}
