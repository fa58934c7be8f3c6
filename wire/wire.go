// Package wire implements the line-oriented SMTP wire codec: strict
// CRLF-terminated command lines and the dot-terminated DATA body transfer
// with transparency escaping (RFC 5321 Section 4.5.2).
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
	Err8BitData      = errors.New("smtp: 8-bit data in 7BIT body")
	ErrDataTooLarge  = errors.New("smtp: message data exceeds maximum size")
)

// MaxContentLineLength is the RFC 5322 line length limit for message
// content, excluding CRLF.
const MaxContentLineLength = 998

// ReadLine reads one CRLF-terminated line, returning it without the
// terminator. Lines ending in a bare LF are rejected with ErrBadLineEnding
// (SMTP smuggling defense). Lines longer than max are drained from the
// stream before ErrLineTooLong is returned, so the session can keep its
// protocol synchronization and reply. With enforce7Bit set, any octet above
// 127 yields Err8BitData.
func ReadLine(r *bufio.Reader, max int, enforce7Bit bool) (string, error) {
	slice, err := r.ReadSlice('\n')
	if err == nil {
		// Whole line fit in the buffer.
		if enforce7Bit && !is7Bit(slice) {
			return "", Err8BitData
		}
		return trimCRLF(slice, max)
	}
	if err != bufio.ErrBufferFull {
		return "", err
	}

	// Line spans buffer fills; accumulate chunk by chunk. The slice is only
	// valid until the next ReadSlice, so copy immediately.
	if enforce7Bit && !is7Bit(slice) {
		drainLine(r)
		return "", Err8BitData
	}
	buf := append([]byte(nil), slice...)

	for {
		slice, err = r.ReadSlice('\n')
		if len(buf)+len(slice) > max+2 {
			drainLine(r)
			return "", ErrLineTooLong
		}
		if enforce7Bit && !is7Bit(slice) {
			drainLine(r)
			return "", Err8BitData
		}
		buf = append(buf, slice...)

		if err == nil {
			return trimCRLF(buf, max)
		}
		if err != bufio.ErrBufferFull {
			return "", err
		}
	}
}

// trimCRLF validates the terminator and length, and strips CRLF.
func trimCRLF(b []byte, max int) (string, error) {
	// b ends in '\n'; require the '\r' before it.
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return "", ErrBadLineEnding
	}
	line := b[: len(b)-2 : len(b)-2]
	if len(line) > max {
		return "", ErrLineTooLong
	}
	return string(line), nil
}

// drainLine discards the remainder of an oversized line so the next read
// starts at a command boundary.
func drainLine(r *bufio.Reader) {
	for {
		_, err := r.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

func is7Bit(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// ReadData reads message content until the terminator line consisting of a
// single dot, removing dot-stuffing (a leading ".." becomes "."). The
// returned bytes keep their CRLF line endings. When the accumulated size
// would exceed maxSize (0 = unlimited), or an 8-bit octet appears while
// enforce7Bit is set, the remainder of the body is drained through the
// terminator before the error is returned so the connection stays usable.
func ReadData(r *bufio.Reader, maxSize int64, enforce7Bit bool) ([]byte, error) {
	var buf bytes.Buffer
	var tooLarge, has8Bit bool

	for {
		line, err := ReadLine(r, MaxContentLineLength, enforce7Bit)
		if err != nil {
			if errors.Is(err, Err8BitData) {
				// Remember the violation and drain the rest without
				// enforcement so the terminator can still be found.
				has8Bit = true
				enforce7Bit = false
				continue
			}
			return nil, err
		}

		if line == "." {
			break
		}

		if tooLarge || has8Bit {
			continue
		}

		// Transparency: strip the escape dot.
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		if maxSize > 0 && int64(buf.Len())+int64(len(line))+2 > maxSize {
			tooLarge = true
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	if has8Bit {
		return nil, Err8BitData
	}
	if tooLarge {
		return nil, ErrDataTooLarge
	}
	return buf.Bytes(), nil
}

// WriteData writes message content with dot-stuffing applied and the
// terminating ".<CRLF>" appended. Bare LF line endings in data are
// normalized to CRLF. It is the inverse of ReadData and is what a client
// side uses on the wire.
func WriteData(w io.Writer, data []byte) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}

	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) > 0 && line[0] == '.' {
			if err := bw.WriteByte('.'); err != nil {
				return err
			}
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if _, err := bw.WriteString("\r\n"); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString(".\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}
