package ingest

// decode.go turns raw response body bytes into text chunks for the line
// splitter without losing characters at chunk boundaries:
//
//   - a UTF-8 BOM at the very start of the stream is dropped
//   - a multi-byte sequence cut by a chunk boundary is carried to the next chunk
//   - invalid bytes become U+FFFD, one per byte, so the output does not
//     depend on where the chunks were cut

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoder converts successive byte chunks into valid UTF-8 text.
// The zero value is ready to use.
type Decoder struct {
	// Leftover bytes from the previous chunk: an incomplete rune or a
	// partial BOM.
	pending    []byte
	bomChecked bool
}

// Decode returns the text that is complete after appending p.
func (d *Decoder) Decode(p []byte) string {
	data := make([]byte, 0, len(d.pending)+len(p))
	data = append(data, d.pending...)
	data = append(data, p...)
	d.pending = nil

	if !d.bomChecked {
		if len(data) < len(utf8BOM) && bytes.HasPrefix(utf8BOM, data) {
			d.pending = data
			return ""
		}
		d.bomChecked = true
		data = bytes.TrimPrefix(data, utf8BOM)
	}

	if n := incompleteTrailingBytes(data); n > 0 {
		tail := make([]byte, n)
		copy(tail, data[len(data)-n:])
		d.pending = tail
		data = data[:len(data)-n]
	}

	return sanitize(data)
}

// Flush returns whatever is still held back. Incomplete sequences at the
// end of the stream are invalid and come out as replacement characters.
func (d *Decoder) Flush() string {
	data := d.pending
	d.pending = nil
	d.bomChecked = true
	return sanitize(data)
}

// sanitize converts data to a string, replacing each invalid byte with U+FFFD.
func sanitize(data []byte) string {
	if isAllASCII(data) || utf8.Valid(data) {
		return string(data)
	}

	var b strings.Builder
	b.Grow(len(data))
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(data[read : read+size])
		}
		read += size
	}
	return b.String()
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Continuation byte (10xxxxxx) - keep looking for the lead byte
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0 // continuation byte
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}
