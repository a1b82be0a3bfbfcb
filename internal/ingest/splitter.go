package ingest

import "bytes"

// LineSplitter buffers text chunks and hands back complete lines.
//
// Lines are terminated by '\n'; a '\r' directly before the terminator is
// stripped. There is no length limit: a line without a terminator stays
// buffered until Flush. The zero value is ready to use.
type LineSplitter struct {
	buf []byte
}

// Push appends a chunk and returns every line it completed, in order.
func (s *LineSplitter) Push(chunk string) []string {
	if chunk == "" {
		return nil
	}

	// buf never holds a '\n', so only the new bytes need scanning.
	scanFrom := len(s.buf)
	s.buf = append(s.buf, chunk...)

	var lines []string
	start := 0
	for {
		idx := bytes.IndexByte(s.buf[scanFrom:], '\n')
		if idx < 0 {
			break
		}
		end := scanFrom + idx
		lines = append(lines, trimCR(s.buf[start:end]))
		start = end + 1
		scanFrom = start
	}

	if start > 0 {
		rest := len(s.buf) - start
		copy(s.buf, s.buf[start:])
		s.buf = s.buf[:rest]
	}
	return lines
}

// Flush returns the buffered partial line, if non-empty, and empties the buffer.
func (s *LineSplitter) Flush() (string, bool) {
	if len(s.buf) == 0 {
		return "", false
	}
	line := trimCR(s.buf)
	s.buf = s.buf[:0]
	return line, line != ""
}

// Buffered returns the number of bytes waiting for a terminator.
func (s *LineSplitter) Buffered() int {
	return len(s.buf)
}

func trimCR(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b)
}
