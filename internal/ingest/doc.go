// Package ingest parses the response body of the conversion backend.
//
// A /convert response is a single text stream with two sections. The first
// is human-readable progress, one message per line. A sentinel line
// (DefaultResultMarker) ends it, and everything after the sentinel is the
// JSON result document:
//
//	Processing 3 chunks
//	chunk 1/3
//	chunk 2/3
//	chunk 3/3
//	---JSON RESULT---
//	{"bundle":{"entry":[]}}
//
// The pieces, leaves first:
//
//   - Decoder: raw bytes to UTF-8 text, safe across chunk boundaries
//   - LineSplitter: text chunks to complete lines
//   - Classifier: one line plus the current Mode to a tagged Line
//   - Session: owns the above for one upload and produces the document
//
// The session only moves forward: progress mode switches to payload mode
// once, on the sentinel, and never back. Step counters only grow, so a
// late or repeated progress line never moves a progress bar backwards.
package ingest
