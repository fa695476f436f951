// SPDX-License-Identifier: BSD-3-Clause

// Package patch implements the streaming binary patch directive engine:
// text patch files, one directive per non-blank line, applied in file
// order and (when multiple files are given) list order, against a
// windowed view of an image so that multi-hundred-megabyte images never
// need to be held fully in memory.
package patch

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Directive is a single parsed patch line: write Bytes starting at Offset.
type Directive struct {
	Offset int64
	Bytes  []byte
}

// ParseDirectives reads one directive per non-blank line in the form
// "<hex offset>:<hex bytes>", e.g. "1a3f:deadbeef". Blank lines and lines
// consisting only of whitespace are skipped; anything else that fails to
// parse is an ErrInvalidDirective.
func ParseDirectives(r io.Reader) ([]Directive, error) {
	var directives []Directive
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		d, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidDirective, lineNo, err)
		}
		directives = append(directives, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirective, err)
	}

	return directives, nil
}

func parseLine(line string) (Directive, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return Directive{}, fmt.Errorf("expected \"offset:bytes\", got %q", line)
	}

	offset, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 16, 64)
	if err != nil {
		return Directive{}, fmt.Errorf("invalid hex offset %q: %w", parts[0], err)
	}
	if offset < 0 {
		return Directive{}, fmt.Errorf("offset %d is negative", offset)
	}

	data, err := hex.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return Directive{}, fmt.Errorf("invalid hex bytes %q: %w", parts[1], err)
	}

	return Directive{Offset: offset, Bytes: data}, nil
}

// Window is a streaming, random-access view over an image. Apply returns a
// new Window with directives overlaid, without requiring the whole image
// to be materialized in memory.
type Window interface {
	io.ReaderAt
	Len() int64
}

// sliceWindow is the simplest Window: an in-memory byte slice. Callers
// backed by large files should supply their own io.ReaderAt-based Window
// (e.g. wrapping an *os.File) instead.
type sliceWindow struct {
	data []byte
}

// NewSliceWindow wraps an in-memory byte slice as a Window.
func NewSliceWindow(data []byte) Window {
	return &sliceWindow{data: data}
}

func (w *sliceWindow) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(w.data)) {
		return 0, io.EOF
	}
	n := copy(p, w.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *sliceWindow) Len() int64 { return int64(len(w.data)) }

// overlayWindow serves reads from base except where directives have
// overridden bytes; directives are applied in the order given, so a later
// directive overlapping an earlier one wins for the overlapping bytes.
type overlayWindow struct {
	base   Window
	length int64
	edits  []Directive
}

// Apply applies directives to base in order, returning a Window that
// reflects the edits without copying base's bytes. A directive writing
// past the end of base extends the window's length; gaps (offsets beyond
// the immediately preceding content) are zero-filled, matching how a
// streaming patch over a sparse region behaves.
func Apply(base Window, directives []Directive) (Window, error) {
	length := base.Len()
	for _, d := range directives {
		if d.Offset < 0 {
			return nil, fmt.Errorf("%w: negative offset %d", ErrOffsetOutOfRange, d.Offset)
		}
		end := d.Offset + int64(len(d.Bytes))
		if end > length {
			length = end
		}
	}

	edits := append([]Directive(nil), directives...)

	return &overlayWindow{base: base, length: length, edits: edits}, nil
}

func (w *overlayWindow) Len() int64 { return w.length }

func (w *overlayWindow) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= w.length {
		return 0, io.EOF
	}

	want := len(p)
	if int64(want) > w.length-off {
		want = int(w.length - off)
	}

	for i := range p[:want] {
		p[i] = 0
	}

	if n, err := w.base.ReadAt(p[:want], off); err != nil && err != io.EOF {
		return 0, fmt.Errorf("%w: %w", ErrWindowExhausted, err)
	} else if n > 0 {
		// base bytes already copied into p[:n]; anything beyond n stays
		// zero-filled until an edit or the caller extends the read.
		_ = n
	}

	for _, d := range w.edits {
		dEnd := d.Offset + int64(len(d.Bytes))
		readEnd := off + int64(want)
		if dEnd <= off || d.Offset >= readEnd {
			continue
		}

		srcStart := int64(0)
		dstStart := d.Offset - off
		if dstStart < 0 {
			srcStart = -dstStart
			dstStart = 0
		}
		n := int64(len(d.Bytes)) - srcStart
		if dstStart+n > int64(want) {
			n = int64(want) - dstStart
		}
		if n > 0 {
			copy(p[dstStart:dstStart+n], d.Bytes[srcStart:srcStart+n])
		}
	}

	if int64(want) < int64(len(p)) {
		return want, io.EOF
	}
	return want, nil
}

// ReadAll drains a Window into a single byte slice. Intended for small
// windows (tests, CRC computation of already-small images); production
// sends should stream a Window directly to netdimm.Client.Send instead.
func ReadAll(w Window) ([]byte, error) {
	out := make([]byte, w.Len())
	n, err := w.ReadAt(out, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out[:n], nil
}
