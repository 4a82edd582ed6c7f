package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Kind names the capture file an entity kind is read from.
type Kind string

const (
	KindSites  Kind = "sites"
	KindUsers  Kind = "users"
	KindGroups Kind = "groups"
)

// FileName returns <dir>/<base>.<instanceType>.<kind>.<timeStr>.json.
func FileName(dir, base, instanceType string, kind Kind, timeStr string) string {
	name := fmt.Sprintf("%s.%s.%s.%s.json", base, instanceType, kind, timeStr)
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// Record is one captured entity as raw JSON.
type Record json.RawMessage

func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

func (r Record) String() string {
	return string(r)
}

type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("open capture file %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

type RecordDecodeError struct {
	Path  string
	Index int
	Err   error
}

func (e *RecordDecodeError) Error() string {
	return fmt.Sprintf("decode record #%d of %s: %v", e.Index, e.Path, e.Err)
}

func (e *RecordDecodeError) Unwrap() error { return e.Err }

// Reader streams records from a capture file. Files written by the capture
// tool hold a JSON array with one element per line, each but the last
// followed by a comma; a comma before the closing bracket is accepted too.
// Plain newline-delimited objects are read the same way.
type Reader struct {
	path    string
	f       *os.File
	dec     *json.Decoder
	started bool
	done    bool
	index   int
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	return &Reader{path: path, f: f}, nil
}

func (r *Reader) Path() string { return r.path }

// Next returns the next record or io.EOF once the file is exhausted.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.started {
		if err := r.start(); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}
	}

	if !r.dec.More() {
		r.done = true
		return nil, io.EOF
	}

	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		r.done = true
		return nil, r.decodeErr(err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		r.done = true
		return nil, r.decodeErr(fmt.Errorf("expected a JSON object, got %.20s", string(raw)))
	}
	r.index++
	return Record(raw), nil
}

func (r *Reader) start() error {
	r.started = true
	br := bufio.NewReader(r.f)
	first, err := firstByte(br)
	if err == io.EOF {
		r.done = true
		return nil
	}
	if err != nil {
		r.done = true
		return r.decodeErr(err)
	}
	if first == '[' {
		_, _ = br.ReadByte()
	}
	r.dec = json.NewDecoder(&separatorFilter{r: br})
	return nil
}

// separatorFilter blanks the commas between top-level values and the
// bracket closing the outer array, so the decoder sees a plain stream of
// values. Nothing after that bracket is read.
type separatorFilter struct {
	r       io.Reader
	depth   int
	inStr   bool
	escaped bool
	closed  bool
}

func (f *separatorFilter) Read(p []byte) (int, error) {
	if f.closed {
		return 0, io.EOF
	}
	n, err := f.r.Read(p)
	for i := 0; i < n; i++ {
		c := p[i]
		if f.inStr {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inStr = false
			}
			continue
		}
		switch c {
		case '"':
			f.inStr = true
		case '{', '[':
			f.depth++
		case '}':
			if f.depth > 0 {
				f.depth--
			}
		case ']':
			if f.depth == 0 {
				p[i] = ' '
				f.closed = true
				return i + 1, nil
			}
			f.depth--
		case ',':
			if f.depth == 0 {
				p[i] = ' '
			}
		}
	}
	return n, err
}

// firstByte skips leading whitespace and reports the next byte without
// consuming it.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func (r *Reader) decodeErr(err error) error {
	return &RecordDecodeError{Path: r.path, Index: r.index + 1, Err: err}
}

func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
