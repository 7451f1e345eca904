// Package compression wraps byte streams in the codecs recordbridge accepts
// for text formats and for any object written with a compression suffix.
//
// Snappy and S2 favour speed, zstd favours ratio, gzip is what every other
// tool can read. Close on a writer finishes the stream but never closes the
// wrapped writer, so a destination can seal a part file after the codec.
//
//	w, err := compression.NewWriter(f, compression.FromPath(name), compression.Default)
//	r, err := compression.NewReader(f, compression.FromPath("orders.csv.gz"))
package compression

import (
	"bufio"
	"bytes"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// Algorithm names a stream codec
type Algorithm string

const (
	None   Algorithm = "none"
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
	LZ4    Algorithm = "lz4"
	Zstd   Algorithm = "zstd"
	S2     Algorithm = "s2"
)

// Level trades speed for ratio; each codec maps it to its own scale
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

type codec struct {
	ext   string
	magic []byte
	write func(w io.Writer, level Level) (io.WriteCloser, error)
	read  func(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[Algorithm]codec{
	Gzip: {
		ext:   ".gz",
		magic: []byte{0x1f, 0x8b},
		write: func(w io.Writer, level Level) (io.WriteCloser, error) {
			lvl := gzip.DefaultCompression
			switch level {
			case Fastest:
				lvl = gzip.BestSpeed
			case Best:
				lvl = gzip.BestCompression
			}
			return gzip.NewWriterLevel(w, lvl)
		},
		read: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	},
	Snappy: {
		ext:   ".sz",
		magic: []byte("\xff\x06\x00\x00sNaPpY"),
		write: func(w io.Writer, _ Level) (io.WriteCloser, error) {
			return snappy.NewBufferedWriter(w), nil
		},
		read: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(snappy.NewReader(r)), nil
		},
	},
	S2: {
		ext:   ".s2",
		magic: []byte("\xff\x06\x00\x00S2sTwO"),
		write: func(w io.Writer, level Level) (io.WriteCloser, error) {
			if level >= Better {
				return s2.NewWriter(w, s2.WriterBetterCompression()), nil
			}
			return s2.NewWriter(w), nil
		},
		read: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(s2.NewReader(r)), nil
		},
	},
	LZ4: {
		ext:   ".lz4",
		magic: []byte{0x04, 0x22, 0x4d, 0x18},
		write: func(w io.Writer, level Level) (io.WriteCloser, error) {
			lvl := lz4.Level5
			switch level {
			case Fastest:
				lvl = lz4.Fast
			case Best:
				lvl = lz4.Level9
			}
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
				return nil, err
			}
			return zw, nil
		},
		read: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	},
	Zstd: {
		ext:   ".zst",
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		write: func(w io.Writer, level Level) (io.WriteCloser, error) {
			lvl := zstd.SpeedDefault
			switch level {
			case Fastest:
				lvl = zstd.SpeedFastest
			case Better:
				lvl = zstd.SpeedBetterCompression
			case Best:
				lvl = zstd.SpeedBestCompression
			}
			return zstd.NewWriter(w, zstd.WithEncoderLevel(lvl))
		},
		read: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	},
}

var aliases = map[string]Algorithm{"": None, "gz": Gzip, "zst": Zstd, "sz": Snappy}

// Parse maps a configuration value to an algorithm; "" means None
func Parse(name string) (Algorithm, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[key]; ok {
		return a, nil
	}
	a := Algorithm(key)
	if _, ok := codecs[a]; ok || a == None {
		return a, nil
	}
	return None, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q (supported: %s)",
		name, strings.Join(Names(), ", "))
}

// Names lists the supported algorithms
func Names() []string {
	names := []string{string(None)}
	for a := range codecs {
		names = append(names, string(a))
	}
	sort.Strings(names[1:])
	return names
}

// Extension returns the file suffix of a with its dot, "" for None
func (a Algorithm) Extension() string {
	return codecs[a].ext
}

// FromPath returns the algorithm named by the last suffix of path
func FromPath(path string) Algorithm {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return None
	}
	for a, c := range codecs {
		if c.ext == ext {
			return a
		}
	}
	return None
}

// TrimExtension strips a compression suffix from path
func TrimExtension(path string) string {
	if a := FromPath(path); a != None {
		return path[:len(path)-len(a.Extension())]
	}
	return path
}

// Detect peeks at the head of r and names the codec its magic bytes belong
// to. Read from the returned reader, which still holds the peeked bytes.
func Detect(r io.Reader) (Algorithm, io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(10)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return None, br, errors.Wrap(err, errors.ErrorTypeFile, "failed to read stream header")
	}
	for a, c := range codecs {
		if len(c.magic) > 0 && bytes.HasPrefix(head, c.magic) {
			return a, br, nil
		}
	}
	return None, br, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter compresses what is written to the result into w
func NewWriter(w io.Writer, a Algorithm, level Level) (io.WriteCloser, error) {
	if a == None || a == "" {
		return nopWriteCloser{w}, nil
	}
	c, ok := codecs[a]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", a)
	}
	zw, err := c.write(w, level)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create %s writer", a)
	}
	return zw, nil
}

// NewReader decompresses r
func NewReader(r io.Reader, a Algorithm) (io.ReadCloser, error) {
	if a == None || a == "" {
		return io.NopCloser(r), nil
	}
	c, ok := codecs[a]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", a)
	}
	zr, err := c.read(r)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s stream", a)
	}
	return zr, nil
}
