package columnar

import (
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
)

func init() {
	formats.Register(formats.Info{
		Format:        formats.Arrow,
		Name:          "Apache Arrow IPC",
		Extension:     ".arrow",
		MIMEType:      "application/vnd.apache.arrow.file",
		SelfDescribed: true,
		Nested:        true,
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewArrowWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewArrowReader(r, cfg)
	})
}

// ipcCompression maps a compression setting to IPC buffer compression.
// Files are uncompressed unless asked otherwise.
func ipcCompression(compression string) ([]ipc.Option, error) {
	switch strings.ToLower(compression) {
	case "", "none", "uncompressed":
		return nil, nil
	case "lz4", "lz4_frame":
		return []ipc.Option{ipc.WithLZ4()}, nil
	case "zstd":
		return []ipc.Option{ipc.WithZstd()}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "arrow does not support %q compression", compression)
}

// NewArrowWriter creates an Arrow IPC file writer over w
func NewArrowWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	as, err := ToArrow(cfg.Schema)
	if err != nil {
		return nil, err
	}
	opts, err := ipcCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	mem := memory.NewGoAllocator()
	base := formats.NewBaseWriter(formats.Arrow, cfg.Schema, w)
	fw, err := ipc.NewFileWriter(base.Output(), append(opts, ipc.WithSchema(as), ipc.WithAllocator(mem))...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Arrow writer")
	}
	return newWriter(base, as, mem, fw, cfg.BatchSize), nil
}

type ipcBatches struct {
	r   *ipc.FileReader
	rec arrow.Record
	err error
}

func (b *ipcBatches) Next() bool {
	if b.err != nil {
		return false
	}
	b.rec, b.err = b.r.Read()
	return b.err == nil
}

func (b *ipcBatches) Record() arrow.Record { return b.rec }

func (b *ipcBatches) Err() error { return b.err }

// NewArrowReader reads an Arrow IPC file. The footer is at the end of the
// file, so r is buffered in memory unless it supports random access.
func NewArrowReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	cfg = cfg.WithDefaults()
	ra, _, err := formats.RandomAccess(r)
	if err != nil {
		return nil, err
	}
	fr, err := ipc.NewFileReader(ra, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Arrow reader")
	}
	reader, err := newReader(formats.Arrow, fr.Schema(), &ipcBatches{r: fr}, func() { _ = fr.Close() }, cfg)
	if err != nil {
		_ = fr.Close()
		return nil, err
	}
	return reader, nil
}
