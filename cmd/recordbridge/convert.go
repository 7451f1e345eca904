package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/connector/shared/objects"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// fileOptions are the format flags shared by convert and schema
type fileOptions struct {
	objects.Settings
	OutputFormat      string
	OutputCompression string
}

func (o *fileOptions) addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.Format, "from", "", "Input format (default: from the file extension)")
	f.StringVar(&o.SchemaFile, "schema", "", "JSON schema to coerce input records to")
	f.IntVar(&o.SampleSize, "sample-size", 0, "Records sampled to infer a schema")
	f.StringVar(&o.Delimiter, "delimiter", "", "CSV field delimiter")
	f.BoolVar(&o.NoHeader, "no-header", false, "CSV files have no header row")
	f.StringVar(&o.NullToken, "null-token", "", "CSV text standing for null")
	f.StringVar(&o.Separator, "separator", "", "Joins nested field names in flat formats")
	f.StringVar(&o.SheetName, "sheet", "", "Excel worksheet")
}

func newConvertCommand() *cobra.Command {
	opts := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a file between formats",
		Long: `Convert a file between formats. Formats and stream compression are taken
from the file extensions unless --from or --to is given.

Example:
  recordbridge convert orders.csv.gz orders.parquet --compression zstd`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := convertFile(args[0], args[1], opts)
			if err != nil {
				return err
			}
			cmd.Printf("converted %d records to %s\n", n, args[1])
			return nil
		},
	}
	opts.addInputFlags(cmd)
	cmd.Flags().StringVar(&opts.OutputFormat, "to", "", "Output format (default: from the file extension)")
	cmd.Flags().StringVar(&opts.OutputCompression, "compression", "", "Output codec (Avro, Parquet) or stream compression (CSV, NDJSON)")
	cmd.Flags().IntVar(&opts.RowGroupSize, "row-group-size", 0, "Parquet rows per row group")
	return cmd
}

// openReader opens path as a record reader. The returned close function
// closes both the reader and the file.
func openReader(path string, opts *fileOptions) (formats.Reader, func(), error) {
	f, codec, err := opts.Resolve(path)
	if err != nil {
		return nil, nil, err
	}
	sch, err := opts.LoadSchema()
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", path)
	}
	r, err := formats.NewReader(file, opts.ReaderConfig(f, codec, sch, schemaName(path)))
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return r, func() {
		_ = r.Close()
		_ = file.Close()
	}, nil
}

// schemaName names a schema inferred from path: "orders.csv.gz" gives
// "orders"
func schemaName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return schema.SanitizeName(base)
}

func convertFile(in, out string, opts *fileOptions) (int64, error) {
	log := logger.Get().With(zap.String("input", in), zap.String("output", out))

	r, closeReader, err := openReader(in, opts)
	if err != nil {
		return 0, err
	}
	defer closeReader()

	outSettings := opts.Settings
	outSettings.Format = opts.OutputFormat
	outSettings.Compression = ""
	format, codec, err := outSettings.Resolve(out)
	if err != nil {
		return 0, err
	}
	if opts.OutputCompression != "" {
		codec = opts.OutputCompression
	}
	outSettings.Compression = codec

	file, err := os.Create(out) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create %s", out)
	}
	w, err := formats.NewWriter(file, outSettings.WriterConfig(format, r.Schema(), 0))
	if err != nil {
		_ = file.Close()
		return 0, err
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err == nil {
			err = w.Write(rec)
		}
		if err != nil {
			_ = w.Close()
			_ = file.Close()
			return w.RecordsWritten(), err
		}
	}
	if err := w.Close(); err != nil {
		_ = file.Close()
		return w.RecordsWritten(), err
	}
	if err := file.Close(); err != nil {
		return w.RecordsWritten(), errors.Wrapf(err, errors.ErrorTypeFile, "failed to close %s", out)
	}
	log.Info("converted file",
		zap.String("from", string(r.Format())),
		zap.String("to", string(format)),
		zap.Int64("records", w.RecordsWritten()),
		zap.Int64("bytes", w.BytesWritten()))
	return w.RecordsWritten(), nil
}
