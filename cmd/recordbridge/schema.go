package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/recordbridge/pkg/connector/destinations/bigquery"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats/avro"
	"github.com/ajitpratap0/recordbridge/pkg/formats/columnar"
	"github.com/ajitpratap0/recordbridge/pkg/json"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Infer and render record schemas",
	}
	cmd.AddCommand(newSchemaInferCommand(), newSchemaShowCommand())
	return cmd
}

func newSchemaInferCommand() *cobra.Command {
	opts := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "infer <file>",
		Short: "Print the schema of a data file",
		Long: `Print the schema of a data file as a JSON schema document. Avro, Parquet
and Arrow files carry their schema; CSV, Excel and NDJSON schemas are
inferred from the first --sample-size records.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := fileSchema(args[0], opts)
			if err != nil {
				return err
			}
			return renderSchema(cmd.OutOrStdout(), s, "json")
		},
	}
	opts.addInputFlags(cmd)
	return cmd
}

func newSchemaShowCommand() *cobra.Command {
	opts := &fileOptions{}
	var as string
	cmd := &cobra.Command{
		Use:   "show <schema.json|file>",
		Short: "Render a schema in another type system",
		Long: `Render a schema as JSON, Avro, Arrow or BigQuery. The argument is either a
JSON schema document or a data file whose schema is inferred.

Example:
  recordbridge schema show orders.schema.json --as avro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s *schema.Schema
			var err error
			if strings.HasSuffix(strings.ToLower(args[0]), ".schema.json") {
				s, err = schema.LoadFile(args[0])
			} else {
				s, err = fileSchema(args[0], opts)
			}
			if err != nil {
				return err
			}
			return renderSchema(cmd.OutOrStdout(), s, as)
		},
	}
	opts.addInputFlags(cmd)
	cmd.Flags().StringVar(&as, "as", "json", "Output type system: json, avro, arrow or bigquery")
	return cmd
}

func fileSchema(path string, opts *fileOptions) (*schema.Schema, error) {
	r, closeReader, err := openReader(path, opts)
	if err != nil {
		return nil, err
	}
	defer closeReader()
	return r.Schema(), nil
}

func renderSchema(w io.Writer, s *schema.Schema, as string) error {
	var out []byte
	switch strings.ToLower(as) {
	case "json":
		data, err := s.MarshalIndent()
		if err != nil {
			return err
		}
		out = data
	case "avro":
		m, err := avro.ToAvro(s)
		if err != nil {
			return err
		}
		if out, err = json.MarshalIndent(m, "", "  "); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSchema, "encoding avro schema")
		}
	case "arrow":
		arrowSchema, err := columnar.ToArrow(s)
		if err != nil {
			return err
		}
		out = []byte(arrowSchema.String())
	case "bigquery", "bq":
		bs, err := bigquery.ToBigQuerySchema(s)
		if err != nil {
			return err
		}
		if out, err = bs.ToJSONFields(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSchema, "encoding bigquery schema")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown schema output %q", as)
	}
	_, err := fmt.Fprintln(w, string(out))
	return err
}
