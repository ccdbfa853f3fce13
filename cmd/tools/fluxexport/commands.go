package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/export"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

type options struct {
	configPath string
	envFile    string
	verbose    bool
	queryFile  string
	timeout    time.Duration

	bucket  string
	filters []string
	start   string
	stop    string
	window  string
	fn      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "fluxexport",
		Short:         "Run Flux queries against the plant bucket and export the result.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&opts.envFile, "env", ".env", "Optional env file loaded before configuration")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	flags.StringVarP(&opts.queryFile, "file", "f", "", "Read the query from a file instead of the arguments")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Query deadline")
	flags.StringVarP(&opts.bucket, "bucket", "b", "", "Build the query on this bucket instead of reading it")
	flags.StringArrayVar(&opts.filters, "filter", nil, "Filter as key=v1,v2 (repeatable, chain order)")
	flags.StringVar(&opts.start, "start", "", "Range start (duration like -24h or time(v: ...))")
	flags.StringVar(&opts.stop, "stop", "", "Range stop")
	flags.StringVar(&opts.window, "window", "", "Aggregation window period")
	flags.StringVar(&opts.fn, "fn", "", "Aggregation function")

	root.AddCommand(newQueryCmd(opts), newExportCmd(opts))
	return root
}

func newQueryCmd(opts *options) *cobra.Command {
	var (
		limit   int
		execute bool
	)
	cmd := &cobra.Command{
		Use:   "query [flux]",
		Short: "Print the built query, or execute it and print the records as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := opts.query(args)
			if err != nil {
				return err
			}
			if !execute {
				fmt.Fprintln(cmd.OutOrStdout(), query)
				return nil
			}
			res, err := run(cmd.Context(), opts, query)
			if err != nil {
				return err
			}
			preview(cmd.OutOrStdout(), res, limit)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&execute, "run", "r", false, "Execute the query")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Rows to print, 0 for all")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		format      string
		output      string
		showPreview bool
	)
	cmd := &cobra.Command{
		Use:   "export [flux]",
		Short: "Execute a query and write the wide device/variable matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			query, err := opts.query(args)
			if err != nil {
				return err
			}
			res, err := run(cmd.Context(), opts, query)
			if err != nil {
				return err
			}
			m := export.ToWideMatrix(export.RowsFromResult(res))
			if showPreview {
				previewMatrix(cmd.OutOrStdout(), m, 10)
			}

			if output == "auto" {
				output = export.Filename(opts.bucket, opts.selections(), time.Now(), f)
			}
			if output == "" {
				if err := export.Write(cmd.OutOrStdout(), m, f); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				return nil
			}
			if err := writeFile(output, m, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows x %d columns to %s\n", len(m.Rows), len(m.Headers), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Output format (csv, csv-eu, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty, \"auto\" for the export file name")
	cmd.Flags().BoolVar(&showPreview, "preview", false, "Print the first matrix rows before writing")
	return cmd
}

// writeFile writes m to path. A failed close is reported: the data may not
// have reached the disk.
func writeFile(path string, m export.Matrix, f export.Format) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := export.Write(file, m, f); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// query builds the query from the build flags when a bucket is given, and
// otherwise reads it from --file or the arguments.
func (o *options) query(args []string) (string, error) {
	if o.bucket == "" {
		return readQuery(o.queryFile, args)
	}
	req := flux.Request{
		Bucket:            o.bucket,
		Range:             flux.TimeRange{Start: o.start, Stop: o.stop},
		WindowPeriod:      o.window,
		AggregateFunction: o.fn,
	}
	for _, sel := range o.selections() {
		req.Filters = append(req.Filters, flux.Filter{Key: sel.Key, Values: sel.Values})
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	return flux.Build(req), nil
}

// selections parses the --filter flags. Values are comma separated; a filter
// without "=" selects the key with no values.
func (o *options) selections() []export.Selection {
	out := make([]export.Selection, 0, len(o.filters))
	for _, raw := range o.filters {
		key, values, _ := strings.Cut(raw, "=")
		sel := export.Selection{Key: strings.TrimSpace(key)}
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				sel.Values = append(sel.Values, v)
			}
		}
		out = append(out, sel)
	}
	return out
}

func run(ctx context.Context, opts *options, query string) (*tabular.Result, error) {
	_ = godotenv.Load(opts.envFile)
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewProduction()
	if opts.verbose {
		logger = logging.NewDevelopment()
	}

	client := influx.New(cfg.Influx, logger)
	defer client.Close()
	if !client.Configured() {
		return nil, fmt.Errorf("backend not configured, missing %s", strings.Join(client.Missing(), ", "))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	start := time.Now()
	text, err := client.QueryCSV(ctx, query)
	if err != nil {
		return nil, err
	}
	logger.Debug("Query executed", "duration", time.Since(start).String(), "bytes", len(text))
	return tabular.Parse(text)
}

func readQuery(file string, args []string) (string, error) {
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query: %w", err)
		}
		return string(b), nil
	}
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", fmt.Errorf("no query given, pass it as an argument or with --file")
	}
	return q, nil
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(headers)
	return table
}

// preview prints at most limit records of res.
func preview(w io.Writer, res *tabular.Result, limit int) {
	table := newTable(w, res.Headers)
	for i, row := range res.Rows {
		if limit > 0 && i >= limit {
			break
		}
		cells := make([]string, len(res.Headers))
		for j, h := range res.Headers {
			cells[j] = row.Get(h)
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "%d records\n", len(res.Rows))
}

func previewMatrix(w io.Writer, m export.Matrix, limit int) {
	table := newTable(w, m.Headers)
	for i, row := range m.Rows {
		if i >= limit {
			break
		}
		table.Append(row)
	}
	table.Render()
}
