package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/logger"
)

func newDescribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the recorded bucket layout and columns of every materialized table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.New(opts.verbose)

			db, err := openDB(ctx, log, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			conn, err := db.Conn(ctx)
			if err != nil {
				return fmt.Errorf("failed to get connection: %w", err)
			}
			defer conn.Close()

			return describe(ctx, cmd.OutOrStdout(), conn)
		},
	}
}

func describe(ctx context.Context, w io.Writer, conn duck.Connection) error {
	layouts, err := catalog.Layouts(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to read layouts: %w", err)
	}
	if len(layouts) == 0 {
		_, err := fmt.Fprintln(w, "no tables provisioned")
		return err
	}

	table := newTable(w)
	table.SetHeader([]string{"table", "bucket_column", "bucket_count", "sort_columns"})
	for _, l := range layouts {
		table.Append([]string{l.Table, l.Bucket.Column, strconv.Itoa(l.Bucket.Count), strings.Join(l.SortColumns, ", ")})
	}
	table.Render()

	for _, l := range layouts {
		cols, err := catalog.DescribeColumns(ctx, conn, l.Table)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n", l.Table)
		table := newTable(w)
		table.SetHeader([]string{"column", "type"})
		for _, c := range cols {
			table.Append([]string{c.Name, c.Type})
		}
		table.Render()
	}
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
