// Command ptdump prints the object tree of a ptree container.
package main

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/ptree"
)

var (
	vAttrs   bool
	vData    bool
	vFilters bool
	vStats   bool
	vYAML    bool
	vGrid    bool
	vRows    int64
	vVerbose bool
)

var command = &cobra.Command{
	Use:           "ptdump FILE [NODE]",
	Short:         "Print the object tree of a ptree container",
	Long:          `ptdump lists the groups, tables and arrays of a container, optionally with their attributes, filters, data and storage statistics.`,
	Args:          cobra.RangeArgs(1, 2),
	RunE:          dumpFunc,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	command.SetOut(os.Stdout)
	ff := command.Flags()
	ff.BoolVarP(&vAttrs, "attrs", "a", false, "Show node attributes")
	ff.BoolVarP(&vData, "data", "d", false, "Show table and array contents")
	ff.BoolVar(&vFilters, "filters", false, "Show node filters")
	ff.BoolVar(&vStats, "stats", false, "Show storage statistics")
	ff.BoolVar(&vYAML, "yaml", false, "Print the tree as YAML")
	ff.BoolVar(&vGrid, "grid", false, "Render table contents as a grid (implies --data)")
	ff.Int64Var(&vRows, "rows", 100, "Maximum number of rows shown per table in --grid mode, 0 for all")
	ff.BoolVarP(&vVerbose, "verbose", "v", false, "Log debug messages to stderr")
}

func main() {
	err := command.Execute()
	exitOnErr(command, err)
}

func exitOnErr(cmd *cobra.Command, err error) {
	if err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
}

func dumpFlags() ptree.DumpFlags {
	var flags ptree.DumpFlags
	if vAttrs {
		flags |= ptree.DumpAttrs
	}
	if vFilters {
		flags |= ptree.DumpFilters
	}
	if vData && !vGrid {
		flags |= ptree.DumpData
	}
	if vStats {
		flags |= ptree.DumpStats
	}
	return flags
}

func dumpFunc(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if vVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	f, err := ptree.Open(args[0], ptree.ModeRead, ptree.Options{
		Logger:   logger,
		Warnings: ptree.WarningPolicy{Naming: ptree.WarnIgnore},
	})
	if err != nil {
		return err
	}
	defer f.Close()

	path := "/"
	if len(args) > 1 {
		path = args[1]
	}
	n, err := f.Node(path)
	if err != nil {
		return err
	}

	if vYAML {
		doc, err := buildYAML(n, vAttrs, vStats)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	out, err := f.Dump(n, dumpFlags())
	if err != nil {
		return err
	}
	cmd.Print(out)

	if vGrid {
		for t := range tablesUnder(n) {
			if err := printGrid(cmd.OutOrStdout(), t, vRows); err != nil {
				return err
			}
		}
	}
	if vStats {
		s, err := f.NodeStats(n)
		if err != nil {
			return err
		}
		cmd.Printf("file size: %s, data: %s stored, %s raw (ratio %.2f)\n",
			humanize.Bytes(uint64(f.Size())), humanize.Bytes(uint64(s.StoredSize)),
			humanize.Bytes(uint64(s.RawSize)), s.CompressionRatio())
	}
	return nil
}

func tablesUnder(n *ptree.Node) iter.Seq[*ptree.Table] {
	return func(yield func(*ptree.Table) bool) {
		if t := n.Table(); t != nil {
			yield(t)
			return
		}
		for child := range n.Walk(true) {
			if t := child.Table(); t != nil && !yield(t) {
				return
			}
		}
	}
}

// printGrid renders up to limit rows of t with a header of column names.
func printGrid(w io.Writer, t *ptree.Table, limit int64) error {
	stop := t.PersistedRows()
	if limit > 0 && stop > limit {
		stop = limit
	}
	rows, err := t.ReadRange(0, stop)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s (%s of %s rows)\n", t.Path(), humanize.Comma(stop), humanize.Comma(t.NRows()))
	out := tablewriter.NewWriter(w)
	out.SetHeader(append([]string{"#"}, t.ColumnNames()...))
	out.SetAutoFormatHeaders(false)
	out.SetAutoWrapText(false)
	out.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i, row := range rows {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, fmt.Sprint(i))
		for _, v := range row {
			cells = append(cells, formatCell(v))
		}
		out.Append(cells)
	}
	out.Render()
	return nil
}

func formatCell(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimRight(v, "\x00")
	case float32:
		return fmt.Sprintf("%g", v)
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}
