// Command ptrepack copies a ptree container or a part of it into another
// container, optionally changing filters.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andreyvit/ptree"
)

const (
	complevelFlag  = "complevel"
	complibFlag    = "complib"
	shuffleFlag    = "shuffle"
	fletcher32Flag = "fletcher32"
)

var (
	vOverwrite    bool
	vKeepAttrs    bool
	vTitle        string
	vSrcNode      string
	vDstNode      string
	vNonRecursive bool
	vVerbose      bool
)

var command = &cobra.Command{
	Use:   "ptrepack SRC DST",
	Short: "Copy a ptree container, changing filters",
	Long: `ptrepack copies the tree of SRC into DST. Without filter flags every node keeps
its filters; with any of --complevel, --complib, --shuffle or --fletcher32 the
copies get the given filters instead.`,
	Args:          cobra.ExactArgs(2),
	RunE:          repackFunc,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	command.SetOut(os.Stdout)
	ff := command.Flags()
	addFilterFlags(ff)
	ff.BoolVarP(&vOverwrite, "overwrite", "o", false, "Replace DST if it exists")
	ff.BoolVar(&vKeepAttrs, "keep-attrs", true, "Copy user attributes")
	ff.StringVar(&vTitle, "title", "", "Title of the destination root group (whole-file copies only)")
	ff.StringVar(&vSrcNode, "src-node", "/", "Node of SRC to copy")
	ff.StringVar(&vDstNode, "dst-node", "/", "Group of DST to copy into, created if missing")
	ff.BoolVar(&vNonRecursive, "non-recursive", false, "Copy only the direct children of --src-node")
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

func addFilterFlags(ff *pflag.FlagSet) {
	ff.Int(complevelFlag, 0, "Compression level (0-9)")
	ff.String(complibFlag, "zlib", "Compression library: zlib, zstd, lz4 or snappy")
	ff.Bool(shuffleFlag, false, "Enable the byte shuffle filter")
	ff.Bool(fletcher32Flag, false, "Enable chunk checksums")
}

// filtersFromFlags returns nil when no filter flag is set explicitly.
func filtersFromFlags(ff *pflag.FlagSet) (*ptree.Filters, error) {
	changed := false
	for _, name := range []string{complevelFlag, complibFlag, shuffleFlag, fletcher32Flag} {
		changed = changed || ff.Changed(name)
	}
	if !changed {
		return nil, nil
	}
	level, err := ff.GetInt(complevelFlag)
	if err != nil {
		return nil, err
	}
	lib, err := ff.GetString(complibFlag)
	if err != nil {
		return nil, err
	}
	shuffle, err := ff.GetBool(shuffleFlag)
	if err != nil {
		return nil, err
	}
	fletcher32, err := ff.GetBool(fletcher32Flag)
	if err != nil {
		return nil, err
	}
	if ff.Changed(complibFlag) && !ff.Changed(complevelFlag) {
		return nil, fmt.Errorf("--%s needs --%s", complibFlag, complevelFlag)
	}
	f, err := ptree.NewFilters(level, lib, shuffle, fletcher32)
	if err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}
	return &f, nil
}

func repackFunc(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]
	level := slog.LevelInfo
	if vVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	filters, err := filtersFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	start := time.Now()
	if vSrcNode == "/" && vDstNode == "/" && !vNonRecursive {
		err = ptree.CopyFile(src, dst, ptree.CopyFileOptions{
			Title:         vTitle,
			Overwrite:     vOverwrite,
			CopyUserAttrs: vKeepAttrs,
			Filters:       filters,
			Options:       ptree.Options{Logger: logger},
		})
	} else {
		err = copyNodes(src, dst, filters, logger)
	}
	if err != nil {
		return err
	}

	if st, err := os.Stat(dst); err == nil {
		logger.Info("ptrepack: done", "dst", dst, "size", humanize.Bytes(uint64(st.Size())), "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// copyNodes copies --src-node of src under --dst-node of dst. A group source
// contributes its children, any other node is copied under its own name.
func copyNodes(src, dst string, filters *ptree.Filters, logger *slog.Logger) error {
	if vTitle != "" {
		return errors.New("--title only applies to whole-file copies")
	}
	sf, err := ptree.Open(src, ptree.ModeRead, ptree.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer sf.Close()
	sn, err := sf.Node(vSrcNode)
	if err != nil {
		return err
	}

	mode := ptree.ModeAppend
	if vOverwrite {
		mode = ptree.ModeCreate
	}
	df, err := ptree.Open(dst, mode, ptree.Options{Logger: logger})
	if err != nil {
		return err
	}
	dn, err := df.CreateGroups(vDstNode)
	if err == nil {
		opts := ptree.CopyOptions{
			Recursive:     !vNonRecursive,
			Filters:       filters,
			KeepFilters:   filters == nil,
			CopyUserAttrs: vKeepAttrs,
		}
		if sn.IsGroup() {
			err = sn.CopyChildren(dn, opts)
		} else {
			_, err = sn.CopyTo(dn, sn.Name(), opts)
		}
	}
	if cerr := df.Close(); err == nil {
		err = cerr
	}
	return err
}
