package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivfrabitq/vqidx/pkg/vectorindex"
)

var (
	prewarmRelPath string
	prewarmHeight  int
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Load the top levels of an index into the OS page cache",
	RunE:  runPrewarm,
}

func init() {
	f := prewarmCmd.Flags()
	f.StringVar(&prewarmRelPath, "relation", "", "path to the index file (required)")
	f.IntVar(&prewarmHeight, "height", 0, "number of top levels to warm, 0 means all")
	_ = prewarmCmd.MarkFlagRequired("relation")
}

func runPrewarm(cmd *cobra.Command, args []string) error {
	idx, err := vectorindex.Open(prewarmRelPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	summary, err := idx.Prewarm(prewarmHeight, nil)
	if err != nil {
		return err
	}
	fmt.Print(summary)
	return nil
}
