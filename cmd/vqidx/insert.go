package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivfrabitq/vqidx/pkg/vectorindex"
)

var (
	insertRelPath string
	insertPayload uint64
)

var insertCmd = &cobra.Command{
	Use:   "insert [vector components...]",
	Short: "Insert one vector into an existing index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInsert,
}

func init() {
	f := insertCmd.Flags()
	f.StringVar(&insertRelPath, "relation", "", "path to the index file (required)")
	f.Uint64Var(&insertPayload, "payload", 0, "row payload to associate with this vector (required)")
	_ = insertCmd.MarkFlagRequired("relation")
	_ = insertCmd.MarkFlagRequired("payload")
}

func runInsert(cmd *cobra.Command, args []string) error {
	vec := make([]float32, len(args))
	for i, s := range args {
		x, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return fmt.Errorf("vqidx: vector component %q: %w", s, err)
		}
		vec[i] = float32(x)
	}

	idx, err := vectorindex.Open(insertRelPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Insert(vec, insertPayload); err != nil {
		return err
	}
	fmt.Printf("insert: payload %d inserted\n", insertPayload)
	return nil
}
