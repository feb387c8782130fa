package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mesh-logger/pkg/geo"
	"mesh-logger/pkg/store"
	"mesh-logger/pkg/types"
)

// NewNodesCmd 创建 nodes 命令
func NewNodesCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List known nodes",
		Long: `List every recorded node name with the latest accepted position of the node.

A node that changed its name appears once per name.

Examples:
  meshlog nodes
  meshlog nodes --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			st, err := store.NewStore(&cfg.Storage)
			if err != nil {
				return fmt.Errorf("creating store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			nodes, err := st.ListNodes(ctx)
			if err != nil {
				return fmt.Errorf("listing nodes: %w", err)
			}
			counts, err := st.Counts(ctx)
			if err != nil {
				return fmt.Errorf("counting records: %w", err)
			}

			return printNodes(cmd.OutOrStdout(), opts.Format, nodes, counts)
		},
	}
}

// nodesOutput JSON 输出结构
type nodesOutput struct {
	Nodes  []*types.NodeSummary `json:"nodes"`
	Counts *types.Counts        `json:"counts"`
}

func printNodes(w io.Writer, format string, nodes []*types.NodeSummary, counts *types.Counts) error {
	if format == "json" {
		if nodes == nil {
			nodes = []*types.NodeSummary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodesOutput{Nodes: nodes, Counts: counts})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNODE\tNAME\tPOSITION\tLAST FIX")
	for _, n := range nodes {
		position, fix := "-", "-"
		if p := n.LastPosition; p != nil {
			position = fmt.Sprintf("%.5f,%.5f", geo.FromScaled(p.Lat), geo.FromScaled(p.Lng))
			fix = time.Unix(p.Time, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.ID, types.NodeIDString(n.ID), n.Name, position, fix)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d names, %d packets, %d positions, %d messages\n",
		counts.Nodes, counts.Logs, counts.Positions, counts.Messages)
	return err
}
