package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

func newGraphCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the pipeline stages and their transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := pipeline.DefaultGraph(stages.New(stages.Dependencies{}))
			if err != nil {
				return err
			}

			type stageRow struct {
				Stage    domain.StageName   `json:"stage"`
				Next     []domain.StageName `json:"next,omitempty"`
				Suspends bool               `json:"suspends"`
			}
			var out []stageRow
			for _, name := range graph.Stages() {
				node, _ := graph.Node(name)
				row := stageRow{Stage: name, Suspends: node.Suspends}
				for _, edge := range graph.Edges(name) {
					row.Next = append(row.Next, edge.To)
				}
				out = append(out, row)
			}
			if jsonOut {
				return writeJSON(cmd, out)
			}

			rows := make([][]string, 0, len(out))
			for i, r := range out {
				next := make([]string, 0, len(r.Next))
				for _, n := range r.Next {
					next = append(next, string(n))
				}
				suspends := ""
				if r.Suspends {
					suspends = "yes"
				}
				rows = append(rows, []string{strconv.Itoa(i + 1), string(r.Stage), strings.Join(next, ", "), suspends})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Stage", "Next", "Suspends"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
