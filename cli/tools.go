package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/digestflow/pipeline"
	"github.com/petal-labs/digestflow/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the pipeline's tools and their state contracts",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().Bool("json", false, "Emit tool manifests as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	manifests, err := pipelineManifests()
	if err != nil {
		return exitError(exitRuntime, "building tool registry: %v", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(manifests, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling manifests: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREADS\tWRITES\tDESCRIPTION")
	for _, m := range manifests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.Name,
			joinOrDash(m.State.Reads),
			joinOrDash(m.State.Writes),
			m.Description)
	}
	return w.Flush()
}

// pipelineManifests builds the registry with inert backends; listing needs
// only the static manifests.
func pipelineManifests() ([]tool.Manifest, error) {
	registry, err := tool.NewRegistry(
		pipeline.NewFetchTool(&pipeline.StaticSource{}),
		pipeline.NewClassifyTool(nil, ""),
		pipeline.NewSummarizeTool(nil, ""),
		pipeline.NewRenderTool(nil, ""),
	)
	if err != nil {
		return nil, err
	}

	manifests := make([]tool.Manifest, 0, registry.Len())
	for _, name := range registry.Names() {
		m, _, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func joinOrDash(keys []string) string {
	if len(keys) == 0 {
		return "-"
	}
	return strings.Join(keys, ",")
}
