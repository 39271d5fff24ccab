package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/router"
	"github.com/spf13/cobra"
)

var routesJSON bool

var routesCmd = &cobra.Command{
	Use:   "routes [node...]",
	Short: "Print routing tables for the configured topology",
	Long: `Computes each node's shortest-path routing table from the config's node
coordinates, the same way a running command server would, without starting
any agents. With no arguments every node in the topology is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		tables, err := routingTables(cfg, args)
		if err != nil {
			return err
		}
		if routesJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tables)
		}
		writeRoutes(cmd.OutOrStdout(), tables)
		return nil
	},
}

func init() {
	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(routesCmd)
}

// nodeRoutes is one node's routing table sorted by destination.
type nodeRoutes struct {
	Node   string         `json:"node"`
	Routes []router.Route `json:"routes"`
}

func routingTables(cfg *config.Config, only []string) ([]nodeRoutes, error) {
	var infos []router.NodeInfo
	for _, n := range cfg.Topology() {
		infos = append(infos, router.NodeInfo{ID: n.ID, Location: n.Location, X: n.X, Y: n.Y})
	}

	known := make(map[string]bool, len(infos))
	for _, n := range infos {
		known[n.ID] = true
	}
	ids := only
	if len(ids) == 0 {
		ids = slices.Sorted(maps.Keys(known))
	}

	out := make([]nodeRoutes, 0, len(ids))
	for _, id := range ids {
		if !known[id] {
			return nil, fmt.Errorf("node %s not in topology", id)
		}
		table := router.ComputeTable(id, infos)
		routes := slices.Collect(maps.Values(table))
		slices.SortFunc(routes, func(a, b router.Route) int { return strings.Compare(a.Dest, b.Dest) })
		out = append(out, nodeRoutes{Node: id, Routes: routes})
	}
	return out, nil
}

func writeRoutes(w io.Writer, tables []nodeRoutes) {
	for i, t := range tables {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", t.Node)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  DEST\tNEXT HOP\tCOST\tPATH")
		for _, r := range t.Routes {
			fmt.Fprintf(tw, "  %s\t%s\t%.2f\t%s\n", r.Dest, r.NextHop, r.Cost, strings.Join(r.Path, " -> "))
		}
		tw.Flush()
	}
}
