package fleet

import (
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	rule = strings.Repeat("=", 80)
	thin = strings.Repeat("-", 80)
)

// WriteStatusReport renders the periodic status report.
func WriteStatusReport(w io.Writer, st Stats) {
	sys, rt := st.System, st.Routing

	fmt.Fprintf(w, "\n%s\nFLEET STATUS REPORT\n%s\n", rule, rule)
	fmt.Fprintf(w, "Elapsed Time: %.1f seconds (%.1f minutes)\n", st.Elapsed.Seconds(), st.Elapsed.Minutes())
	fmt.Fprintf(w, "Timestamp: %s\n%s\n", st.Time.Format(time.DateTime), thin)

	fmt.Fprintln(w, "\n[SYSTEM OVERVIEW]")
	fmt.Fprintf(w, "  Command Servers: %d\n", sys.Servers)
	fmt.Fprintf(w, "  Total Agents: %d (Drones: %d, Managers: %d)\n", sys.Agents(), sys.Drones, sys.Managers)
	fmt.Fprintf(w, "  Active Agents: %d\n", sys.Active())
	fmt.Fprintf(w, "  Failed/Dead: %d\n", sys.Failed())

	fmt.Fprintln(w, "\n[ROUTING INFORMATION]")
	fmt.Fprintf(w, "  Active Routers: %d\n", rt.Routers)
	fmt.Fprintf(w, "  Registered Agents: %d\n", rt.RegisteredAgents)
	fmt.Fprintf(w, "  Topology Size: %d servers\n", rt.TopologySize)
	fmt.Fprintf(w, "  Routing Table Entries: %d\n", rt.RoutingEntries)
	fmt.Fprintf(w, "  Messages: %d routed, %d delivered, %d forwarded, %d dropped\n",
		rt.Routed, rt.Delivered, rt.Forwarded, rt.Dropped)
	if rt.StuckInboxes > 0 {
		fmt.Fprintf(w, "  Stuck Inboxes: %d\n", rt.StuckInboxes)
	}

	fmt.Fprintln(w, "\n[PER-SERVER STATUS]")
	for _, n := range sys.Nodes {
		icon := "✓"
		if n.Active() == 0 {
			icon = "⚠"
		}
		fmt.Fprintf(w, "  %s %s (%s):\n", icon, n.ID, n.Location)
		fmt.Fprintf(w, "    Drones: %d/%d active, %d failed\n", n.ActiveDrones, n.Drones, n.FailedDrones)
		fmt.Fprintf(w, "    Managers: %d/%d active, %d dead\n", n.ActiveManagers, n.Managers, n.DeadManagers)
	}
	fmt.Fprintln(w, rule)
}

// WriteStartupSummary renders the banner printed once every node is up.
func WriteStartupSummary(w io.Writer, st Stats, schedule string) {
	sys := st.System

	fmt.Fprintf(w, "\n%s\nINITIALIZATION SUMMARY\n%s\n", rule, rule)
	fmt.Fprintln(w, "\n[SYSTEM READY]")
	fmt.Fprintf(w, "  Run: %s\n", st.RunID)
	fmt.Fprintf(w, "  Command Servers: %d\n", sys.Servers)
	fmt.Fprintf(w, "  Total Drones: %d\n", sys.Drones)
	fmt.Fprintf(w, "  Total Managers: %d\n", sys.Managers)
	fmt.Fprintf(w, "  Total Agents: %d\n", sys.Agents())
	fmt.Fprintf(w, "  Network Topology: %d servers\n", st.Routing.TopologySize)

	fmt.Fprintln(w, "\n[PER-SERVER BREAKDOWN]")
	for _, n := range sys.Nodes {
		fmt.Fprintf(w, "  %s (%s):\n", n.ID, n.Location)
		fmt.Fprintf(w, "    - %d drones\n", n.Drones)
		fmt.Fprintf(w, "    - %d managers\n", n.Managers)
	}

	fmt.Fprintln(w, "\n[SIMULATION READY]")
	fmt.Fprintln(w, "  All systems operational. Simulation is running...")
	if schedule != "" {
		fmt.Fprintf(w, "  Status reports: %s.\n", schedule)
	}
	fmt.Fprintln(w, "  Press Ctrl+C to stop the simulation.")
	fmt.Fprintf(w, "%s\n\n", rule)
}

// WriteShutdownSummary renders the final statistics.
func WriteShutdownSummary(w io.Writer, st Stats) {
	sys, rt := st.System, st.Routing

	fmt.Fprintf(w, "\n%s\nSIMULATION SHUTDOWN SUMMARY\n%s\n", rule, rule)
	fmt.Fprintln(w, "\n[FINAL STATISTICS]")
	fmt.Fprintf(w, "  Total Simulation Time: %.1f seconds (%.1f minutes)\n", st.Elapsed.Seconds(), st.Elapsed.Minutes())
	fmt.Fprintf(w, "  Command Servers: %d\n", sys.Servers)
	fmt.Fprintf(w, "  Total Agents: %d\n", sys.Agents())
	fmt.Fprintf(w, "  Active Agents: %d\n", sys.Active())
	fmt.Fprintf(w, "  Failed/Dead Agents: %d\n", sys.Failed())
	if sys.Agents() > 0 {
		fmt.Fprintf(w, "  Failure Rate: %.2f%%\n", sys.FailureRate())
	}
	fmt.Fprintf(w, "  Messages Routed: %d (%d delivered, %d forwarded, %d dropped)\n",
		rt.Routed, rt.Delivered, rt.Forwarded, rt.Dropped)
	fmt.Fprintln(w, rule)
}

// Summary is the one-line form stored with the run.
func Summary(st Stats) string {
	return fmt.Sprintf("%d servers, %d agents, %d failures (%.2f%%), %d routed, %d dropped, %.1fs",
		st.System.Servers, st.System.Agents(), st.System.Failed(), st.System.FailureRate(),
		st.Routing.Routed, st.Routing.Dropped, st.Elapsed.Seconds())
}
