package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/router"
	"github.com/mtzanidakis/fleetctl/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Nodes and routing
	mux.HandleFunc("GET /api/nodes", s.listNodes)
	mux.HandleFunc("GET /api/nodes/{id}", s.getNode)
	mux.HandleFunc("GET /api/nodes/{id}/routes", s.getNodeRoutes)

	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)

	// History
	mux.HandleFunc("GET /api/events", s.listEvents)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)

	// Scheduled jobs
	mux.HandleFunc("GET /api/jobs", s.listJobs)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	out := make([]router.Snapshot, 0, len(s.fleet.Servers()))
	for _, srv := range s.fleet.Servers() {
		out = append(out, srv.Router().Snapshot())
	}
	jsonResponse(w, out)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.fleet.Server(r.PathValue("id"))
	if !ok {
		jsonError(w, "node not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, srv.Snapshot())
}

func (s *Server) getNodeRoutes(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.fleet.Server(r.PathValue("id"))
	if !ok {
		jsonError(w, "node not found", http.StatusNotFound)
		return
	}
	rt := srv.Router()

	table := rt.Table()
	routes := make([]router.Route, 0, len(table))
	for _, route := range table {
		routes = append(routes, route)
	}
	slices.SortFunc(routes, func(a, b router.Route) int { return strings.Compare(a.Dest, b.Dest) })

	lsdb := rt.LSDB()
	links := make([]router.LinkState, 0, len(lsdb))
	for _, ls := range lsdb {
		links = append(links, ls)
	}
	slices.SortFunc(links, func(a, b router.LinkState) int { return strings.Compare(a.Node, b.Node) })

	jsonResponse(w, map[string]any{
		"node":   rt.ID(),
		"routes": routes,
		"lsdb":   links,
	})
}

// listAgents supports ?node=, ?status= and ?stuck=true filters.
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	node := q.Get("node")
	status := strings.ToUpper(q.Get("status"))
	stuck := q.Get("stuck") == "true"

	out := make([]agent.Snapshot, 0)
	for _, srv := range s.fleet.Servers() {
		if node != "" && srv.ID() != node {
			continue
		}
		for _, a := range srv.Agents() {
			snap := a.Snapshot()
			if status != "" && string(snap.Status) != status {
				continue
			}
			if stuck && !snap.Stuck() {
				continue
			}
			out = append(out, snap)
		}
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	node, ok := s.fleet.Directory().Locate(id)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	srv, ok := s.fleet.Server(node)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	for _, a := range srv.Agents() {
		if a.ID() == id {
			jsonResponse(w, map[string]any{
				"agent": a.Snapshot(),
				"stuck": a.Snapshot().Stuck(),
			})
			return
		}
	}
	jsonError(w, "agent not found", http.StatusNotFound)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	runID := q.Get("run")
	if runID == "" {
		runID = s.fleet.RunID()
	}

	events, err := s.store.GetEvents(store.EventFilter{
		RunID: runID,
		Agent: q.Get("agent"),
		Node:  q.Get("node"),
		Kind:  q.Get("kind"),
		Limit: limit,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	jsonResponse(w, events)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	counts, err := s.store.EventCounts(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{
		"run":    run,
		"events": counts,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		jsonResponse(w, []any{})
		return
	}
	jsonResponse(w, s.sched.Jobs())
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.fleet.Stats()

	natsStatus := "disabled"
	if s.bus != nil {
		natsStatus = "ok"
	}
	storeStatus := "disabled"
	if s.store != nil {
		storeStatus = "ok"
	}

	status := map[string]any{
		"status":        "ok",
		"run_id":        st.RunID,
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"servers":       st.System.Servers,
		"agents":        st.System.Agents(),
		"active_agents": st.System.Active(),
		"failed_agents": st.System.Failed(),
		"failure_rate":  st.System.FailureRate(),
		"routing":       st.Routing,
		"nodes":         st.System.Nodes,
		"ws_clients":    s.hub.Clients(),
		"nats":          natsStatus,
		"store":         storeStatus,
		"timestamp":     st.Time.UTC(),
		"version":       s.version,
	}

	jsonResponse(w, status)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit: %s", raw)
	}
	return n, nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
