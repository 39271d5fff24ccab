package server

import (
	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/message"
)

// generateTraffic picks two distinct drones and two distinct managers and
// lets each pairing exchange one message when both sides are idle. Nodes
// with fewer than two of either kind stay quiet.
func (s *Server) generateTraffic() {
	var drones, managers []*agent.Agent
	for _, a := range s.Agents() {
		switch a.Kind() {
		case agent.Drone:
			drones = append(drones, a)
		case agent.MissionManager:
			managers = append(managers, a)
		}
	}
	if len(drones) < 2 || len(managers) < 2 {
		return
	}

	s.mu.Lock()
	drone, peerDrone := s.pickPair(drones)
	manager, peerManager := s.pickPair(managers)
	s.mu.Unlock()

	idle := func(a *agent.Agent) bool { return a.Status() == agent.Idle }

	if idle(drone) && idle(peerDrone) {
		drone.SendMessage(peerDrone.ID(), message.Info, "UAV Handshake")
	}
	if idle(manager) && idle(peerManager) {
		manager.SendMessage(peerManager.ID(), message.Sync, "Sector Update")
	}
	if idle(drone) && idle(manager) {
		drone.SendMessage(manager.ID(), message.Report, "Mission Complete")
	}
	if idle(manager) && idle(drone) {
		manager.SendMessage(drone.ID(), message.Cmd, "New Coordinates")
	}
}

// pickPair returns two distinct random members of as. Callers hold s.mu.
func (s *Server) pickPair(as []*agent.Agent) (*agent.Agent, *agent.Agent) {
	i := s.rng.IntN(len(as))
	j := s.rng.IntN(len(as) - 1)
	if j >= i {
		j++
	}
	return as[i], as[j]
}

// generateCrossTraffic sends one relay check from an idle local agent to an
// agent hosted on another node, found through the shared directory.
func (s *Server) generateCrossTraffic() {
	var idle []*agent.Agent
	for _, a := range s.Agents() {
		if a.Status() == agent.Idle {
			idle = append(idle, a)
		}
	}
	if len(idle) == 0 {
		return
	}

	var remote []string
	for _, n := range s.router.Directory().Nodes() {
		if n.ID() == s.id {
			continue
		}
		remote = append(remote, n.Agents()...)
	}
	if len(remote) == 0 {
		return
	}

	s.mu.Lock()
	from := idle[s.rng.IntN(len(idle))]
	to := remote[s.rng.IntN(len(remote))]
	s.mu.Unlock()

	from.SendMessage(to, message.Sync, "Relay Check")
}
