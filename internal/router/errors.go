package router

import "fmt"

// Stage names the pipeline step at which a message was dropped.
type Stage string

const (
	StageRoute Stage = "route"
	StageIntra Stage = "intra"
	StageInter Stage = "inter"
)

// AddressingError means the agent could not be found where the message
// needed it.
type AddressingError struct {
	Node  string
	Agent string
	Stage Stage
}

func (e *AddressingError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("%s: message has no valid address (router %s)", e.Stage, e.Node)
	}
	return fmt.Sprintf("%s: agent %q not found (router %s)", e.Stage, e.Agent, e.Node)
}

// NoRouteError means the routing table has no entry for the destination node.
type NoRouteError struct {
	From string
	To   string
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route from %s to %s", e.From, e.To)
}
