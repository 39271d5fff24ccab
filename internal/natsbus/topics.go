package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for fleet event pub/sub.

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func token(id string) string {
	if id == "" {
		return "_"
	}
	return subjectReplacer.Replace(id)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", token(agentID))
}

func TopicEventsNode(nodeID string) string {
	return fmt.Sprintf("events.node.%s", token(nodeID))
}

const (
	TopicEventsAll    = "events.>"
	TopicEventsAgents = "events.agent.*"
	TopicEventsNodes  = "events.node.*"
	TopicEventsReport = "events.fleet.report"
	TopicEventsJobs   = "events.fleet.jobs"
)
