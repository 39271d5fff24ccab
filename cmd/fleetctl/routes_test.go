package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mtzanidakis/fleetctl/internal/config"
)

func routesConfig() *config.Config {
	return &config.Config{
		Nodes: []config.Node{
			{ID: "CS1", Location: "North", X: 0, Y: 0},
			{ID: "CS2", Location: "South", X: 3, Y: 4},
			{ID: "CS3", Location: "East", X: 6, Y: 8},
		},
	}
}

func TestRoutingTables(t *testing.T) {
	tables, err := routingTables(routesConfig(), nil)
	if err != nil {
		t.Fatalf("routingTables: %v", err)
	}
	if len(tables) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(tables))
	}
	cs1 := tables[0]
	if cs1.Node != "CS1" || len(cs1.Routes) != 2 {
		t.Fatalf("unexpected CS1 table %+v", cs1)
	}
	if cs1.Routes[0].Dest != "CS2" || cs1.Routes[0].Cost != 5 {
		t.Errorf("expected CS2 at cost 5, got %+v", cs1.Routes[0])
	}
	if cs1.Routes[1].Dest != "CS3" || cs1.Routes[1].Cost != 10 {
		t.Errorf("expected CS3 at cost 10, got %+v", cs1.Routes[1])
	}
}

func TestRoutingTablesUnknownNode(t *testing.T) {
	if _, err := routingTables(routesConfig(), []string{"CS9"}); err == nil {
		t.Error("expected error for unknown node")
	}
}

func TestWriteRoutes(t *testing.T) {
	tables, err := routingTables(routesConfig(), []string{"CS2"})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeRoutes(&buf, tables)
	out := buf.String()
	if !strings.HasPrefix(out, "CS2\n") {
		t.Errorf("expected node header, got %q", out)
	}
	if !strings.Contains(out, "CS2 -> CS1") || !strings.Contains(out, "5.00") {
		t.Errorf("expected CS1 route in output, got %q", out)
	}
}
