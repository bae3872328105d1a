package graph

import (
	"context"
	"fmt"

	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
)

// Exporter pushes the coordination graph for one packet: the packet
// node, its subtasks, the dependency edges, and dispatch outcomes.
type Exporter struct {
	driver Driver
	log    *logging.Logger
}

// NewExporter creates an exporter over a connected driver. A nil driver
// yields a no-op exporter, so callers never branch on availability.
func NewExporter(driver Driver) *Exporter {
	return &Exporter{driver: driver, log: logging.New("graph")}
}

// Enabled reports whether a database is actually connected.
func (e *Exporter) Enabled() bool { return e != nil && e.driver != nil }

// ExportPlan writes the packet node, one node per subtask annotated
// with its layer and classification, and the DEPENDS_ON edges.
func (e *Exporter) ExportPlan(ctx context.Context, p *packet.TaskPacket, plan *planner.Plan) error {
	if !e.Enabled() {
		return nil
	}

	err := e.driver.ExecuteWrite(ctx, `
		MERGE (p:Packet {id: $id})
		SET p.title = $title, p.state = $state`,
		map[string]any{"id": p.ID, "title": p.Title, "state": string(p.State)})
	if err != nil {
		metrics.Global().RecordGraphWrite(false)
		return fmt.Errorf("export packet node: %w", err)
	}

	layerOf := make(map[string]int)
	classOf := make(map[string]planner.Classification)
	for i, layer := range plan.Layers {
		for _, id := range layer.Subtasks {
			layerOf[id] = i + 1
			classOf[id] = layer.Class[id]
		}
	}

	for _, st := range p.Subtasks {
		err := e.driver.ExecuteWrite(ctx, `
			MATCH (p:Packet {id: $packet})
			MERGE (s:Subtask {id: $id})
			SET s.spec = $spec, s.layer = $layer, s.class = $class
			MERGE (p)-[:CONTAINS]->(s)`,
			map[string]any{
				"packet": p.ID,
				"id":     st.ID,
				"spec":   st.Spec,
				"layer":  layerOf[st.ID],
				"class":  string(classOf[st.ID]),
			})
		if err != nil {
			metrics.Global().RecordGraphWrite(false)
			return fmt.Errorf("export subtask %s: %w", st.ID, err)
		}

		for _, dep := range st.DependsOn {
			err := e.driver.ExecuteWrite(ctx, `
				MATCH (a:Subtask {id: $from}), (b:Subtask {id: $to})
				MERGE (a)-[:DEPENDS_ON]->(b)`,
				map[string]any{"from": st.ID, "to": dep})
			if err != nil {
				metrics.Global().RecordGraphWrite(false)
				return fmt.Errorf("export edge %s→%s: %w", st.ID, dep, err)
			}
		}
	}

	metrics.Global().RecordGraphWrite(true)
	e.log.WithPacket(p.ID).Info("plan_exported", map[string]any{"subtasks": len(p.Subtasks), "layers": len(plan.Layers)})
	return nil
}

// ExportOutcome annotates subtask nodes with their execution results
// after a dispatch run.
func (e *Exporter) ExportOutcome(ctx context.Context, p *packet.TaskPacket, report *dispatch.Report) error {
	if !e.Enabled() {
		return nil
	}

	for _, st := range p.Subtasks {
		params := map[string]any{
			"id":     st.ID,
			"exec":   string(st.Exec),
			"worker": st.WorkerID,
		}
		if res, ok := report.Results[st.ID]; ok {
			params["duration_ms"] = res.Duration.Milliseconds()
		} else {
			params["duration_ms"] = int64(0)
		}

		err := e.driver.ExecuteWrite(ctx, `
			MATCH (s:Subtask {id: $id})
			SET s.exec = $exec, s.worker = $worker, s.duration_ms = $duration_ms`,
			params)
		if err != nil {
			metrics.Global().RecordGraphWrite(false)
			return fmt.Errorf("export outcome %s: %w", st.ID, err)
		}
	}

	metrics.Global().RecordGraphWrite(true)
	return nil
}

// PacketSummary reads back a packet's subtask nodes, for the graph
// inspection command.
func (e *Exporter) PacketSummary(ctx context.Context, packetID string) ([]Record, error) {
	if !e.Enabled() {
		return nil, nil
	}
	return e.driver.Execute(ctx, `
		MATCH (p:Packet {id: $id})-[:CONTAINS]->(s:Subtask)
		RETURN s.id AS id, s.layer AS layer, s.class AS class, s.exec AS exec
		ORDER BY s.layer, s.id`,
		map[string]any{"id": packetID})
}
