// Package render provides output formatting for terminal consumption.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
)

// Renderer handles output formatting. Pretty mode adds color and
// dividers for interactive terminals; plain mode stays grep-friendly.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Plan formats a dispatch plan as its layer sequence.
func (r *Renderer) Plan(plan *planner.Plan) string {
	if len(plan.Layers) == 0 {
		return "No subtasks to dispatch"
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Dispatch Plan\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for i, layer := range plan.Layers {
		mode := string(layer.Mode)
		if r.pretty && layer.Mode == planner.ModeParallel {
			mode = color.GreenString("parallel ×%d", layer.Workers)
		} else if layer.Mode == planner.ModeParallel {
			mode = fmt.Sprintf("parallel workers=%d", layer.Workers)
		}
		fmt.Fprintf(&sb, "Layer %d (%s)\n", i+1, mode)

		for _, id := range layer.Subtasks {
			marker := "•"
			note := ""
			if layer.Class[id] == planner.Coordinated {
				marker = "◆"
				note = " [coordinated]"
				if r.pretty {
					note = color.YellowString(" [coordinated]")
				}
			}
			fmt.Fprintf(&sb, "  %s %s%s\n", marker, id, note)
		}
		resources := make([]string, 0, len(layer.Owners))
		for resource := range layer.Owners {
			resources = append(resources, resource)
		}
		sort.Strings(resources)
		for _, resource := range resources {
			fmt.Fprintf(&sb, "  owner of %s: %s\n", resource, layer.Owners[resource])
		}
	}

	return sb.String()
}

// Report formats a dispatch report.
func (r *Renderer) Report(report *dispatch.Report) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Dispatch Report\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, id := range report.Succeeded {
		status := "✓"
		if r.pretty {
			status = color.GreenString("✓")
		}
		dur := ""
		if res, ok := report.Results[id]; ok && res.Duration > 0 {
			dur = " (" + FormatDuration(res.Duration) + ")"
		}
		fmt.Fprintf(&sb, "%s %s%s\n", status, id, dur)
	}
	for _, id := range report.Failed {
		status := "✗"
		if r.pretty {
			status = color.RedString("✗")
		}
		fmt.Fprintf(&sb, "%s %s failed\n", status, id)
	}
	for _, id := range report.Blocked {
		status := "⊘"
		if r.pretty {
			status = color.YellowString("⊘")
		}
		fmt.Fprintf(&sb, "%s %s blocked\n", status, id)
	}

	if report.Cancelled {
		fmt.Fprintf(&sb, "run cancelled\n")
	}
	if report.Respawns > 0 {
		fmt.Fprintf(&sb, "%d respawn(s)\n", report.Respawns)
	}

	return sb.String()
}

// Verdicts formats the accumulated gate rounds.
func (r *Renderer) Verdicts(review *packet.ReviewRecord) string {
	if len(review.Rounds) == 0 {
		return "No gate rounds recorded"
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Quality Gate\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, v := range review.Rounds {
		outcome := string(v.Outcome)
		if r.pretty {
			if v.Outcome == packet.OutcomeApproved {
				outcome = color.GreenString(outcome)
			} else {
				outcome = color.RedString(outcome)
			}
		}
		fmt.Fprintf(&sb, "[round %d] %s/%s: %s\n", v.Round, v.Subtask, v.Stage, outcome)

		for _, f := range v.Findings {
			icon := SeverityIcon(string(f.Severity))
			summary := f.Summary
			if r.pretty && f.Severity.Blocking() {
				summary = color.YellowString(summary)
			}
			fmt.Fprintf(&sb, "    %s %s: %s\n", icon, f.Severity, summary)
		}
	}

	return sb.String()
}

// Checkpoint formats the latest checkpoint record.
func (r *Renderer) Checkpoint(rec *checkpoint.Record) string {
	if rec == nil {
		return "No checkpoints recorded"
	}
	timeStr := rec.Timestamp.Format("15:04:05")
	if r.pretty {
		return fmt.Sprintf("%s #%d %s\n", color.HiBlackString(timeStr), rec.Seq, rec.Note)
	}
	return fmt.Sprintf("[%s] #%d %s\n", timeStr, rec.Seq, rec.Note)
}

// Status formats the coordinator status line.
func (r *Renderer) Status(state packet.State, subtasks int, graphConnected bool) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Foreman Status\n"))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
		fmt.Fprintf(&sb, "  State:    %s\n", string(state))
		fmt.Fprintf(&sb, "  Subtasks: %d\n", subtasks)
		if graphConnected {
			fmt.Fprintf(&sb, "  Graph:    %s\n", color.GreenString("connected"))
		} else {
			fmt.Fprintf(&sb, "  Graph:    %s\n", color.RedString("disconnected"))
		}
	} else {
		fmt.Fprintf(&sb, "state=%s subtasks=%d graph=%v\n", state, subtasks, graphConnected)
	}

	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
