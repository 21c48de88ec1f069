package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// Group is one display row: a label aggregating one or more ledger stages.
type Group struct {
	Label  string
	Stages []string
}

// RendererConfig declares how a pipeline's stages are grouped for display.
type RendererConfig struct {
	// Title printed above the table.
	Title string
	// ProfileGroups are rendered per profile scope, in order.
	ProfileGroups []Group
	// GlobalGroups are rendered once for the global scope.
	GlobalGroups []Group
	// CountStage names the stage whose count is shown next to the profile
	// header (e.g. the fetch stage's sample count).
	CountStage string
	// ExpandLabel names the group whose member stages are listed
	// individually under the aggregate row (the upload group).
	ExpandLabel string
	// StageLabels maps stage names to artefact labels for expanded rows.
	StageLabels map[string]string
	// ProgressLabel names the group that shows a done/total suffix.
	ProgressLabel string
}

// Renderer renders the pipeline state as a live-updating terminal table.
type Renderer struct {
	cfg  RendererConfig
	area *pterm.AreaPrinter
}

// NewRenderer starts a pterm area printer for in-place updates.
func NewRenderer(cfg RendererConfig) *Renderer {
	area, _ := pterm.DefaultArea.Start()
	return &Renderer{cfg: cfg, area: area}
}

// Render redraws the full status table. Safe to call from whichever
// goroutine completes work; State snapshots serialize internally.
func (r *Renderer) Render(s *State) {
	r.area.Update(r.renderText(s))
}

// Stop finalizes the area printer, leaving the last table on screen.
func (r *Renderer) Stop() {
	_ = r.area.Stop()
}

const labelWidth = 26

func (r *Renderer) renderText(s *State) string {
	var b strings.Builder
	if r.cfg.Title != "" {
		b.WriteString(pterm.Bold.Sprint(r.cfg.Title))
		b.WriteString("\n\n")
	}

	for _, scope := range s.Scopes() {
		if scope == GlobalScope {
			continue
		}

		header := scope
		if r.cfg.CountStage != "" {
			if count := s.Entry(scope, r.cfg.CountStage).Count; count > 0 {
				header = fmt.Sprintf("%s (%d samples)", scope, count)
			}
		}
		b.WriteString(header)
		b.WriteString("\n")

		for _, g := range r.cfg.ProfileGroups {
			entries := s.Entries(scope, g.Stages)
			status := AggregateStatus(entries)
			fmt.Fprintf(&b, "  %-*s%s\n", labelWidth, g.Label, styled(status))

			if g.Label == r.cfg.ExpandLabel {
				for i, stage := range g.Stages {
					label := r.cfg.StageLabels[stage]
					if label == "" {
						label = stage
					}
					fmt.Fprintf(&b, "    - %-*s%s\n", labelWidth-4, label, styled(entries[i].Status))
				}
			}
		}
		b.WriteString("\n")
	}

	r.renderGlobal(s, &b)
	return b.String()
}

func (r *Renderer) renderGlobal(s *State, b *strings.Builder) {
	if len(r.cfg.GlobalGroups) == 0 {
		return
	}

	var all []Entry
	for _, g := range r.cfg.GlobalGroups {
		all = append(all, s.Entries(GlobalScope, g.Stages)...)
	}
	if AggregateStatus(all) == StatusSkipped {
		b.WriteString("Similarity skipped\n")
		return
	}

	b.WriteString("Similarity\n")
	for _, g := range r.cfg.GlobalGroups {
		entries := s.Entries(GlobalScope, g.Stages)
		status := AggregateStatus(entries)

		suffix := ""
		if g.Label == r.cfg.ProgressLabel {
			if done, total := AggregateProgress(entries); total > 0 {
				suffix = fmt.Sprintf(" (%d/%d)", done, total)
			}
		}
		fmt.Fprintf(b, "  %-*s%s%s\n", labelWidth, g.Label, styled(status), suffix)
	}
	b.WriteString("\n")
}

// Summary prints per-scope runtimes and the total after the run finishes.
func (r *Renderer) Summary(s *State) {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(pterm.Bold.Sprint("Runtime summary"))
	b.WriteString("\n\n")

	var total time.Duration
	for _, scope := range s.Scopes() {
		if scope == GlobalScope {
			continue
		}
		d := s.ScopeDuration(scope)
		total += d
		fmt.Fprintf(&b, "%-*s%s\n", labelWidth, scope, FormatDuration(d))
	}

	var global []Entry
	for _, g := range r.cfg.GlobalGroups {
		global = append(global, s.Entries(GlobalScope, g.Stages)...)
	}
	for _, e := range global {
		if e.Status == StatusDone {
			d := s.ScopeDuration(GlobalScope)
			total += d
			fmt.Fprintf(&b, "%-*s%s\n", labelWidth, "Similarity", FormatDuration(d))
			break
		}
	}

	fmt.Fprintf(&b, "\n%-*s%s\n", labelWidth, "Total", FormatDuration(total))
	pterm.Println(b.String())
}

func styled(s Status) string {
	switch s {
	case StatusDone:
		return pterm.FgGreen.Sprint(string(s))
	case StatusFailed:
		return pterm.FgRed.Sprint(string(s))
	case StatusRunning:
		return pterm.FgYellow.Sprint(string(s))
	default:
		return pterm.FgGray.Sprint(string(s))
	}
}

// FormatDuration renders sub-minute durations with one decimal and longer
// ones as minutes and seconds.
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	m := int(secs) / 60
	return fmt.Sprintf("%dm %ds", m, int(secs)%60)
}
