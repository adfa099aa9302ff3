package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// Format selects a CLI output encoding.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or yaml)", s)
	}
}

// Write encodes snap to w in format.
func Write(w io.Writer, format Format, snap assignment.Snapshot, now time.Time, loc *time.Location) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return nil
	case FormatText, "":
		return Table(w, snap, now, loc)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// Table writes a fixed-width summary of snap.
func Table(w io.Writer, snap assignment.Snapshot, now time.Time, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tLEVEL\tDUE\tSTATUS\tPOINTS\tCOURSE\tTITLE\tDONE")
	for _, a := range snap.Assignments {
		done := ""
		if a.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			PercentLabel(a.Priority),
			a.Level,
			DueLabel(a, loc),
			StatusLabel(a, now, loc),
			PointsLabel(a),
			a.Course,
			a.Title,
			done,
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	c := snap.Counts
	_, err := fmt.Fprintf(w, "\n%d pending (%d high, %d medium, %d low), %d completed\n",
		c.Pending, c.High, c.Medium, c.Low, c.Completed)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	sources := make([]string, 0, len(snap.SourceErrors))
	for source := range snap.SourceErrors {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		if _, err := fmt.Fprintf(w, "warning: %s: %s\n", source, snap.SourceErrors[source]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
