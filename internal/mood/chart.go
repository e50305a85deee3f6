package mood

import (
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Confidant/internal/models"
)

// Bar is one chart column.
type Bar struct {
	Label         string    `json:"label"`
	DisplayLabel  string    `json:"display_label"`
	HeightPercent float64   `json:"height_percent"`
	Color         string    `json:"color"`
	Timestamp     time.Time `json:"timestamp"`
}

// Chart is the renderable model of the mood history.
type Chart struct {
	Bars  []Bar `json:"bars"`
	Empty bool  `json:"empty"`
}

// BuildChart maps entries to bars in order. Entries with unknown labels are skipped.
// translate renders a label for display; nil keeps the label as-is.
func BuildChart(entries []models.MoodEntry, translate func(label string) string) Chart {
	chart := Chart{Bars: []Bar{}}
	for _, e := range entries {
		intensity, ok := intensities[e.Label]
		if !ok {
			slog.Debug("mood.BuildChart: skipping unknown label", "label", e.Label)
			continue
		}
		display := e.Label
		if translate != nil {
			display = translate(e.Label)
		}
		chart.Bars = append(chart.Bars, Bar{
			Label:         e.Label,
			DisplayLabel:  display,
			HeightPercent: float64(intensity*100) / MaxIntensity,
			Color:         colors[e.Label],
			Timestamp:     e.Timestamp,
		})
	}
	chart.Empty = len(chart.Bars) == 0
	return chart
}

// SVG layout
const (
	svgHeight    = 220
	plotHeight   = 180
	barWidth     = 28
	barGap       = 12
	sidePadding  = 16
	minSVGWidth  = 320
	labelYOffset = 200
)

// RenderSVG draws the chart as an SVG document. An empty chart renders placeholder text.
func RenderSVG(chart Chart, placeholder string) string {
	width := sidePadding*2 + len(chart.Bars)*(barWidth+barGap)
	if width < minSVGWidth {
		width = minSVGWidth
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" class="mood-chart" width="%d" height="%d" viewBox="0 0 %d %d" role="img">`, width, svgHeight, width, svgHeight)
	if chart.Empty || len(chart.Bars) == 0 {
		fmt.Fprintf(&b, `<text class="mood-chart-empty" x="%d" y="%d" text-anchor="middle">%s</text>`, width/2, svgHeight/2, html.EscapeString(placeholder))
		b.WriteString(`</svg>`)
		return b.String()
	}

	for i, bar := range chart.Bars {
		h := bar.HeightPercent / 100 * plotHeight
		x := sidePadding + i*(barWidth+barGap)
		y := float64(plotHeight) - h
		fmt.Fprintf(&b, `<g class="mood-bar"><title>%s %s</title>`,
			html.EscapeString(bar.DisplayLabel), bar.Timestamp.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, `<rect x="%d" y="%.1f" width="%d" height="%.1f" rx="4" fill="%s"></rect>`, x, y, barWidth, h, bar.Color)
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="10" text-anchor="middle">%s</text></g>`,
			x+barWidth/2, labelYOffset, html.EscapeString(bar.DisplayLabel))
	}
	b.WriteString(`</svg>`)
	return b.String()
}
