package presence

import "strings"

// userColors is a distinct palette, all readable with white text.
var userColors = []string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#c71585", // medium violet red
	"#f032e6", // magenta
	"#469990", // teal
	"#9a6324", // brown
	"#800000", // maroon
	"#808000", // olive
	"#000075", // navy
	"#808080", // gray
	"#d63384", // raspberry
	"#0d6efd", // royal blue
	"#198754", // forest green
	"#6f42c1", // indigo
	"#dc3545", // crimson
	"#0dcaf0", // sky
	"#fd7e14", // tangerine
}

// agentColors are keyed by agent name, distinct from the user palette.
var agentColors = map[string]string{
	"cursor":   "#A855F7",
	"claude":   "#FF6B35",
	"windsurf": "#00D4FF",
	"copilot":  "#24292E",
}

const defaultAgentColor = "#9333EA"

// AgentColor returns the display color for a named agent.
func AgentColor(agentName string) string {
	if c, ok := agentColors[strings.ToLower(agentName)]; ok {
		return c
	}
	return defaultAgentColor
}
