package generate

import (
	"fmt"
	"strings"
)

var (
	fallbackNouns  = []string{"pavement", "backpack", "lamp post", "notebook", "window", "bicycle", "leaf"}
	fallbackSenses = []string{"rain-smell", "footsteps", "chalk-dust", "neon", "mud print", "quiet hum", "shadows"}
)

const fallbackRoot = "dawn"

// FallbackPoem builds a deterministic poem from the theme without calling a
// model. form is accepted for symmetry with BuildPrompt and is not used.
func FallbackPoem(theme, form string, lines int) string {
	return strings.Join(fallbackLines(theme, lines), "\n")
}

func fallbackLines(theme string, lines int) []string {
	root := fallbackRoot
	if fields := strings.Fields(theme); len(fields) > 0 {
		root = fields[0]
	}
	var out []string
	for i := 0; i < lines; i++ {
		noun := fallbackNouns[i%len(fallbackNouns)]
		sense := fallbackSenses[(i*2+1)%len(fallbackSenses)]
		out = append(out, fmt.Sprintf("%s on %s, %s", root, noun, sense))
	}
	return out
}
