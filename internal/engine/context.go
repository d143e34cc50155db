package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// contextFiles are the project documents folded into agent prompts, in
// priority order. The first few exist by convention in agent-driven repos;
// .mira/context.md is the project's own supplement.
var contextFiles = []string{
	"CLAUDE.md",
	"AGENTS.md",
	filepath.Join(".mira", "context.md"),
}

const maxContextBytes = 32 * 1024

// LoadProjectContext gathers project guidance documents into one block for
// prompt inclusion. Missing files are skipped; the result is capped so a
// giant document cannot crowd out the actual task.
func LoadProjectContext(projectPath string) string {
	var b strings.Builder
	for _, name := range contextFiles {
		data, err := os.ReadFile(filepath.Join(projectPath, name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(name)
		b.WriteString("\n\n")
		b.WriteString(text)
		if b.Len() >= maxContextBytes {
			break
		}
	}

	out := b.String()
	if len(out) > maxContextBytes {
		out = out[:maxContextBytes] + "\n[context truncated]"
	}
	return out
}
