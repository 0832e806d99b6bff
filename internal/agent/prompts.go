package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PromptManager layers optional persona files from a prompts directory onto
// the built-in system prompts. A missing directory is fine; the built-ins
// stand alone.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// Persona concatenates the .md files of the prompts directory. Known files
// come first in a fixed order so identity always leads; the rest follow
// alphabetically.
func (pm *PromptManager) Persona() string {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return ""
	}

	order := map[string]int{
		"identity.md": 1,
		"tone.md":     2,
		"user.md":     3,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pm.Directory, f.Name()))
		if err != nil {
			continue
		}
		contents = append(contents, string(data))
	}
	return strings.Join(contents, "\n\n---\n\n")
}
