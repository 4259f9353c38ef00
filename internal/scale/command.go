// Package scale invokes the external depletion/transport code as a
// supervised child process and reports its health.
package scale

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCommand is the command template used when none is configured.
const DefaultCommand = "scalerte {input}"

// ResolveCommand splits a command template and fills the supported
// tokens. The template must reference {input} so every invocation is
// bound to exactly one deck.
func ResolveCommand(template string, inputFile string, workDir string) ([]string, error) {
	if strings.TrimSpace(template) == "" {
		return nil, errors.New("command template is required")
	}
	if strings.TrimSpace(inputFile) == "" {
		return nil, errors.New("input file is required")
	}

	parts := strings.Fields(template)
	resolved := make([]string, len(parts))
	replaced := false
	for i, token := range parts {
		if strings.Contains(token, "{input}") {
			replaced = true
		}
		token = strings.ReplaceAll(token, "{input}", inputFile)
		token = strings.ReplaceAll(token, "{workdir}", workDir)
		resolved[i] = token
	}
	if !replaced {
		return nil, fmt.Errorf("command template %q must include {input}", template)
	}
	return resolved, nil
}
