package chat

import "strings"

// commandKind tags the parsed variant so dispatch is a flat switch
// instead of nested string matching.
type commandKind int

const (
	cmdEmpty commandKind = iota
	cmdLogin
	cmdInit
	cmdQuery
	cmdFolder
	cmdExit
)

type command struct {
	kind commandKind

	// cmdQuery
	text string
	// cmdInit
	datasets []string
	// cmdFolder
	folder      string
	instruction string
}

// parseCommand maps one input line onto a command variant. Keywords may
// carry a "/" or "\" prefix; a bare line is a natural-language query.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{kind: cmdEmpty}
	}

	if strings.HasPrefix(trimmed, "@") {
		rest := strings.TrimPrefix(trimmed, "@")
		parts := strings.SplitN(rest, " ", 2)
		c := command{kind: cmdFolder, folder: parts[0]}
		if len(parts) == 2 {
			c.instruction = strings.TrimSpace(parts[1])
		}
		return c
	}

	fields := strings.Fields(trimmed)
	keyword := strings.ToLower(strings.TrimLeft(fields[0], "/\\"))
	switch keyword {
	case "exit", "quit":
		return command{kind: cmdExit}
	case "login", "reauth":
		return command{kind: cmdLogin}
	case "init":
		return command{kind: cmdInit, datasets: fields[1:]}
	}
	return command{kind: cmdQuery, text: trimmed}
}
