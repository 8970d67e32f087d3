package main

import (
	"fmt"
	"strings"
)

// command is one parsed input line.
type command struct {
	name  string
	arg   string
	title string
	desc  string
}

// parseCommand parses lines of the form:
//
//	vote X
//	meta Title | Description
//	clear
//	kick TOKEN
//	quit
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "vote", "kick":
		if rest == "" {
			return command{}, fmt.Errorf("%s: argument required", name)
		}
		return command{name: name, arg: rest}, nil
	case "meta":
		title, desc, ok := strings.Cut(rest, "|")
		if !ok {
			return command{}, fmt.Errorf("meta: want \"Title | Description\"")
		}
		return command{name: name, title: strings.TrimSpace(title), desc: strings.TrimSpace(desc)}, nil
	case "clear", "quit":
		return command{name: name}, nil
	case "":
		return command{}, fmt.Errorf("empty command")
	}
	return command{}, fmt.Errorf("unknown command %q", name)
}

// redact keeps a short prefix of a token for log lines.
func redact(tok string) string {
	const keep = 4
	if len(tok) <= keep {
		return "****"
	}
	return tok[:keep] + "****"
}
