package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// command is one runnable CLI entry: a top-level verb or a noun's action.
type command struct {
	name  string
	usage string // after "Usage: threaddispatch "
	about string
	run   func(args []string) int
}

func (c command) printHelp(w io.Writer) {
	fmt.Fprintf(w, "Usage: threaddispatch %s\n", c.usage)
	if c.about != "" {
		fmt.Fprintln(w, c.about)
	}
}

// invoke prints help when asked, otherwise runs the command.
func (c command) invoke(args []string) int {
	if hasHelpFlag(args) {
		c.printHelp(os.Stdout)
		return 0
	}
	return c.run(args)
}

func findCommand(cmds []command, name string) (command, bool) {
	i := slices.IndexFunc(cmds, func(c command) bool { return c.name == name })
	if i < 0 {
		return command{}, false
	}
	return cmds[i], true
}

// runNoun routes "<noun> <action> ..." to the matching action.
func runNoun(noun string, actions []command, args []string) int {
	nounHelp := func(w io.Writer) {
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = a.name
		}
		fmt.Fprintf(w, "Usage: threaddispatch %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}

	if len(args) == 0 {
		nounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		nounHelp(os.Stdout)
		return 0
	}

	action, ok := findCommand(actions, args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	return action.invoke(args[1:])
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	return slices.ContainsFunc(args, func(a string) bool { return a == "--help" || a == "-h" })
}

// splitFlagsAndPositionals separates positionals from flags so they may be
// given in any order. takesValue names flags that consume the next argument.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) (flags, positionals []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) < 2 || arg[0] != '-' {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if takesValue[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}
