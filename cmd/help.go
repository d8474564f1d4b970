package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// commandPriority orders the top-level commands in the root help.
var commandPriority = []string{"record", "render-check", "version", "completion", "help"}

// Setup help command
func setupHelpCommand(rootCmd *cobra.Command) {
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != cmd.Root() {
			defaultHelp(cmd, args)
			return
		}
		printRootHelpOrdered(cmd.OutOrStdout(), cmd)
	})
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "Show help information",
		Run: func(cmd *cobra.Command, args []string) {
			printRootHelpOrdered(cmd.OutOrStdout(), cmd.Root())
		},
	})
}

// printRootHelpOrdered prints the root help with commands ordered by
// commandPriority, then by name.
func printRootHelpOrdered(w io.Writer, cmd *cobra.Command) {
	priorityIndex := map[string]int{}
	for i, name := range commandPriority {
		priorityIndex[name] = i
	}

	if cmd.Long != "" {
		fmt.Fprintln(w, cmd.Long)
	} else if cmd.Short != "" {
		fmt.Fprintln(w, cmd.Short)
	}

	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintf(w, "  %s [flags]\n", cmd.Name())
	fmt.Fprintf(w, "  %s [command]\n", cmd.Name())

	commands := []*cobra.Command{}
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.Hidden {
			continue
		}
		commands = append(commands, c)
	}

	sort.SliceStable(commands, func(i, j int) bool {
		pi, okI := priorityIndex[commands[i].Name()]
		pj, okJ := priorityIndex[commands[j].Name()]
		switch {
		case okI && okJ:
			return pi < pj
		case okI != okJ:
			return okI
		default:
			return commands[i].Name() < commands[j].Name()
		}
	})

	fmt.Fprintln(w, "\nAvailable Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.Name(), c.Short)
	}

	fmt.Fprintln(w, "\nFlags:")
	fmt.Fprint(w, cmd.Flags().FlagUsages())

	fmt.Fprintf(w, "\nUse \"%s [command] --help\" for more information about a command.\n", cmd.Name())
}
