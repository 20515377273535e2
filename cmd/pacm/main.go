// Command pacm is the thin CLI entrypoint: argument parsing and help
// text live here (no progress output is rendered; --no-progress is
// accepted and has no effect); version resolution, caching, graph
// traversal, linking, and the lockfile codec live in internal/.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

var (
	appCtx  *ctx
	verbose = flag.Bool("v", false, "enable verbose logging")
)

// command is a hand-rolled verb interface over flag.FlagSet rather
// than a CLI framework: this module's CLI is intentionally minimal.
type command interface {
	Name() string           // "install"
	Args() string           // "[specifiers...]"
	ShortHelp() string      // "Resolve and install dependencies"
	LongHelp() string       // full description
	Register(*flag.FlagSet) // command-specific flags
	Run([]string) error
}

func main() {
	c, err := newContext()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	appCtx = c

	commands := []command{
		&initCommand{},
		&installCommand{},
		&addCommand{},
		&removeCommand{},
		&listCommand{},
		&cacheCommand{},
		&pruneCommand{},
		&exportCommand{},
		&runCommand{},
	}

	usage := func() {
		fmt.Fprintln(os.Stderr, "Usage: pacm <command> [arguments]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr)
		w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
		}
		w.Flush()
		fmt.Fprintln(os.Stderr)
	}

	if len(os.Args) <= 1 || strings.EqualFold(os.Args[1], "help") || strings.ToLower(os.Args[1]) == "-h" {
		usage()
		os.Exit(1)
	}

	for _, cmd := range commands {
		if cmd.Name() != os.Args[1] {
			continue
		}

		fs := flag.NewFlagSet(cmd.Name(), flag.ExitOnError)
		fs.BoolVar(verbose, "v", false, "enable verbose logging")
		cmd.Register(fs)
		resetUsage(fs, cmd.Name(), cmd.Args(), cmd.LongHelp())

		if err := fs.Parse(os.Args[2:]); err != nil {
			os.Exit(1)
		}

		if err := cmd.Run(fs.Args()); err != nil {
			appCtx.Log.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "pacm: no such command %q\n", os.Args[1])
	usage()
	os.Exit(1)
}

func resetUsage(fs *flag.FlagSet, name, args, longHelp string) {
	var (
		hasFlags   bool
		flagBlock  bytes.Buffer
		flagWriter = tabwriter.NewWriter(&flagBlock, 0, 4, 2, ' ', 0)
	)
	fs.VisitAll(func(f *flag.Flag) {
		hasFlags = true
		fmt.Fprintf(flagWriter, "  -%s\t%s\n", f.Name, f.Usage)
	})
	flagWriter.Flush()

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pacm %s %s\n\n%s\n", name, args, longHelp)
		if hasFlags {
			fmt.Fprintln(os.Stderr, "\nOptions:")
			fmt.Fprint(os.Stderr, flagBlock.String())
		}
	}
}

// projectRoot returns the current working directory as the project
// root; the core finds package.json/pacm.lockb/node_modules there.
func projectRoot() (string, error) {
	return os.Getwd()
}
