package main

import (
	"flag"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pacmpkg/pacm/internal/linker"
	"github.com/pacmpkg/pacm/internal/manifest"
)

// runCommand resolves a bare command name against node_modules/.bin
// before falling back to $PATH. A name matching a package.json script
// takes precedence, run through the shell the same way the mainstream
// ecosystem's "run" verb does; actually spawning either remains this
// CLI's concern, not the core's.
type runCommand struct{}

func (c *runCommand) Name() string             { return "run" }
func (c *runCommand) Args() string             { return "<script-or-bin> [arguments...]" }
func (c *runCommand) ShortHelp() string        { return "Run a package.json script or a node_modules/.bin binary" }
func (c *runCommand) LongHelp() string {
	return "Run resolves name against package.json scripts first, then node_modules/.bin, then $PATH."
}
func (c *runCommand) Register(fs *flag.FlagSet) {}

func (c *runCommand) Run(args []string) error {
	if len(args) == 0 {
		return &usageError{"run requires a script or binary name"}
	}
	name, rest := args[0], args[1:]

	root, err := projectRoot()
	if err != nil {
		return err
	}

	if m, err := manifest.Load(filepath.Join(root, "package.json")); err == nil {
		if script, ok := m.Scripts[name]; ok {
			return execCommand(root, "sh", append([]string{"-c", script, "--"}, rest...))
		}
	}

	bin, err := linker.ResolveBin(root, name)
	if err != nil {
		return err
	}
	return execCommand(root, bin, rest)
}

func execCommand(dir, path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	return nil
}
