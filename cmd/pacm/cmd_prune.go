package main

import (
	"flag"

	"github.com/pacmpkg/pacm/internal/install"
)

type pruneCommand struct{}

func (c *pruneCommand) Name() string             { return "prune" }
func (c *pruneCommand) Args() string             { return "" }
func (c *pruneCommand) ShortHelp() string        { return "Remove unreachable node_modules entries" }
func (c *pruneCommand) LongHelp() string         { return "Prune removes lockfile/node_modules entries no longer reachable from package.json." }
func (c *pruneCommand) Register(fs *flag.FlagSet) {}

func (c *pruneCommand) Run(args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	if err := install.Prune(root); err != nil {
		return err
	}
	appCtx.Log.Logln("pacm: pruned")
	return nil
}
