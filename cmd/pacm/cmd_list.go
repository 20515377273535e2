package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"sort"
)

type listCommand struct{}

func (c *listCommand) Name() string                 { return "list" }
func (c *listCommand) Args() string                  { return "" }
func (c *listCommand) ShortHelp() string             { return "List installed packages from the lockfile" }
func (c *listCommand) LongHelp() string              { return "List prints name@version for every installed package." }
func (c *listCommand) Register(fs *flag.FlagSet)     {}

func (c *listCommand) Run(args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	lf, err := loadLockfileForRead(filepath.Join(root, lockfileName))
	if err != nil {
		return err
	}

	names := make([]string, 0, len(lf.Entries))
	for key := range lf.Entries {
		if key == "" {
			continue
		}
		names = append(names, key[len("node_modules/"):])
	}
	sort.Strings(names)

	for _, name := range names {
		entry := lf.Entries["node_modules/"+name]
		fmt.Printf("%s@%s\n", name, entry.Version)
	}
	return nil
}
