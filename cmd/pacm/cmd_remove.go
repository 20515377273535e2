package main

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/pacmpkg/pacm/internal/install"
)

type removeCommand struct {
	flags *commonFlags
}

func (c *removeCommand) Name() string     { return "remove" }
func (c *removeCommand) Args() string     { return "<name...>" }
func (c *removeCommand) ShortHelp() string { return "Remove dependencies and re-install" }
func (c *removeCommand) LongHelp() string {
	return "Remove deletes the given names from package.json's dependency maps, " +
		"then re-installs; pacm.lockb and node_modules are pruned to match."
}
func (c *removeCommand) Register(fs *flag.FlagSet) { c.flags = registerCommonFlags(fs) }

func (c *removeCommand) Run(args []string) error {
	if len(args) == 0 {
		return &usageError{"remove requires at least one package name"}
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(root, "package.json")
	rm, err := loadRawManifest(manifestPath)
	if err != nil {
		return err
	}
	for _, name := range args {
		rm.removeDependency(name)
	}
	if err := saveRawManifest(manifestPath, rm); err != nil {
		return err
	}

	opts, err := appCtx.buildOptions(root, *c.flags)
	if err != nil {
		return err
	}

	result, err := install.Run(context.Background(), root, nil, opts)
	if err != nil {
		return err
	}
	reportResult(result)
	return nil
}
