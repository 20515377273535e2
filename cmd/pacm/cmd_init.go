package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type initCommand struct {
	name string
}

func (c *initCommand) Name() string     { return "init" }
func (c *initCommand) Args() string     { return "" }
func (c *initCommand) ShortHelp() string { return "Create a minimal package.json" }
func (c *initCommand) LongHelp() string  { return "Init writes a minimal package.json in the current directory if one doesn't already exist." }
func (c *initCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.name, "name", "", "package name (defaults to the directory name)")
}

func (c *initCommand) Run(args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(root, "package.json")
	if _, err := os.Stat(manifestPath); err == nil {
		return errors.Errorf("%s already exists", manifestPath)
	}

	name := c.name
	if name == "" {
		name = filepath.Base(root)
	}

	doc := rawManifest{
		"name":         name,
		"version":      "1.0.0",
		"dependencies": map[string]interface{}{},
	}
	return saveRawManifest(manifestPath, doc)
}
