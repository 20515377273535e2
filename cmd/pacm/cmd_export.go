package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/pacmpkg/pacm/internal/lockfile"
)

type exportCommand struct {
	yaml bool
	out  string
}

func (c *exportCommand) Name() string { return "export" }
func (c *exportCommand) Args() string { return "" }
func (c *exportCommand) ShortHelp() string {
	return "Export pacm.lockb as JSON or YAML"
}
func (c *exportCommand) LongHelp() string {
	return "Export decodes pacm.lockb and writes a stable JSON (default) or YAML projection."
}
func (c *exportCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&c.yaml, "yaml", false, "export as YAML instead of JSON")
	fs.StringVar(&c.out, "out", "", "write to this path instead of stdout")
}

func (c *exportCommand) Run(args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	lf, err := loadLockfileForRead(filepath.Join(root, lockfileName))
	if err != nil {
		return err
	}

	format := lockfile.FormatJSON
	if c.yaml {
		format = lockfile.FormatYAML
	}

	data, err := lockfile.Export(lf, format)
	if err != nil {
		return err
	}

	if c.out == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(c.out, data, 0644)
}
