package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/pacmpkg/pacm/internal/install"
	"github.com/pacmpkg/pacm/internal/lockfile"
)

const lockfileName = "pacm.lockb"

// installFlags captures the add/install-specific save-behavior flags,
// layered on top of commonFlags.
type installFlags struct {
	common   *commonFlags
	dev      bool
	optional bool
	noSave   bool
	exact    bool
}

func registerInstallFlags(fs *flag.FlagSet) *installFlags {
	f := &installFlags{common: registerCommonFlags(fs)}
	fs.BoolVar(&f.dev, "dev", false, "save as a devDependency")
	fs.BoolVar(&f.optional, "optional", false, "save as an optionalDependency")
	fs.BoolVar(&f.noSave, "no-save", false, "don't write resolved specifiers back to package.json")
	fs.BoolVar(&f.exact, "exact", false, "save an exact version instead of a caret range")
	return f
}

// runInstallLike drives one install/add invocation: resolve (if
// needed), link, write the lockfile, then optionally persist the
// requested specifiers back into package.json; manifest writing is a
// CLI concern, not something the orchestrator itself does.
func runInstallLike(args []string, f *installFlags) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	overrides := map[string]string{}
	for _, arg := range args {
		name, rng := parseSpecifier(arg)
		if rng == "" {
			rng = "*"
		}
		overrides[name] = rng
	}

	opts, err := appCtx.buildOptions(root, *f.common)
	if err != nil {
		return err
	}

	result, err := install.Run(context.Background(), root, overrides, opts)
	if err != nil {
		return err
	}

	reportResult(result)

	if len(args) == 0 || f.noSave {
		return nil
	}

	return saveSpecifiers(root, args, f)
}

func saveSpecifiers(root string, args []string, f *installFlags) error {
	manifestPath := filepath.Join(root, "package.json")
	rm, err := loadRawManifest(manifestPath)
	if err != nil {
		return err
	}

	field := depField(f.dev, f.optional)

	var lf *lockfile.Lockfile
	for _, arg := range args {
		name, rng := parseSpecifier(arg)
		if rng != "" && !f.exact {
			rm.setDependency(field, name, rng)
			continue
		}

		if lf == nil {
			lf, err = loadLockfileForRead(filepath.Join(root, lockfileName))
			if err != nil {
				return err
			}
		}
		saved := rng
		if entry, ok := lf.Entries["node_modules/"+name]; ok && entry.Version != "" {
			if f.exact {
				saved = entry.Version
			} else {
				saved = "^" + entry.Version
			}
		} else if saved == "" {
			saved = "*"
		}
		rm.setDependency(field, name, saved)
	}

	return saveRawManifest(manifestPath, rm)
}

func loadLockfileForRead(path string) (*lockfile.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return lockfile.Decode(data)
}

func reportResult(result *install.Result) {
	appCtx.Log.Logf("pacm: %s\n", result.Status)
	for _, w := range result.Warnings {
		appCtx.Log.Warnf("%s has unmet peer dependencies: %v", w.Dependent, w.Missing)
	}
}

type installCommand struct {
	flags *installFlags
}

func (c *installCommand) Name() string      { return "install" }
func (c *installCommand) Args() string       { return "[specifiers...]" }
func (c *installCommand) ShortHelp() string  { return "Resolve and install dependencies" }
func (c *installCommand) LongHelp() string {
	return "Install resolves every declared dependency (or the given specifiers), " +
		"populates node_modules, and writes pacm.lockb."
}
func (c *installCommand) Register(fs *flag.FlagSet) { c.flags = registerInstallFlags(fs) }
func (c *installCommand) Run(args []string) error   { return runInstallLike(args, c.flags) }

// addCommand is an alias of install that requires at least one
// specifier.
type addCommand struct {
	flags *installFlags
}

func (c *addCommand) Name() string     { return "add" }
func (c *addCommand) Args() string     { return "<specifier...>" }
func (c *addCommand) ShortHelp() string { return "Add one or more dependencies (alias of install)" }
func (c *addCommand) LongHelp() string {
	return "Add is install with at least one required specifier; it saves the " +
		"resolved range into package.json unless --no-save is given."
}
func (c *addCommand) Register(fs *flag.FlagSet) { c.flags = registerInstallFlags(fs) }
func (c *addCommand) Run(args []string) error {
	if len(args) == 0 {
		return errNoSpecifiers
	}
	return runInstallLike(args, c.flags)
}

var errNoSpecifiers = &usageError{"add requires at least one specifier"}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
