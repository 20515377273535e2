package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// cacheCommand implements the "cache path"/"cache clean" verb pair;
// both the tarball cache and the CAS store are reclaimed by clean,
// since both are keyed, append-only directories safe to delete wholesale.
type cacheCommand struct{}

func (c *cacheCommand) Name() string     { return "cache" }
func (c *cacheCommand) Args() string     { return "<path|clean>" }
func (c *cacheCommand) ShortHelp() string { return "Print cache locations or clear them" }
func (c *cacheCommand) LongHelp() string {
	return "cache path prints the tarball-cache and store roots; cache clean removes both."
}
func (c *cacheCommand) Register(fs *flag.FlagSet) {}

func (c *cacheCommand) Run(args []string) error {
	if len(args) != 1 {
		return &usageError{"cache requires exactly one of: path, clean"}
	}

	switch args[0] {
	case "path":
		fmt.Println(appCtx.CacheRoot)
		fmt.Println(appCtx.StoreRoot)
		return nil
	case "clean":
		if err := os.RemoveAll(appCtx.CacheRoot); err != nil {
			return errors.Wrap(err, "clearing tarball cache")
		}
		if err := os.RemoveAll(appCtx.StoreRoot); err != nil {
			return errors.Wrap(err, "clearing store")
		}
		appCtx.Log.Logln("pacm: cache cleared")
		return nil
	default:
		return &usageError{"cache: unknown subcommand " + args[0]}
	}
}
