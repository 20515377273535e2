package main

import (
	"flag"
	"path/filepath"

	"github.com/pacmpkg/pacm/internal/install"
	"github.com/pacmpkg/pacm/internal/manifest"
	"github.com/pacmpkg/pacm/internal/platform"
	"github.com/pacmpkg/pacm/internal/workspaces"
)

// errLinkAndCopy reports that mutually exclusive materialization modes
// were both requested.
var errLinkAndCopy = &usageError{"--link and --copy are mutually exclusive"}

// commonFlags are the install-family flags shared by install/add/remove.
type commonFlags struct {
	preferOffline bool
	noProgress    bool
	link          bool
	copy          bool
}

func (c *ctx) buildOptions(projectRoot string, f commonFlags) (install.Options, error) {
	if f.link && f.copy {
		return install.Options{}, errLinkAndCopy
	}

	tc, err := c.tarballCache()
	if err != nil {
		return install.Options{}, err
	}
	st, err := c.store()
	if err != nil {
		return install.Options{}, err
	}

	var ws *workspaces.Set
	if m, err := manifest.Load(filepath.Join(projectRoot, "package.json")); err == nil {
		ws, _ = workspaces.Discover(projectRoot, m.Workspaces)
	}

	return install.Options{
		Registry:      newHTTPRegistry(c.RegistryURL),
		GitHost:       newGitHostClient(),
		TarballCache:  tc,
		Store:         st,
		Workspaces:    ws,
		Host:          platform.Host{OS: hostOS(), CPU: hostArch()},
		PreferOffline: f.preferOffline,
		ForceCopy:     f.copy,
		LockFormat:    1,
	}, nil
}

// registerCommonFlags registers the install-family flags onto fs and
// returns the struct they'll populate after fs.Parse.
func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.BoolVar(&f.preferOffline, "prefer-offline", false, "skip the network when a cached version already satisfies the range")
	fs.BoolVar(&f.noProgress, "no-progress", false, "suppress progress output")
	fs.BoolVar(&f.link, "link", false, "materialize packages via hard link (default)")
	fs.BoolVar(&f.copy, "copy", false, "materialize packages via deep copy")
	return f
}
