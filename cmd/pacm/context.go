package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/store"
	"github.com/pacmpkg/pacm/internal/tarballcache"
)

const defaultRegistry = "https://registry.npmjs.org"

// ctx is the small bag of resolved environment-dependent roots every
// command needs, built once in main and threaded through instead of
// read piecemeal from os.Getenv.
type ctx struct {
	CacheRoot   string
	StoreRoot   string
	RegistryURL string
	Log         *logger
}

// newContext resolves the cache root, store root, and registry URL
// from PACM_CACHE_DIR / PACM_STORE_DIR / PACM_REGISTRY, falling back to
// the host's standard per-user data location when unset.
func newContext() (*ctx, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolving user cache directory")
	}

	cacheRoot := os.Getenv("PACM_CACHE_DIR")
	if cacheRoot == "" {
		cacheRoot = filepath.Join(base, "pacm", "cache")
	}

	storeRoot := os.Getenv("PACM_STORE_DIR")
	if storeRoot == "" {
		storeRoot = filepath.Join(base, "pacm", "store")
	}

	registryURL := os.Getenv("PACM_REGISTRY")
	if registryURL == "" {
		registryURL = defaultRegistry
	}

	return &ctx{
		CacheRoot:   cacheRoot,
		StoreRoot:   storeRoot,
		RegistryURL: registryURL,
		Log:         newLogger(os.Stderr),
	}, nil
}

func (c *ctx) tarballCache() (*tarballcache.Cache, error) {
	return tarballcache.New(c.CacheRoot)
}

func (c *ctx) store() (*store.Store, error) {
	return store.New(c.StoreRoot)
}
