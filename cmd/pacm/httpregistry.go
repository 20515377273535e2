package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pacmpkg/pacm/internal/pkgerr"
	"github.com/pacmpkg/pacm/internal/registry"
)

// httpTimeout bounds every registry and tarball request.
const httpTimeout = 30 * time.Second

// httpRegistry is the concrete registry.Client the core is handed at
// runtime: a plain net/http client against the mainstream registry's
// metadata and tarball conventions, with no HTTP framework dependency.
type httpRegistry struct {
	baseURL string
	client  *http.Client
}

func newHTTPRegistry(baseURL string) *httpRegistry {
	return &httpRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type rawDist struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity"`
	Shasum    string `json:"shasum"`
}

type rawPeerMeta struct {
	Optional bool `json:"optional"`
}

type rawVersion struct {
	Version              string                 `json:"version"`
	Dist                 rawDist                `json:"dist"`
	Dependencies         map[string]string      `json:"dependencies"`
	OptionalDependencies map[string]string      `json:"optionalDependencies"`
	PeerDependencies     map[string]string      `json:"peerDependencies"`
	PeerDependenciesMeta map[string]rawPeerMeta `json:"peerDependenciesMeta"`
	OS                   []string               `json:"os"`
	CPU                  []string               `json:"cpu"`
	Scripts              map[string]string      `json:"scripts"`
	Bin                  json.RawMessage        `json:"bin"`
}

type rawPackageDoc struct {
	Name     string                `json:"name"`
	DistTags map[string]string    `json:"dist-tags"`
	Versions map[string]rawVersion `json:"versions"`
}

// PackageMetadata fetches GET <registry>/<name> and decodes it into
// the core's registry.PackageMetadata shape.
func (r *httpRegistry) PackageMetadata(ctx context.Context, name string) (registry.PackageMetadata, error) {
	u := r.baseURL + "/" + url.PathEscape(name)
	if strings.HasPrefix(name, "@") {
		// scoped packages are requested as @scope%2Fname, the
		// registry's encoded form of a scoped name.
		parts := strings.SplitN(name, "/", 2)
		u = r.baseURL + "/" + url.PathEscape(parts[0]) + "%2F" + url.PathEscape(parts[1])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return registry.PackageMetadata{}, errors.Wrapf(err, "building request for %s", name)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return registry.PackageMetadata{}, pkgerr.Wrap(pkgerr.RegistryUnavailable, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return registry.PackageMetadata{}, pkgerr.New(pkgerr.RegistryUnavailable, "%s: %s", name, http.StatusText(resp.StatusCode))
	}

	var doc rawPackageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return registry.PackageMetadata{}, pkgerr.Wrap(pkgerr.RegistryUnavailable, name, err)
	}

	out := registry.PackageMetadata{
		Name:     doc.Name,
		DistTags: doc.DistTags,
		Versions: make(map[string]registry.VersionMetadata, len(doc.Versions)),
	}
	for v, rv := range doc.Versions {
		out.Versions[v] = toVersionMetadata(rv)
	}
	return out, nil
}

func toVersionMetadata(rv rawVersion) registry.VersionMetadata {
	peerMeta := make(map[string]registry.PeerMeta, len(rv.PeerDependenciesMeta))
	for k, v := range rv.PeerDependenciesMeta {
		peerMeta[k] = registry.PeerMeta{Optional: v.Optional}
	}

	return registry.VersionMetadata{
		Version:              rv.Version,
		TarballURL:           rv.Dist.Tarball,
		Integrity:            rv.Dist.Integrity,
		Shasum:               rv.Dist.Shasum,
		Dependencies:         rv.Dependencies,
		OptionalDependencies: rv.OptionalDependencies,
		PeerDependencies:     rv.PeerDependencies,
		PeerDependenciesMeta: peerMeta,
		OS:                   rv.OS,
		CPU:                  rv.CPU,
		Scripts:              rv.Scripts,
		HasBin:               len(rv.Bin) > 0,
	}
}

// DownloadTarball fetches the raw tarball bytes at url.
func (r *httpRegistry) DownloadTarball(ctx context.Context, tarballURL string) ([]byte, error) {
	return r.downloadTarball(ctx, tarballURL, nil)
}

// DownloadTarballProgress implements registry.StreamingClient.
func (r *httpRegistry) DownloadTarballProgress(ctx context.Context, tarballURL string, progress registry.ProgressFunc) ([]byte, error) {
	return r.downloadTarball(ctx, tarballURL, progress)
}

func (r *httpRegistry) downloadTarball(ctx context.Context, tarballURL string, progress registry.ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", tarballURL)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, tarballURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.RegistryUnavailable, "%s: %s", tarballURL, http.StatusText(resp.StatusCode))
	}

	if progress == nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.RegistryUnavailable, tarballURL, err)
		}
		return data, nil
	}

	return readWithProgress(resp.Body, resp.ContentLength, progress)
}

func readWithProgress(body io.Reader, total int64, progress registry.ProgressFunc) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	var downloaded int64
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			downloaded += int64(n)
			progress(downloaded, total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// gitHostClient is the GitHub-shaped git-host collaborator:
// default-branch lookup, commit resolution, and archive URL
// construction, falling back from main to master on rate-limit/error
// responses.
type gitHostClient struct {
	apiBase string
	client  *http.Client
}

func newGitHostClient() *gitHostClient {
	return &gitHostClient{
		apiBase: "https://api.github.com",
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type rawRepo struct {
	DefaultBranch string `json:"default_branch"`
}

func (g *gitHostClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	u := g.apiBase + path.Join("/repos", owner, repo)
	var doc rawRepo
	if err := g.getJSON(ctx, u, &doc); err != nil {
		return "main", nil // fall back on rate-limit/error
	}
	if doc.DefaultBranch == "" {
		return "main", nil
	}
	return doc.DefaultBranch, nil
}

type rawCommit struct {
	SHA string `json:"sha"`
}

func (g *gitHostClient) ResolveCommit(ctx context.Context, owner, repo, ref string) (string, error) {
	u := g.apiBase + path.Join("/repos", owner, repo, "commits", ref)
	var doc rawCommit
	if err := g.getJSON(ctx, u, &doc); err != nil {
		if ref != "master" {
			if sha, err2 := g.ResolveCommit(ctx, owner, repo, "master"); err2 == nil {
				return sha, nil
			}
		}
		return "", pkgerr.Wrap(pkgerr.RegistryUnavailable, owner+"/"+repo+"#"+ref, err)
	}
	return doc.SHA, nil
}

func (g *gitHostClient) ArchiveURL(owner, repo, sha string) string {
	return "https://codeload.github.com/" + owner + "/" + repo + "/tar.gz/" + sha
}

func (g *gitHostClient) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: %s", u, http.StatusText(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
