package engine

import "strings"

// defaultRepository is the fallback spec.md §9 documents as "almost
// certainly a development leftover" but preserves for bit-compatibility:
// whenever repository extraction from a canonical path yields nothing,
// the blob scope and CDN fall-back both fall back to this value.
const defaultRepository = "library/redis"

// repositoryFromBlobPath extracts the repository segment between "/v2/"
// and "/blobs/" in a canonical blob path, e.g.
// "/v2/library/alpine/blobs/sha256:..." -> "library/alpine". Returns
// defaultRepository if the path doesn't contain both markers or the
// segment between them is empty.
func repositoryFromBlobPath(path string) string {
	const v2Prefix = "/v2/"
	const blobsMarker = "/blobs/"

	start := strings.Index(path, v2Prefix)
	if start == -1 {
		return defaultRepository
	}
	start += len(v2Prefix)

	rest := path[start:]
	end := strings.Index(rest, blobsMarker)
	if end <= 0 {
		return defaultRepository
	}

	repo := rest[:end]
	if repo == "" {
		return defaultRepository
	}
	return repo
}

// manifestRepoAndRef parses a canonical manifest path of the form
// "/v2/<ns>/<repo>/manifests/<reference>" for the Hub-API fall-back,
// collapsing ns == "library" to a bare "<repo>". ok is false if path
// doesn't look like a manifest path.
func manifestRepoAndRef(path string) (repo, reference string, ok bool) {
	const v2Prefix = "/v2/"
	const manifestsMarker = "/manifests/"

	if !strings.HasPrefix(path, v2Prefix) {
		return "", "", false
	}
	rest := path[len(v2Prefix):]

	idx := strings.Index(rest, manifestsMarker)
	if idx <= 0 {
		return "", "", false
	}

	nameAndRepo := rest[:idx]
	reference = rest[idx+len(manifestsMarker):]
	if reference == "" {
		return "", "", false
	}

	segments := strings.Split(nameAndRepo, "/")
	switch len(segments) {
	case 1:
		repo = segments[0]
	case 2:
		if segments[0] == "library" {
			repo = segments[1]
		} else {
			repo = nameAndRepo
		}
	default:
		repo = nameAndRepo
	}
	if repo == "" {
		return "", "", false
	}
	return repo, reference, true
}
