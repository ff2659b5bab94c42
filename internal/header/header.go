// Package header builds the outbound header set for an upstream request
// from an inbound one, as a pure function: the input is never mutated, so
// a retry can always restart from the original snapshot.
package header

import "net/http"

const dockerClientUserAgent = `docker/20.10.12 go/go1.16.12 git-commit/459d0df kernel/5.10.47 os/linux arch/amd64 UpstreamClient(Docker-Client/20.10.12 \(linux\))`

const (
	blobAccept = "application/octet-stream, application/vnd.docker.image.rootfs.diff.tar.gzip, application/vnd.oci.image.layer.v1.tar+gzip"

	manifestAccept = "application/json, application/vnd.docker.distribution.manifest.v2+json, application/vnd.docker.distribution.manifest.list.v2+json, application/vnd.oci.image.manifest.v1+json, application/vnd.oci.image.index.v1+json"
)

// dockerHubHost is the host Prepare compares against to decide whether to
// apply the Docker Hub-specific header set.
const dockerHubHost = "registry-1.docker.io"

// Prepare clones in and injects the fields a successful upstream call
// needs: Host, Docker-Distribution-Api-Version, a Docker-client User-Agent
// for Docker Hub, and an Accept bundle tuned to whether this is a blob or
// manifest/API request. The input header set is never mutated.
func Prepare(in http.Header, upstreamHost string, isBlob bool) http.Header {
	out := in.Clone()
	if out == nil {
		out = make(http.Header)
	}

	out.Set("Host", upstreamHost)
	out.Set("Docker-Distribution-Api-Version", "registry/2.0")

	if upstreamHost == dockerHubHost {
		out.Set("User-Agent", dockerClientUserAgent)
		out.Set("Accept-Encoding", "gzip")
		out.Set("Connection", "keep-alive")
		out.Set("Cache-Control", "max-age=0")
	}

	if isBlob {
		out.Set("Accept", blobAccept)
	} else {
		out.Set("Accept", manifestAccept)
	}

	return out
}
