package registry

import "os"

// DockerHubCredentials is an optional Docker Hub basic-auth pair. It is
// considered configured only when both fields are present and non-empty.
type DockerHubCredentials struct {
	Username string
	Password string
}

// CredentialsFromEnv resolves DockerHubCredentials from the
// DOCKER_HUB_USERNAME and DOCKER_HUB_PASSWORD environment variables. Either
// missing or empty puts the proxy in anonymous mode.
func CredentialsFromEnv() DockerHubCredentials {
	return DockerHubCredentials{
		Username: os.Getenv("DOCKER_HUB_USERNAME"),
		Password: os.Getenv("DOCKER_HUB_PASSWORD"),
	}
}

// Configured reports whether both username and password are present.
func (c DockerHubCredentials) Configured() bool {
	return c.Username != "" && c.Password != ""
}
