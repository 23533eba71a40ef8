package config

import (
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a Docker container, based on
// the /.dockerenv marker. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal inside Docker so the catalog
// database and SMTP relay on the host stay reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	return dockerHost(host)
}

func dockerHost(host string) string {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	}
	return host
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of a URL-form datasource
// connection string (sqlserver://, oracle://). Key=value connection strings and
// unparsable values are returned unchanged.
func ResolveURLForDocker(connString string) string {
	if !IsRunningInDocker() {
		return connString
	}
	return rewriteURLHost(connString)
}

func rewriteURLHost(connString string) string {
	if !strings.Contains(connString, "://") {
		return connString
	}
	u, err := url.Parse(connString)
	if err != nil || u.Host == "" {
		return connString
	}

	host, port := u.Hostname(), u.Port()
	mapped := dockerHost(host)
	if mapped == host {
		return connString
	}
	if port != "" {
		u.Host = net.JoinHostPort(mapped, port)
	} else {
		u.Host = mapped
	}
	return u.String()
}
