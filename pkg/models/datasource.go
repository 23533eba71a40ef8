package models

import (
	"fmt"
	"strings"
)

// Backend identifies the database dialect a DatabaseSpecification connects to.
type Backend string

const (
	BackendMSSQL  Backend = "mssql"
	BackendOracle Backend = "oracle"
)

// AllBackends lists the supported backends.
func AllBackends() []Backend {
	return []Backend{BackendMSSQL, BackendOracle}
}

// ParseBackend parses a backend name. "sqlserver" is accepted as an alias for mssql.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mssql", "sqlserver":
		return BackendMSSQL, nil
	case "oracle":
		return BackendOracle, nil
	}
	return "", fmt.Errorf("unknown backend: %q", name)
}

// DatabaseSpecification is a backend connection descriptor.
// ConnectionString is ciphertext when Encrypted is set; the service layer decrypts it before use.
type DatabaseSpecification struct {
	Name             string  `yaml:"name" json:"name"`
	Backend          Backend `yaml:"backend" json:"backend"`
	ConnectionString string  `yaml:"connection_string" json:"-"`
	Encrypted        bool    `yaml:"encrypted,omitempty" json:"encrypted"`
	Impersonate      bool    `yaml:"impersonate,omitempty" json:"impersonate"`
}

// MailerSpecification describes where "send output via email" results are delivered.
type MailerSpecification struct {
	Name    string   `yaml:"name" json:"name"`
	From    string   `yaml:"from" json:"from"`
	To      []string `yaml:"to" json:"to"`
	Cc      []string `yaml:"cc,omitempty" json:"cc,omitempty"`
	Subject string   `yaml:"subject" json:"subject"`
	Body    string   `yaml:"body,omitempty" json:"body,omitempty"`
}
