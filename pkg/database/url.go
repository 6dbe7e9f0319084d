package database

import (
	"strings"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// URLScheme identifies how the durable tier connects.
type URLScheme int

const (
	// SchemeRemote is a TLS-aware libsql:// URL
	SchemeRemote URLScheme = iota
	// SchemeFile is an in-process file: URL
	SchemeFile
	// SchemeMemory is the in-memory database
	SchemeMemory
)

// DatabaseURL is a validated database location. Construction enforces the
// security policy: remote URLs require an auth token, file URLs must not
// carry one, and every other scheme is refused.
type DatabaseURL struct {
	Raw    string
	Scheme URLScheme
	Token  string
}

// ParseDatabaseURL validates a database URL against the allowed grammar:
//
//	libsql://host[:port][/db]   remote, token required
//	file:path                   local file, token must be empty
//	:memory:                    in-memory
func ParseDatabaseURL(raw, token string) (DatabaseURL, error) {
	switch {
	case raw == ":memory:":
		return DatabaseURL{Raw: raw, Scheme: SchemeMemory}, nil

	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		if path == "" {
			return DatabaseURL{}, errors.New(errors.KindValidation, "file URL has empty path")
		}
		if token != "" {
			return DatabaseURL{}, errors.New(errors.KindSecurity,
				"auth token must be empty for local file databases")
		}
		return DatabaseURL{Raw: raw, Scheme: SchemeFile}, nil

	case strings.HasPrefix(raw, "libsql://"):
		host := strings.TrimPrefix(raw, "libsql://")
		if host == "" {
			return DatabaseURL{}, errors.New(errors.KindValidation, "remote URL has empty host")
		}
		if token == "" {
			return DatabaseURL{}, errors.New(errors.KindSecurity,
				"auth token is required for remote databases")
		}
		return DatabaseURL{Raw: raw, Scheme: SchemeRemote, Token: token}, nil

	default:
		// http://, https://, ws://, postgres:// and anything else are
		// refused outright rather than downgraded.
		return DatabaseURL{}, errors.Newf(errors.KindSecurity,
			"unsupported database URL scheme in %q: use libsql://, file:, or :memory:", raw)
	}
}

// DriverName returns the database/sql driver registered for the scheme.
func (u DatabaseURL) DriverName() string {
	if u.Scheme == SchemeRemote {
		return "libsql"
	}
	return "sqlite"
}

// DSN returns the data source name handed to the driver.
func (u DatabaseURL) DSN() string {
	switch u.Scheme {
	case SchemeRemote:
		if u.Token == "" {
			return u.Raw
		}
		return u.Raw + "?authToken=" + u.Token
	case SchemeMemory:
		return "file::memory:?cache=shared"
	default:
		return u.Raw
	}
}
