package db

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDBName points dsn at another database on the same server, keeping
// credentials and query parameters.
func WithDBName(dsn, database string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// IsDSN reports whether a feed source names a Postgres database.
func IsDSN(source string) bool {
	return strings.HasPrefix(source, "postgres://") || strings.HasPrefix(source, "postgresql://")
}

// Redact hides the password of a DSN for logging.
func Redact(dsn string) string {
	u, err := parseDSN(dsn)
	if err != nil {
		return "postgres://(invalid)"
	}
	return u.Redacted()
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	// host:port/db without a scheme
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return u, nil
}
