package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"transit-tracker/internal/gtfs"
)

// latestImportQuery picks the newest successful import whose database name
// mentions the city. It runs against the cluster's postgres database.
const latestImportQuery = `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%' AND db_name <> ''
ORDER BY imported_at DESC
LIMIT 1`

// ErrNoImport is returned when no imported feed database matches a city.
var ErrNoImport = errors.New("no imported feed database")

// ResolveLatestImportDBName returns the name of the most recently imported
// feed database for city.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("resolve import: empty city")
	}
	var name sql.NullString
	err := meta.QueryRowContext(ctx, latestImportQuery, city).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows), err == nil && !name.Valid:
		return "", fmt.Errorf("%w for city %q", ErrNoImport, city)
	case err != nil:
		return "", fmt.Errorf("resolve import for %q: %w", city, err)
	}
	return name.String, nil
}

// CityDSN connects to the cluster's postgres database behind baseDSN, looks up
// the newest import for city and returns a DSN pointing at it.
func CityDSN(ctx context.Context, baseDSN, city string) (string, error) {
	metaDSN, err := WithDBName(baseDSN, "postgres")
	if err != nil {
		return "", err
	}
	meta, err := Open(metaDSN)
	if err != nil {
		return "", err
	}
	defer meta.Close()
	if err := Ping(ctx, meta); err != nil {
		return "", fmt.Errorf("ping %s: %w", Redact(metaDSN), err)
	}
	name, err := ResolveLatestImportDBName(ctx, meta, city)
	if err != nil {
		return "", err
	}
	return WithDBName(baseDSN, name)
}

// LoadFeedFromDSN opens dsn, loads its feed and closes the pool.
func LoadFeedFromDSN(ctx context.Context, dsn string) (*gtfs.Feed, error) {
	conn, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := Ping(ctx, conn); err != nil {
		return nil, fmt.Errorf("ping %s: %w", Redact(dsn), err)
	}
	return LoadFeed(ctx, conn)
}
