// Package index is a non-authoritative sqlite secondary index over
// container and network state, queried for label/hostname lookups that
// would otherwise require a full entity-store scan. It is rebuilt from the
// entity stores on every boot; the stores themselves remain the source of
// truth (§9 design note).
package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/corevisor/corectl/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index wraps the sqlite connection and the migration state.
type Index struct {
	db *sql.DB
}

// Open creates (or opens) the sqlite database at path and migrates it to
// the latest schema version.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: opening sqlite db %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("index: loading embedded migrations: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("index: wrapping sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("index: constructing migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index: applying migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild truncates every table and repopulates it from the given
// authoritative snapshots, the operation run once at boot after the
// entity stores have loaded.
func (idx *Index) Rebuild(ctx context.Context, containers []types.ContainerSnapshot, networks []types.NetworkConfig) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: beginning rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM container_networks",
		"DELETE FROM container_labels",
		"DELETE FROM containers",
		"DELETE FROM networks",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: clearing tables: %w", err)
		}
	}

	for _, c := range containers {
		var startedAt any
		if c.StartedAt != nil {
			startedAt = c.StartedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO containers (id, image_reference, runtime_handler, status, started_at) VALUES (?, ?, ?, ?, ?)`,
			c.Config.ID, c.Config.Image.Reference, c.Config.RuntimeHandler, string(c.Status), startedAt,
		); err != nil {
			return fmt.Errorf("index: inserting container %q: %w", c.Config.ID, err)
		}

		for k, v := range c.Config.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO container_labels (container_id, key, value) VALUES (?, ?, ?)`,
				c.Config.ID, k, v,
			); err != nil {
				return fmt.Errorf("index: inserting label for %q: %w", c.Config.ID, err)
			}
		}

		for _, n := range c.Config.Networks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO container_networks (container_id, network_id, hostname) VALUES (?, ?, ?)`,
				c.Config.ID, n.NetworkID, n.Hostname,
			); err != nil {
				return fmt.Errorf("index: inserting network attachment for %q: %w", c.Config.ID, err)
			}
		}
	}

	for _, n := range networks {
		builtin := 0
		if n.IsBuiltin() {
			builtin = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO networks (id, ipv4_subnet, is_builtin) VALUES (?, ?, ?)`,
			n.ID, n.IPv4Subnet, builtin,
		); err != nil {
			return fmt.Errorf("index: inserting network %q: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: committing rebuild: %w", err)
	}
	return nil
}

// ContainersByLabel returns container ids carrying the given label key/value.
func (idx *Index) ContainersByLabel(ctx context.Context, key, value string) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT container_id FROM container_labels WHERE key = ? AND value = ? ORDER BY container_id`, key, value)
	if err != nil {
		return nil, fmt.Errorf("index: querying containers by label: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("index: scanning container id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ContainerByHostname returns the id of the container attached under
// hostname on networkID, or "" if none matches.
func (idx *Index) ContainerByHostname(ctx context.Context, networkID, hostname string) (string, error) {
	var id string
	err := idx.db.QueryRowContext(ctx,
		`SELECT container_id FROM container_networks WHERE network_id = ? AND hostname = ?`, networkID, hostname,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: querying container by hostname: %w", err)
	}
	return id, nil
}

// NetworksInUse returns the distinct set of network ids referenced by any
// indexed container. Networks.Delete does not consult it; its "in use"
// check scans the container list directly.
func (idx *Index) NetworksInUse(ctx context.Context) (map[string]bool, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT DISTINCT network_id FROM container_networks`)
	if err != nil {
		return nil, fmt.Errorf("index: querying networks in use: %w", err)
	}
	defer rows.Close()

	inUse := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("index: scanning network id: %w", err)
		}
		inUse[id] = true
	}
	return inUse, rows.Err()
}
