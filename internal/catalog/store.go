// store.go — the Catalog Store Adapter.
//
// Reads the authoritative deployment set from the relational control-plane
// database, joined with function metadata, and flattens it into one entry
// per hostname. The relationship is many-hostnames-to-one-deployment, so
// Snapshot builds the whole map in one pass rather than loading lazily per
// Host.
package catalog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store wraps the control-plane database connection used to build startup
// snapshots of the deployment catalog.
type Store struct {
	db *sqlx.DB
}

// NewStore returns a Store backed by db. The caller owns db's lifecycle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type deploymentRow struct {
	ID          string `db:"id"`
	FunctionID  string `db:"function_id"`
	MemoryLimit int64  `db:"memory_limit"`
	Timeout     int64  `db:"timeout"`
	CodeKey     string `db:"code_key"`
}

type hostnameRow struct {
	DeploymentID string `db:"deployment_id"`
	Hostname     string `db:"hostname"`
}

type assetRow struct {
	DeploymentID string `db:"deployment_id"`
	Path         string `db:"path"`
}

type envRow struct {
	DeploymentID string `db:"deployment_id"`
	Key          string `db:"env_key"`
	Value        string `db:"env_value"`
}

// Snapshot loads every deployment joined with its function, hostnames,
// assets, and environment variables, and returns a map keyed by hostname so
// every hostname is its own entry pointing at the same *Deployment. Any
// I/O or schema failure is wrapped in *CatalogLoadError.
func (s *Store) Snapshot(ctx context.Context) (map[string]*Deployment, error) {
	const deploymentsQuery = `
		SELECT d.id, d.function_id, d.memory_limit, d.timeout, d.code_key
		FROM   deployment d
		JOIN   function f ON f.id = d.function_id`

	var deployRows []deploymentRow
	if err := s.db.SelectContext(ctx, &deployRows, deploymentsQuery); err != nil {
		return nil, &CatalogLoadError{Err: fmt.Errorf("select deployment: %w", err)}
	}

	byID := make(map[string]*Deployment, len(deployRows))
	for _, r := range deployRows {
		byID[r.ID] = &Deployment{
			ID:              r.ID,
			FunctionID:      r.FunctionID,
			Assets:          make(map[string]struct{}),
			EnvironmentVars: make(map[string]string),
			MemoryLimit:     r.MemoryLimit,
			Timeout:         r.Timeout,
			CodeKey:         r.CodeKey,
		}
	}

	var hostRows []hostnameRow
	if err := s.db.SelectContext(ctx, &hostRows,
		`SELECT deployment_id, hostname FROM deployment_hostname`); err != nil {
		return nil, &CatalogLoadError{Err: fmt.Errorf("select deployment_hostname: %w", err)}
	}

	var assetRows []assetRow
	if err := s.db.SelectContext(ctx, &assetRows,
		`SELECT deployment_id, path FROM deployment_asset`); err != nil {
		return nil, &CatalogLoadError{Err: fmt.Errorf("select deployment_asset: %w", err)}
	}

	var envRows []envRow
	if err := s.db.SelectContext(ctx, &envRows,
		`SELECT deployment_id, env_key, env_value FROM deployment_env`); err != nil {
		return nil, &CatalogLoadError{Err: fmt.Errorf("select deployment_env: %w", err)}
	}

	for _, r := range assetRows {
		if d, ok := byID[r.DeploymentID]; ok {
			d.Assets[r.Path] = struct{}{}
		}
	}
	for _, r := range envRows {
		if d, ok := byID[r.DeploymentID]; ok {
			d.EnvironmentVars[r.Key] = r.Value
		}
	}

	byHost := make(map[string]*Deployment, len(hostRows))
	for _, r := range hostRows {
		d, ok := byID[r.DeploymentID]
		if !ok {
			continue // orphaned hostname row; skip rather than fail the whole snapshot
		}
		d.Hostnames = append(d.Hostnames, r.Hostname)
		byHost[r.Hostname] = d
	}

	return byHost, nil
}
