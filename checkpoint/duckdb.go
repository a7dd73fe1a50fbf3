package checkpoint

import (
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDBStore keeps the loader state in a `_loader_state` table inside a
// DuckDB catalog, keyed by service name, so the state lives next to the
// analytical tables that consume the loads.
type DuckDBStore struct {
	db          *sql.DB
	serviceName string
}

// NewDuckDBStore opens (or creates) the DuckDB database at path and ensures
// the state table exists.
func NewDuckDBStore(path, serviceName string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS _loader_state (
			service_name VARCHAR PRIMARY KEY,
			last_loaded_timestamp VARCHAR NOT NULL,
			scd2_mode BOOLEAN NOT NULL,
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	return &DuckDBStore{db: db, serviceName: serviceName}, nil
}

// Load retrieves the state row for this service. No row means fresh start.
func (s *DuckDBStore) Load() (*State, error) {
	var st State
	err := s.db.QueryRow(`
		SELECT last_loaded_timestamp, scd2_mode
		FROM _loader_state
		WHERE service_name = ?
	`, s.serviceName).Scan(&st.LastLoadedTimestamp, &st.SCD2Mode)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	return &st, nil
}

// Save upserts the state row for this service.
func (s *DuckDBStore) Save(st *State) error {
	_, err := s.db.Exec(`
		INSERT INTO _loader_state (service_name, last_loaded_timestamp, scd2_mode)
		VALUES (?, ?, ?)
		ON CONFLICT (service_name) DO UPDATE SET
			last_loaded_timestamp = EXCLUDED.last_loaded_timestamp,
			scd2_mode = EXCLUDED.scd2_mode,
			last_updated = now()
	`, s.serviceName, st.LastLoadedTimestamp, st.SCD2Mode)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Close releases the DuckDB connection.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
