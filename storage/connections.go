package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"parley/bridge"
)

// ConnectionStorage persists LLM and MCP connection records. API keys never
// touch these tables; they live in the credential store.
type ConnectionStorage struct {
	db *sql.DB
}

func NewConnectionStorage(dataDir string) (*ConnectionStorage, error) {
	dbPath := filepath.Join(dataDir, "connections.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &ConnectionStorage{db: db}

	if err := storage.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

func (cs *ConnectionStorage) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_connections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		provider TEXT NOT NULL,
		models TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS mcp_connections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		url TEXT,
		command TEXT,
		args TEXT,
		headers TEXT,
		env TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_llm_connections_name ON llm_connections(name);
	CREATE INDEX IF NOT EXISTS idx_mcp_connections_name ON mcp_connections(name);
	`

	_, err := cs.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migration for databases created before later columns existed
	if err := cs.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds missing columns to existing databases
func (cs *ConnectionStorage) migrateSchema() error {
	hasRuntimePath, err := cs.columnExists("mcp_connections", "runtime_path")
	if err != nil {
		return fmt.Errorf("failed to check for runtime_path column: %w", err)
	}

	switch {
	case !hasRuntimePath:
		_, err := cs.db.Exec(`ALTER TABLE mcp_connections ADD COLUMN runtime_path TEXT DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add runtime_path column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (cs *ConnectionStorage) columnExists(tableName, columnName string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := cs.db.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk)
		if err != nil {
			return false, err
		}

		switch {
		case name == columnName:
			return true, nil
		}
	}

	return false, rows.Err()
}

// ===== LLM Connections =====

func (cs *ConnectionStorage) SaveLLM(conn bridge.LLMConnection) error {
	models, err := json.Marshal(conn.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}

	now := time.Now()
	query := `
	INSERT INTO llm_connections (id, name, base_url, provider, models, enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		base_url = excluded.base_url,
		provider = excluded.provider,
		models = excluded.models,
		enabled = excluded.enabled,
		updated_at = excluded.updated_at
	`

	_, err = cs.db.Exec(query,
		conn.ID,
		conn.Name,
		conn.BaseURL,
		conn.Provider,
		string(models),
		boolToInt(conn.Enabled),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save llm connection: %w", err)
	}

	return nil
}

func (cs *ConnectionStorage) LoadLLM(id string) (*bridge.LLMConnection, error) {
	query := `
	SELECT id, name, base_url, provider, models, enabled
	FROM llm_connections
	WHERE id = ?
	`

	var conn bridge.LLMConnection
	var models string
	var enabled int
	err := cs.db.QueryRow(query, id).Scan(
		&conn.ID,
		&conn.Name,
		&conn.BaseURL,
		&conn.Provider,
		&models,
		&enabled,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if models != "" {
		if err := json.Unmarshal([]byte(models), &conn.Models); err != nil {
			return nil, fmt.Errorf("failed to unmarshal models: %w", err)
		}
	}
	conn.Enabled = enabled != 0

	return &conn, nil
}

func (cs *ConnectionStorage) ListLLM() ([]bridge.LLMConnection, error) {
	query := `
	SELECT id, name, base_url, provider, models, enabled
	FROM llm_connections
	ORDER BY created_at ASC
	`

	rows, err := cs.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []bridge.LLMConnection
	for rows.Next() {
		var conn bridge.LLMConnection
		var models string
		var enabled int
		err := rows.Scan(
			&conn.ID,
			&conn.Name,
			&conn.BaseURL,
			&conn.Provider,
			&models,
			&enabled,
		)
		if err != nil {
			continue
		}

		if models != "" {
			_ = json.Unmarshal([]byte(models), &conn.Models)
		}
		conn.Enabled = enabled != 0
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

func (cs *ConnectionStorage) DeleteLLM(id string) error {
	_, err := cs.db.Exec(`DELETE FROM llm_connections WHERE id = ?`, id)
	return err
}

// ===== MCP Connections =====

func (cs *ConnectionStorage) SaveMCP(conn bridge.MCPConnection) error {
	args, err := json.Marshal(conn.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	headers, err := json.Marshal(conn.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	env, err := json.Marshal(conn.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal env: %w", err)
	}

	now := time.Now()
	query := `
	INSERT INTO mcp_connections (id, name, type, url, command, args, headers, env, runtime_path, enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		type = excluded.type,
		url = excluded.url,
		command = excluded.command,
		args = excluded.args,
		headers = excluded.headers,
		env = excluded.env,
		runtime_path = excluded.runtime_path,
		enabled = excluded.enabled,
		updated_at = excluded.updated_at
	`

	_, err = cs.db.Exec(query,
		conn.ID,
		conn.Name,
		conn.Type,
		conn.URL,
		conn.Command,
		string(args),
		string(headers),
		string(env),
		conn.RuntimePath,
		boolToInt(conn.Enabled),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save mcp connection: %w", err)
	}

	return nil
}

func (cs *ConnectionStorage) LoadMCP(id string) (*bridge.MCPConnection, error) {
	query := `
	SELECT id, name, type, url, command, args, headers, env, runtime_path, enabled
	FROM mcp_connections
	WHERE id = ?
	`

	var conn bridge.MCPConnection
	var args, headers, env string
	var enabled int
	err := cs.db.QueryRow(query, id).Scan(
		&conn.ID,
		&conn.Name,
		&conn.Type,
		&conn.URL,
		&conn.Command,
		&args,
		&headers,
		&env,
		&conn.RuntimePath,
		&enabled,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := decodeMCPColumns(&conn, args, headers, env); err != nil {
		return nil, err
	}
	conn.Enabled = enabled != 0

	return &conn, nil
}

func (cs *ConnectionStorage) ListMCP() ([]bridge.MCPConnection, error) {
	query := `
	SELECT id, name, type, url, command, args, headers, env, runtime_path, enabled
	FROM mcp_connections
	ORDER BY created_at ASC
	`

	rows, err := cs.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []bridge.MCPConnection
	for rows.Next() {
		var conn bridge.MCPConnection
		var args, headers, env string
		var enabled int
		err := rows.Scan(
			&conn.ID,
			&conn.Name,
			&conn.Type,
			&conn.URL,
			&conn.Command,
			&args,
			&headers,
			&env,
			&conn.RuntimePath,
			&enabled,
		)
		if err != nil {
			continue
		}

		if err := decodeMCPColumns(&conn, args, headers, env); err != nil {
			continue
		}
		conn.Enabled = enabled != 0
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

func (cs *ConnectionStorage) DeleteMCP(id string) error {
	_, err := cs.db.Exec(`DELETE FROM mcp_connections WHERE id = ?`, id)
	return err
}

func (cs *ConnectionStorage) Close() error {
	if cs.db != nil {
		return cs.db.Close()
	}
	return nil
}

func decodeMCPColumns(conn *bridge.MCPConnection, args, headers, env string) error {
	if args != "" {
		if err := json.Unmarshal([]byte(args), &conn.Args); err != nil {
			return fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &conn.Headers); err != nil {
			return fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &conn.Env); err != nil {
			return fmt.Errorf("failed to unmarshal env: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
