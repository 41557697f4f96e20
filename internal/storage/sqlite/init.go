package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		mod_id INTEGER NOT NULL,
		file_id INTEGER NOT NULL,
		file_path TEXT,
		size INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		finished_at DATETIME,
		UNIQUE (mod_id, file_id)
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
