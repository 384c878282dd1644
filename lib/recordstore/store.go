package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Open connects to the record database. dsn is either a local sqlite
// file path (created if missing) or a remote libsql:// url.
func Open(dsn string) (*sql.DB, error) {
	if strings.HasPrefix(dsn, "libsql://") {
		return sql.Open("libsql", dsn)
	}

	if dsn != ":memory:" {
		_, statErr := os.Stat(dsn)
		if os.IsNotExist(statErr) {
			f, err := os.Create(dsn)
			if err != nil {
				return nil, err
			}
			f.Close()
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(Schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// keeps ordered collections of json documents. a collection is only
// ever replaced wholesale, never appended to.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Save atomically replaces the contents of a collection with rows,
// preserving their order.
func Save[T any](ctx context.Context, s Store, collection string, rows []T) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "DELETE FROM records WHERE collection = ?", collection)
	if err != nil {
		return err
	}

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO records (collection, idx, data) VALUES (?, ?, ?)",
			collection, i, string(data),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load reads back a collection in saved order. an empty collection
// yields an empty slice, not an error.
func Load[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT data FROM records WHERE collection = ? ORDER BY idx",
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		err := rows.Scan(&data)
		if err != nil {
			return nil, err
		}

		var row T
		err = json.Unmarshal([]byte(data), &row)
		if err != nil {
			slog.WarnContext(ctx, "failed to unmarshal stored record",
				"collection", collection,
				"err", err,
			)
			continue
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
