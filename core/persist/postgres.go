package persist

import (
	"database/sql"
	"sync"
	"time"

	"github.com/goccy/go-json"

	// postgres driver
	_ "github.com/lib/pq"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

// PostgresAdapter persists each collection as one JSON document row. It is
// deliberately not a SQL query surface: the store remains the query
// engine, postgres only provides durability across processes.
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	mu     sync.Mutex
	datasetCRUD
}

// NewPostgresAdapter connects and creates the backing tables if they do
// not exist.
func NewPostgresAdapter(connectionString, schema string) (*PostgresAdapter, error) {
	if schema == "" {
		schema = "pretendo"
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "cannot open postgres connection")
	}
	p := &PostgresAdapter{db: db, schema: schema}
	p.datasetCRUD = datasetCRUD{mu: &p.mu, load: p.Load, save: p.saveLocked}
	_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `";` +
		`CREATE table IF NOT EXISTS "` + schema + `"."collection" ` +
		`(name varchar NOT NULL PRIMARY KEY, data json NOT NULL, timestamp timestamp NOT NULL DEFAULT now());` +
		`CREATE table IF NOT EXISTS "` + schema + `"."backup" ` +
		`(backup_id varchar NOT NULL PRIMARY KEY, data json NOT NULL, timestamp timestamp NOT NULL DEFAULT now());`)
	if err != nil {
		db.Close()
		return nil, apierror.Wrap(apierror.KindIO, err, "cannot create postgres tables")
	}
	return p, nil
}

// Initialize seeds the tables when they are empty.
func (p *PostgresAdapter) Initialize(initial map[string][]core.Record) error {
	data, err := p.Load()
	if err != nil {
		return err
	}
	if len(data) > 0 || initial == nil {
		return nil
	}
	return p.Save(initial)
}

// Load reads every collection row.
func (p *PostgresAdapter) Load() (map[string][]core.Record, error) {
	rows, err := p.db.Query(`SELECT name, data FROM "` + p.schema + `"."collection";`)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "cannot load collections")
	}
	defer rows.Close()
	data := map[string][]core.Record{}
	for rows.Next() {
		var name string
		var raw json.RawMessage
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, apierror.Wrap(apierror.KindIO, err, "cannot scan collection row")
		}
		var records []core.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, apierror.Wrap(apierror.KindIO, err, "collection %q holds invalid JSON", name)
		}
		data[name] = records
	}
	return data, rows.Err()
}

// Save upserts every collection row and removes rows for collections that
// no longer exist, in one transaction.
func (p *PostgresAdapter) Save(data map[string][]core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(data)
}

func (p *PostgresAdapter) saveLocked(data map[string][]core.Record) error {
	tx, err := p.db.Begin()
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot begin save transaction")
	}
	if _, err := tx.Exec(`DELETE FROM "` + p.schema + `"."collection";`); err != nil {
		tx.Rollback()
		return apierror.Wrap(apierror.KindIO, err, "cannot clear collections")
	}
	now := time.Now().UTC()
	for name, records := range data {
		raw, err := json.Marshal(records)
		if err != nil {
			tx.Rollback()
			return apierror.Wrap(apierror.KindIO, err, "cannot serialize collection %q", name)
		}
		_, err = tx.Exec(`INSERT INTO "`+p.schema+`"."collection"(name,data,timestamp) VALUES($1,$2,$3);`,
			name, string(raw), now)
		if err != nil {
			tx.Rollback()
			return apierror.Wrap(apierror.KindIO, err, "cannot save collection %q", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot commit save transaction")
	}
	return nil
}

// Backup snapshots the whole dataset into the backup table.
func (p *PostgresAdapter) Backup(label string) (string, error) {
	data, err := p.Load()
	if err != nil {
		return "", err
	}
	if label == "" {
		label = "backup-" + time.Now().UTC().Format("20060102-150405.000")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", apierror.Wrap(apierror.KindIO, err, "cannot serialize backup")
	}
	_, err = p.db.Exec(`INSERT INTO "`+p.schema+`"."backup"(backup_id,data,timestamp) VALUES($1,$2,$3)
ON CONFLICT (backup_id) DO UPDATE SET data=$2,timestamp=$3;`,
		label, string(raw), time.Now().UTC())
	if err != nil {
		return "", apierror.Wrap(apierror.KindIO, err, "cannot store backup %q", label)
	}
	return label, nil
}

// Restore replaces the dataset with the identified backup.
func (p *PostgresAdapter) Restore(id string) (map[string][]core.Record, error) {
	var raw json.RawMessage
	err := p.db.QueryRow(`SELECT data FROM "`+p.schema+`"."backup" WHERE backup_id=$1;`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apierror.New(apierror.KindNotFound, "no such backup %q", id)
	}
	if err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "cannot read backup %q", id)
	}
	data := map[string][]core.Record{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "backup %q holds invalid JSON", id)
	}
	if err := p.Save(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Reset clears all collections.
func (p *PostgresAdapter) Reset() error {
	_, err := p.db.Exec(`DELETE FROM "` + p.schema + `"."collection";`)
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot reset collections")
	}
	return nil
}

// GetStats reports row counts and timestamps per collection.
func (p *PostgresAdapter) GetStats() map[string]Stats {
	out := map[string]Stats{}
	rows, err := p.db.Query(`SELECT name, data, timestamp FROM "` + p.schema + `"."collection";`)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var raw json.RawMessage
		var ts time.Time
		if rows.Scan(&name, &raw, &ts) != nil {
			continue
		}
		var records []core.Record
		json.Unmarshal(raw, &records)
		out[name] = Stats{Count: len(records), LastModified: ts.UnixMilli()}
	}
	return out
}

// Close closes the database connection.
func (p *PostgresAdapter) Close() error { return p.db.Close() }
