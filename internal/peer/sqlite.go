package peer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore is a Store backed by the peer_snapshots table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save implements Store. One row per node is kept, replaced on every push.
func (r *SQLiteStore) Save(ctx context.Context, s Snapshot) error {
	if s.Node == "" {
		return ErrInvalidSnapshot
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now()
	}

	addrs, err := json.Marshal(nonNilAddrs(s.Addresses))
	if err != nil {
		return fmt.Errorf("marshalling addresses: %w", err)
	}
	objects, err := json.Marshal(s.Objects)
	if err != nil {
		return fmt.Errorf("marshalling objects: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO peer_snapshots (node, addresses, objects, received_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(node) DO UPDATE SET
		   addresses = excluded.addresses,
		   objects = excluded.objects,
		   received_at = excluded.received_at`,
		s.Node,
		string(addrs),
		string(objects),
		s.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving peer snapshot: %w", err)
	}
	return nil
}

// Get implements Store.
func (r *SQLiteStore) Get(ctx context.Context, node string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT node, addresses, objects, received_at
		 FROM peer_snapshots
		 WHERE node = ?`,
		node,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List implements Store.
func (r *SQLiteStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT node, addresses, objects, received_at
		 FROM peer_snapshots
		 ORDER BY node`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying peer snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating peer snapshots: %w", err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*Snapshot, error) {
	var (
		s                        Snapshot
		addrs, objects, received string
	)
	if err := sc.Scan(&s.Node, &addrs, &objects, &received); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning peer snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(addrs), &s.Addresses); err != nil {
		return nil, fmt.Errorf("unmarshalling addresses: %w", err)
	}
	if err := json.Unmarshal([]byte(objects), &s.Objects); err != nil {
		return nil, fmt.Errorf("unmarshalling objects: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, received)
	if err != nil {
		return nil, fmt.Errorf("parsing received_at: %w", err)
	}
	s.ReceivedAt = t
	return &s, nil
}

func nonNilAddrs(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
