package settings

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps settings in three tables. Changes made by any writer
// raise a notification on NotifyChannel.
type PostgresStore struct {
	db *sql.DB
}

const NotifyChannel = "overlay_settings_changed"

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schemaSQL
}

// Migrate creates the tables and change triggers if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply settings schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (*Settings, error) {
	s := New()

	rows, err := p.db.QueryContext(ctx, `
		SELECT name, left_edge, top_edge, right_edge, bottom_edge
		FROM overlay_boundaries`)
	if err != nil {
		return nil, fmt.Errorf("failed to query boundaries: %w", err)
	}
	for rows.Next() {
		var name string
		var b models.Boundary
		if err := rows.Scan(&name, &b.Left, &b.Top, &b.Right, &b.Bottom); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan boundary: %w", err)
		}
		s.Boundaries[name] = b
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read boundaries: %w", err)
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT source_id, boundary, permission, movable, info
		FROM overlay_sources`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	for rows.Next() {
		var (
			key        string
			boundary   sql.NullString
			permission sql.NullString
			src        SourceSettings
			info       pqtype.NullRawMessage
		)
		if err := rows.Scan(&key, &boundary, &permission, &src.Movable, &info); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Boundary = sqlutil.FromSqlString(boundary, "")
		src.Permission = sqlutil.FromSqlString(permission, "")
		if info.Valid {
			if err := json.Unmarshal(info.RawMessage, &src.Info); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode info card for source %s: %w", key, err)
			}
		}
		s.Sources[key] = src
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT set_name, member
		FROM overlay_permission_members
		ORDER BY set_name, position, member`)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission members: %w", err)
	}
	for rows.Next() {
		var set, member string
		if err := rows.Scan(&set, &member); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan permission member: %w", err)
		}
		s.PermissionSets[set] = append(s.PermissionSets[set], member)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read permission members: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in database: %w", err)
	}
	return s, nil
}

// Save replaces the stored settings in one transaction.
func (p *PostgresStore) Save(ctx context.Context, s *Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid settings: %w", err)
	}

	return sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		for _, table := range []string{"overlay_boundaries", "overlay_sources", "overlay_permission_members"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for name, b := range s.Boundaries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO overlay_boundaries (name, left_edge, top_edge, right_edge, bottom_edge)
				VALUES ($1, $2, $3, $4, $5)`,
				name, b.Left, b.Top, b.Right, b.Bottom,
			); err != nil {
				return fmt.Errorf("failed to insert boundary %s: %w", name, err)
			}
		}

		for key, src := range s.Sources {
			info := pqtype.NullRawMessage{}
			if src.Info != (models.InfoCard{}) {
				raw, err := json.Marshal(src.Info.Truncated())
				if err != nil {
					return fmt.Errorf("failed to encode info card for source %s: %w", key, err)
				}
				info = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO overlay_sources (source_id, boundary, permission, movable, info)
				VALUES ($1, $2, $3, $4, $5)`,
				key, sqlutil.NullableString(src.Boundary), sqlutil.NullableString(src.Permission), src.Movable, info,
			); err != nil {
				return fmt.Errorf("failed to insert source %s: %w", key, err)
			}
		}

		for set, members := range s.PermissionSets {
			for i, member := range members {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO overlay_permission_members (set_name, member, position)
					VALUES ($1, $2, $3)
					ON CONFLICT (set_name, member) DO NOTHING`,
					set, member, i,
				); err != nil {
					return fmt.Errorf("failed to insert member of %s: %w", set, err)
				}
			}
		}
		return nil
	})
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
