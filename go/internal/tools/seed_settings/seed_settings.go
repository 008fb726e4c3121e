package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/chatplays/go/internal/dbconfig"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/settings"
)

type counts struct {
	total    int
	inserted int
	skipped  int
	errs     int
}

func (c *counts) record(affected int64, err error, what string) {
	c.total++
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inserting %s: %v\n", what, err)
		c.errs++
		return
	}
	if affected == 1 {
		c.inserted++
	} else {
		c.skipped++
	}
}

func main() {
	path := "go/internal/assets/settings.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	ctx := context.Background()

	// 1) Load and validate the YAML snapshot
	s, err := settings.NewFileStore(path).Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, settings.Schema()); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert rows that are not there yet; existing rows win
	var boundaries, sources, members counts

	for name, b := range s.Boundaries {
		tag, err := pool.Exec(ctx, `
            INSERT INTO overlay_boundaries (name, left_edge, top_edge, right_edge, bottom_edge)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (name) DO NOTHING
        `, name, b.Left, b.Top, b.Right, b.Bottom)
		boundaries.record(tag.RowsAffected(), err, "boundary "+name)
	}

	for key, src := range s.Sources {
		var info []byte
		if src.Info != (models.InfoCard{}) {
			info, err = json.Marshal(src.Info.Truncated())
			if err != nil {
				sources.record(0, err, "source "+key)
				continue
			}
		}
		tag, err := pool.Exec(ctx, `
            INSERT INTO overlay_sources (source_id, boundary, permission, movable, info)
            VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5::jsonb)
            ON CONFLICT (source_id) DO NOTHING
        `, key, src.Boundary, src.Permission, src.Movable, nullableJSON(info))
		sources.record(tag.RowsAffected(), err, "source "+key)
	}

	for set, list := range s.PermissionSets {
		for i, member := range list {
			tag, err := pool.Exec(ctx, `
                INSERT INTO overlay_permission_members (set_name, member, position)
                VALUES ($1, $2, $3)
                ON CONFLICT (set_name, member) DO NOTHING
            `, set, member, i)
			members.record(tag.RowsAffected(), err, "member "+member+" of "+set)
		}
	}

	// 4) Print summary
	for _, line := range []struct {
		name string
		c    counts
	}{
		{"Boundaries", boundaries},
		{"Sources", sources},
		{"Permission members", members},
	} {
		fmt.Printf(
			"%s seed complete: %d total, %d inserted, %d skipped, %d errors\n",
			line.name, line.c.total, line.c.inserted, line.c.skipped, line.c.errs,
		)
	}
}

func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
