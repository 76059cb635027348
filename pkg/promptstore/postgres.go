package promptstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Postgres stores the prompt in a single-row table so it survives
// restarts and is shared across gateway replicas.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres migrates the schema, seeds the prompt row if the table
// is empty, and returns a ready store. Migrations run through the
// database/sql pgx adapter; queries use the native pool.
func NewPostgres(ctx context.Context, databaseURL, seed string) (*Postgres, error) {
	if err := migrate(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open prompt store pool: %w", err)
	}

	const seedSQL = `INSERT INTO system_prompt (id, text) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`
	if _, err := pool.Exec(ctx, seedSQL, seed); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seed system prompt: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open prompt store for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run prompt store migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context) (Prompt, error) {
	var out Prompt
	const q = `SELECT text, updated_at FROM system_prompt WHERE id = 1`
	if err := p.pool.QueryRow(ctx, q).Scan(&out.Text, &out.UpdatedAt); err != nil {
		return Prompt{}, fmt.Errorf("load system prompt: %w", err)
	}
	return out, nil
}

func (p *Postgres) Put(ctx context.Context, text string) (Prompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Prompt{}, fmt.Errorf("prompt text is empty")
	}
	var out Prompt
	const q = `UPDATE system_prompt SET text = $1, updated_at = now() WHERE id = 1 RETURNING text, updated_at`
	if err := p.pool.QueryRow(ctx, q, text).Scan(&out.Text, &out.UpdatedAt); err != nil {
		return Prompt{}, fmt.Errorf("update system prompt: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
