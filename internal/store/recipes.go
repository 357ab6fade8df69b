// Package store persists generated recipes in SQLite via database/sql.
// Recipe identifiers are opaque strings assigned by the persistence stage;
// they are stored and matched as TEXT and never pass through a numeric type.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mealsmith/api/internal/model"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS recipes (
	id           TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	ingredients  TEXT NOT NULL DEFAULT '[]',
	instructions TEXT NOT NULL DEFAULT '[]',
	calories     REAL NOT NULL DEFAULT 0,
	protein      REAL NOT NULL DEFAULT 0,
	carbs        REAL NOT NULL DEFAULT 0,
	fat          REAL NOT NULL DEFAULT 0,
	image_url    TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recipes_batch ON recipes(batch_id);
`

// RecipeStore is the SQLite-backed recipe repository.
type RecipeStore struct {
	db *sql.DB
}

// NewRecipeStore opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for an ephemeral store.
func NewRecipeStore(path string) (*RecipeStore, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serialize access through a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &RecipeStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *RecipeStore) Close() error {
	return s.db.Close()
}

const insertSQL = `
INSERT INTO recipes (id, batch_id, name, description, ingredients, instructions,
	calories, protein, carbs, fat, image_url, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBatch writes all recipes in one transaction. A failure rolls back
// every row in this call and only this call; other batches are unaffected.
func (s *RecipeStore) InsertBatch(ctx context.Context, recipes []model.SavedRecipe) error {
	if len(recipes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recipes {
		if err := execInsert(ctx, stmt, r); err != nil {
			return fmt.Errorf("failed to insert recipe %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// InsertOne writes a single recipe outside any transaction. Used by the
// persistence orchestrator's best-effort fallback mode.
func (s *RecipeStore) InsertOne(ctx context.Context, recipe model.SavedRecipe) error {
	stmt, err := s.db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	if err := execInsert(ctx, stmt, recipe); err != nil {
		return fmt.Errorf("failed to insert recipe %s: %w", recipe.ID, err)
	}
	return nil
}

func execInsert(ctx context.Context, stmt *sql.Stmt, r model.SavedRecipe) error {
	ingredients, err := json.Marshal(r.Ingredients)
	if err != nil {
		return err
	}
	instructions, err := json.Marshal(r.Instructions)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		r.ID, r.BatchID, r.Name, r.Description,
		string(ingredients), string(instructions),
		r.Nutrition.Calories, r.Nutrition.Protein, r.Nutrition.Carbs, r.Nutrition.Fat,
		r.ImageURL, r.CreatedAt,
	)
	return err
}

// LinkImage sets the image URL on exactly one recipe, matched by its opaque
// id. Matching is string equality; ids are never interpreted numerically.
func (s *RecipeStore) LinkImage(ctx context.Context, id, imageURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipes SET image_url = ? WHERE id = ?`, imageURL, id)
	if err != nil {
		return fmt.Errorf("failed to link image for recipe %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("recipe %s not found", id)
	}
	return nil
}

// GetByID reads one recipe by its opaque id.
func (s *RecipeStore) GetByID(ctx context.Context, id string) (*model.SavedRecipe, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, name, description, ingredients, instructions,
			calories, protein, carbs, fat, image_url, created_at
		FROM recipes WHERE id = ?`, id)

	var (
		r            model.SavedRecipe
		ingredients  string
		instructions string
		imageURL     sql.NullString
		createdAt    time.Time
	)
	err := row.Scan(&r.ID, &r.BatchID, &r.Name, &r.Description, &ingredients,
		&instructions, &r.Nutrition.Calories, &r.Nutrition.Protein,
		&r.Nutrition.Carbs, &r.Nutrition.Fat, &imageURL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipe %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ingredients), &r.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to decode ingredients for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(instructions), &r.Instructions); err != nil {
		return nil, fmt.Errorf("failed to decode instructions for %s: %w", id, err)
	}
	if imageURL.Valid {
		r.ImageURL = &imageURL.String
	}
	r.CreatedAt = createdAt
	return &r, nil
}

// CountByBatch returns how many recipes a batch has persisted.
func (s *RecipeStore) CountByBatch(ctx context.Context, batchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipes WHERE batch_id = ?`, batchID).Scan(&n)
	return n, err
}
