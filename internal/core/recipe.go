package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Ingredient is a raw/component item a Recipe consumes; grounded on
// original_source's inventory::recipe module. It shares the stock record
// tagged union via Target so a composed product's "bill of materials" can
// be decremented through the same stock-writer surface as any other item.
type Ingredient struct {
	ID     string
	Target Target
	Name   string
}

// RecipeLine consumes Quantity of Target per one unit of the owning
// product/variant produced; Substitutes lists alternative targets usable
// when the primary ingredient is unavailable. CreateRecipe does not persist
// Substitutes and GetActiveRecipe does not load them.
type RecipeLine struct {
	ID          string
	RecipeID    string
	Target      Target
	Quantity    decimal.Decimal
	Substitutes []Target
}

// Recipe composes a product/variant from ingredient lines. Only one active
// recipe is allowed per product/variant (spec's original_source
// ActiveRecipeExists constraint).
type Recipe struct {
	ID       string
	Target   Target
	IsActive bool
	Lines    []RecipeLine
}

type RecipeService interface {
	CreateRecipe(ctx context.Context, target Target, lines []RecipeLine) (*Recipe, error)
	GetActiveRecipe(ctx context.Context, target Target) (*Recipe, error)
	Deactivate(ctx context.Context, recipeID string) error
}

type recipeService struct {
	pool *pgxpool.Pool
}

func NewRecipeService(pool *pgxpool.Pool) RecipeService {
	return &recipeService{pool: pool}
}

func (s *recipeService) CreateRecipe(ctx context.Context, target Target, lines []RecipeLine) (*Recipe, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	existing, err := s.GetActiveRecipe(ctx, target)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, newErr("ActiveRecipeExists", CategoryConflict, "an active recipe already exists for this product/variant")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ErrInfra("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	r := &Recipe{ID: newID(), Target: target, IsActive: true}
	_, err = tx.Exec(ctx, `INSERT INTO recipes (id, product_id, variant_id, is_active) VALUES ($1, $2, $3, true)`, r.ID, target.ProductID, target.VariantID)
	if err != nil {
		return nil, ErrInfra("failed to insert recipe", err)
	}
	for i := range lines {
		lines[i].ID = newID()
		lines[i].RecipeID = r.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO recipe_lines (id, recipe_id, product_id, variant_id, quantity)
			VALUES ($1, $2, $3, $4, $5)
		`, lines[i].ID, r.ID, lines[i].Target.ProductID, lines[i].Target.VariantID, lines[i].Quantity)
		if err != nil {
			return nil, ErrInfra("failed to insert recipe line", err)
		}
	}
	r.Lines = lines
	if err := tx.Commit(ctx); err != nil {
		return nil, ErrInfra("failed to commit transaction", err)
	}
	return r, nil
}

func (s *recipeService) GetActiveRecipe(ctx context.Context, target Target) (*Recipe, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	var r Recipe
	err := s.pool.QueryRow(ctx, `
		SELECT id, product_id, variant_id, is_active FROM recipes
		WHERE product_id IS NOT DISTINCT FROM $1 AND variant_id IS NOT DISTINCT FROM $2 AND is_active = true
	`, target.ProductID, target.VariantID).Scan(&r.ID, &r.Target.ProductID, &r.Target.VariantID, &r.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("Recipe", "")
		}
		return nil, ErrInfra("failed to fetch recipe", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT id, recipe_id, product_id, variant_id, quantity FROM recipe_lines WHERE recipe_id = $1`, r.ID)
	if err != nil {
		return nil, ErrInfra("failed to query recipe lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l RecipeLine
		if err := rows.Scan(&l.ID, &l.RecipeID, &l.Target.ProductID, &l.Target.VariantID, &l.Quantity); err != nil {
			return nil, ErrInfra("failed to scan recipe line", err)
		}
		r.Lines = append(r.Lines, l)
	}
	return &r, nil
}

func (s *recipeService) Deactivate(ctx context.Context, recipeID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE recipes SET is_active = false WHERE id = $1`, recipeID)
	if err != nil {
		return ErrInfra("failed to deactivate recipe", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("Recipe", recipeID)
	}
	return nil
}

func isNotFound(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category == CategoryNotFound
	}
	return false
}
