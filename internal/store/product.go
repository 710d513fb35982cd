package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jjudge-oj/marketplace/types"
)

// ProductQuery selects one page of the catalog.
type ProductQuery struct {
	// Search is matched case-insensitively as a substring of the name.
	// Empty matches everything.
	Search string
	// RequesterID owns the products that sort first.
	RequesterID int
	Offset      int
	Limit       int
}

// ProductRepository handles persistence for products and their likes.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns the matching products, the requester's own listings first
// and insertion order otherwise, together with the total match count.
func (r *ProductRepository) List(ctx context.Context, q ProductQuery) ([]types.ProductSummary, int, error) {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit < 1 {
		q.Limit = 6
	}
	pattern := likePattern(q.Search)

	const countQuery = `SELECT COUNT(1) FROM products WHERE name ILIKE $1 ESCAPE '\'`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT p.id, p.owner_id, p.name, p.price, p.image_ref, p.created_at, p.updated_at,
		       (SELECT COUNT(1) FROM product_likes l WHERE l.product_id = p.id) AS like_count,
		       EXISTS (SELECT 1 FROM product_likes l WHERE l.product_id = p.id AND l.user_id = $2) AS liked
		FROM products p
		WHERE p.name ILIKE $1 ESCAPE '\'
		ORDER BY (p.owner_id = $2) DESC, p.id
		OFFSET $3 LIMIT $4`
	rows, err := r.db.QueryContext(ctx, listQuery, pattern, q.RequesterID, q.Offset, q.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]types.ProductSummary, 0, q.Limit)
	for rows.Next() {
		var item types.ProductSummary
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Name,
			&item.Price,
			&item.ImageRef,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.LikeCount,
			&item.LikedByMe,
		); err != nil {
			return nil, 0, err
		}
		item.OwnedByMe = item.OwnerID == q.RequesterID
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (r *ProductRepository) Get(ctx context.Context, id int) (types.Product, error) {
	const query = `
		SELECT id, owner_id, name, price, image_ref, created_at, updated_at
		FROM products
		WHERE id = $1`
	var product types.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.OwnerID,
		&product.Name,
		&product.Price,
		&product.ImageRef,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	const query = `
		INSERT INTO products (owner_id, name, price, image_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		product.OwnerID,
		product.Name,
		product.Price,
		product.ImageRef,
		product.CreatedAt,
		product.UpdatedAt,
	).Scan(&product.ID); err != nil {
		if isForeignKeyViolation(err) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

// Update overwrites name, price and image reference. Ownership is not
// changed.
func (r *ProductRepository) Update(ctx context.Context, product types.Product) (types.Product, error) {
	product.UpdatedAt = time.Now()

	const query = `
		UPDATE products
		SET name = $1,
			price = $2,
			image_ref = $3,
			updated_at = $4
		WHERE id = $5`
	result, err := r.db.ExecContext(
		ctx,
		query,
		product.Name,
		product.Price,
		product.ImageRef,
		product.UpdatedAt,
		product.ID,
	)
	if err != nil {
		return types.Product{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Product{}, err
	}
	if affected == 0 {
		return types.Product{}, ErrNotFound
	}
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM products WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleLike flips userID's membership in the product's like-set and
// reports whether the user now likes it.
func (r *ProductRepository) ToggleLike(ctx context.Context, productID, userID int) (liked bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const existsQuery = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
	var exists bool
	if err = tx.QueryRowContext(ctx, existsQuery, productID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}

	const deleteQuery = `DELETE FROM product_likes WHERE product_id = $1 AND user_id = $2`
	result, err := tx.ExecContext(ctx, deleteQuery, productID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected == 0 {
		const insertQuery = `
			INSERT INTO product_likes (product_id, user_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`
		if _, err = tx.ExecContext(ctx, insertQuery, productID, userID, time.Now()); err != nil {
			if isForeignKeyViolation(err) {
				return false, ErrNotFound
			}
			return false, err
		}
		liked = true
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return liked, nil
}

// Likes loads the like-set of a product.
func (r *ProductRepository) Likes(ctx context.Context, productID int) (types.LikeSet, error) {
	const query = `SELECT user_id FROM product_likes WHERE product_id = $1`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	likes := types.NewLikeSet()
	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		likes[userID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return likes, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(search)) + "%"
}
