package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/storage"
	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/jjudge-oj/marketplace/types"
)

const (
	DefaultPageSize  = 6
	maxNameLength    = 100
	maxPrice         = 9999999999.99
	maxSearchLength  = 100
	defaultImageSide = 300
)

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	List(ctx context.Context, q store.ProductQuery) ([]types.ProductSummary, int, error)
	Get(ctx context.Context, id int) (types.Product, error)
	Create(ctx context.Context, product types.Product) (types.Product, error)
	Update(ctx context.Context, product types.Product) (types.Product, error)
	Delete(ctx context.Context, id int) error
	ToggleLike(ctx context.Context, productID, userID int) (bool, error)
}

// AssetStore is the image storage used by the product service.
type AssetStore interface {
	Store(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
	URLFor(ref string, width, height int) string
}

// ImageUpload is an uploaded product photo.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ProductInput is the raw product form.
type ProductInput struct {
	Name  string
	Price string
	// Image is optional on update; nil keeps the stored photo.
	Image *ImageUpload
}

// ProductService encapsulates catalog use-cases.
type ProductService struct {
	repo             ProductRepository
	assets           AssetStore
	events           *Events
	pageSize         int
	enforceOwnership bool
}

type ProductOption func(*ProductService)

func WithPageSize(size int) ProductOption {
	return func(s *ProductService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithOwnershipEnforced restricts update and delete to the product owner.
func WithOwnershipEnforced(enforce bool) ProductOption {
	return func(s *ProductService) {
		s.enforceOwnership = enforce
	}
}

func WithEvents(events *Events) ProductOption {
	return func(s *ProductService) {
		s.events = events
	}
}

func NewProductService(repo ProductRepository, assets AssetStore, opts ...ProductOption) *ProductService {
	s := &ProductService{
		repo:     repo,
		assets:   assets,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of the catalog as seen by requesterID.
func (s *ProductService) List(ctx context.Context, search string, requesterID, page int) (types.ProductPage, error) {
	if page < 1 {
		page = 1
	}
	search = strings.TrimSpace(search)
	if utf8.RuneCountInString(search) > maxSearchLength {
		search = string([]rune(search)[:maxSearchLength])
	}

	items, total, err := s.repo.List(ctx, store.ProductQuery{
		Search:      search,
		RequesterID: requesterID,
		Offset:      (page - 1) * s.pageSize,
		Limit:       s.pageSize,
	})
	if err != nil {
		return types.ProductPage{}, err
	}

	return types.ProductPage{
		Items:      items,
		Page:       page,
		PageSize:   s.pageSize,
		Total:      total,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
	}, nil
}

// Get loads a product for editing by requesterID.
func (s *ProductService) Get(ctx context.Context, id, requesterID int) (types.Product, error) {
	product, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Product{}, err
	}
	if err := s.authorize(product, requesterID); err != nil {
		return types.Product{}, err
	}
	return product, nil
}

// Create validates the form, uploads the photo and stores the product. A
// failed upload leaves the catalog untouched.
func (s *ProductService) Create(ctx context.Context, ownerID int, in ProductInput) (types.Product, error) {
	name, price, err := validateProduct(in)
	if err != nil {
		return types.Product{}, err
	}
	if in.Image == nil || len(in.Image.Data) == 0 {
		return types.Product{}, invalid("image", "Please choose a photo.")
	}

	ref, err := s.storeImage(ctx, in.Image)
	if err != nil {
		return types.Product{}, err
	}

	product, err := s.repo.Create(ctx, types.Product{
		OwnerID:  ownerID,
		Name:     name,
		Price:    price,
		ImageRef: ref,
	})
	if err != nil {
		s.releaseAsset(ctx, ref)
		return types.Product{}, err
	}

	s.events.emit(ctx, types.CatalogEvent{
		Type:      types.EventProductCreated,
		ProductID: product.ID,
		UserID:    ownerID,
		Name:      product.Name,
		Price:     product.Price,
	})
	return product, nil
}

// Update overwrites name and price and, when a new photo is supplied,
// replaces the image. The previous image is released after the row is
// updated.
func (s *ProductService) Update(ctx context.Context, id, requesterID int, in ProductInput) (types.Product, error) {
	current, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return types.Product{}, err
	}

	name, price, err := validateProduct(in)
	if err != nil {
		return types.Product{}, err
	}

	ref := current.ImageRef
	replaced := false
	if in.Image != nil && len(in.Image.Data) > 0 {
		ref, err = s.storeImage(ctx, in.Image)
		if err != nil {
			return types.Product{}, err
		}
		replaced = true
	}

	updated, err := s.repo.Update(ctx, types.Product{
		ID:        current.ID,
		OwnerID:   current.OwnerID,
		Name:      name,
		Price:     price,
		ImageRef:  ref,
		CreatedAt: current.CreatedAt,
	})
	if err != nil {
		if replaced {
			s.releaseAsset(ctx, ref)
		}
		return types.Product{}, err
	}

	if replaced && current.ImageRef != "" && current.ImageRef != ref {
		s.releaseAsset(ctx, current.ImageRef)
	}

	s.events.emit(ctx, types.CatalogEvent{
		Type:      types.EventProductUpdated,
		ProductID: updated.ID,
		UserID:    requesterID,
		Name:      updated.Name,
		Price:     updated.Price,
	})
	return updated, nil
}

// Delete releases the product's image and removes the row. A failed image
// delete is logged and does not stop the row removal.
func (s *ProductService) Delete(ctx context.Context, id, requesterID int) error {
	product, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return err
	}

	if product.ImageRef != "" {
		s.releaseAsset(ctx, product.ImageRef)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.events.emit(ctx, types.CatalogEvent{
		Type:      types.EventProductDeleted,
		ProductID: id,
		UserID:    requesterID,
		Name:      product.Name,
	})
	return nil
}

// ToggleLike flips userID's like on the product. Any signed-in user may
// like any product.
func (s *ProductService) ToggleLike(ctx context.Context, productID, userID int) (bool, error) {
	liked, err := s.repo.ToggleLike(ctx, productID, userID)
	if err != nil {
		return false, err
	}

	s.events.emit(ctx, types.CatalogEvent{
		Type:      types.EventLikeToggled,
		ProductID: productID,
		UserID:    userID,
		Liked:     &liked,
	})
	return liked, nil
}

// ImageURL returns the display URL of a product photo. Zero dimensions use
// the card size.
func (s *ProductService) ImageURL(ref string, width, height int) string {
	if width <= 0 && height <= 0 {
		width, height = defaultImageSide, defaultImageSide
	}
	return s.assets.URLFor(ref, width, height)
}

func (s *ProductService) authorize(product types.Product, requesterID int) error {
	if s.enforceOwnership && product.OwnerID != requesterID {
		return ErrForbidden
	}
	return nil
}

func (s *ProductService) storeImage(ctx context.Context, img *ImageUpload) (string, error) {
	if _, err := storage.ValidateImageFilename(img.Filename); err != nil {
		return "", invalid("image", "Allowed image types are png, jpg, jpeg, gif.")
	}

	ref, err := s.assets.Store(ctx, img.Filename, img.Data, img.ContentType)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidExtension):
			return "", invalid("image", "Allowed image types are png, jpg, jpeg, gif.")
		case errors.Is(err, storage.ErrNotAnImage):
			return "", invalid("image", "The uploaded file is not an image.")
		}
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

func (s *ProductService) releaseAsset(ctx context.Context, ref string) {
	if err := s.assets.Delete(ctx, ref); err != nil {
		logger.FromContext(ctx).Warn().
			Err(err).
			Str("asset_ref", ref).
			Msg("failed to delete product image")
	}
}

func validateProduct(in ProductInput) (string, float64, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", 0, invalid("name", "Name is required.")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", 0, invalid("name", "Name is too long.")
	}

	rawPrice := strings.TrimSpace(in.Price)
	if rawPrice == "" {
		return "", 0, invalid("price", "Price is required.")
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return "", 0, invalid("price", "Price must be a number.")
	}
	if price <= 0 {
		return "", 0, invalid("price", "Price must be positive.")
	}
	if price > maxPrice {
		return "", 0, invalid("price", "Price is too large.")
	}
	price = math.Round(price*100) / 100
	if price <= 0 {
		return "", 0, invalid("price", "Price must be at least 0.01.")
	}
	return name, price, nil
}
