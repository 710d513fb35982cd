package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/services"
	"github.com/jjudge-oj/marketplace/internal/session"
	"github.com/jjudge-oj/marketplace/internal/storage"
	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/jjudge-oj/marketplace/types"
)

const (
	maxImageBytes      = 10 << 20
	maxMultipartMemory = 12 << 20
	maxRequestBytes    = maxImageBytes + 1<<20
	formFieldName      = "name"
	formFieldPrice     = "price"
	formFieldImage     = "image"
	formFieldNext      = "next"
	cardImageSize      = 300
	formImageSize      = 200
)

// ProductHandler serves the catalog pages and product mutations.
type ProductHandler struct {
	productService   *services.ProductService
	sessions         *session.Manager
	views            *Renderer
	enforceOwnership bool
}

func NewProductHandler(productService *services.ProductService, sessions *session.Manager, views *Renderer, enforceOwnership bool) *ProductHandler {
	return &ProductHandler{
		productService:   productService,
		sessions:         sessions,
		views:            views,
		enforceOwnership: enforceOwnership,
	}
}

// ProductRouter registers the catalog routes. All of them require a signed-in
// user.
func ProductRouter(
	r chi.Router,
	gate *SessionGate,
	productService *services.ProductService,
	sessions *session.Manager,
	views *Renderer,
	enforceOwnership bool,
) {
	handler := NewProductHandler(productService, sessions, views, enforceOwnership)

	r.Group(func(r chi.Router) {
		r.Use(gate.RequireAuthenticated)
		r.Get("/home", handler.Home)
		r.Get("/add_product", handler.AddForm)
		r.Post("/add_product", handler.Add)
		r.Get("/update_product/{productID}", handler.EditForm)
		r.Post("/update_product/{productID}", handler.Update)
		r.Post("/delete_product/{productID}", handler.Delete)
		r.Post("/toggle_like/{productID}", handler.ToggleLike)
	})
}

// formError is a problem with the submitted form, worded for the user.
type formError string

func (e formError) Error() string { return string(e) }

type productCard struct {
	types.ProductSummary
	ImageURL string
	CanEdit  bool
}

type homeView struct {
	Search string
	Self   string
	Page   types.ProductPage
	Cards  []productCard
}

type productFormView struct {
	Action   string
	Name     string
	Price    string
	ImageURL string
}

func (h *ProductHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, err := parsePage(r)
	if err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusBadRequest, err.Error())
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	result, err := h.productService.List(r.Context(), search, userID, page)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to list products")
		h.views.renderError(w, r, h.sessions, http.StatusInternalServerError, "failed to list products")
		return
	}

	cards := make([]productCard, 0, len(result.Items))
	for _, item := range result.Items {
		cards = append(cards, productCard{
			ProductSummary: item,
			ImageURL:       h.productService.ImageURL(item.ImageRef, cardImageSize, cardImageSize),
			CanEdit:        item.OwnedByMe || !h.enforceOwnership,
		})
	}

	h.views.render(w, r, h.sessions, http.StatusOK, "home", "Products", homeView{
		Search: search,
		Self:   homeURL(search, page),
		Page:   result,
		Cards:  cards,
	})
}

func (h *ProductHandler) AddForm(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, r, h.sessions, http.StatusOK, "product_form", "Add product", productFormView{Action: "/add_product"})
}

func (h *ProductHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusUnauthorized, "unauthorized")
		return
	}

	form := productFormView{Action: "/add_product"}
	input, err := parseProductForm(w, r)
	form.Name, form.Price = input.Name, input.Price
	if err != nil {
		h.renderForm(w, r, http.StatusBadRequest, "Add product", form, err.Error())
		return
	}

	product, err := h.productService.Create(r.Context(), userID, input)
	if err != nil {
		h.handleMutationError(w, r, "Add product", form, err)
		return
	}

	logger.FromContext(r.Context()).Info().Int("product_id", product.ID).Msg("product created")
	addFlash(r, session.FlashSuccess, "Product added.")
	redirect(w, r, h.sessions, homePath)
}

func (h *ProductHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.identify(w, r)
	if !ok {
		return
	}

	product, err := h.productService.Get(r.Context(), productID, userID)
	if err != nil {
		h.handleLookupError(w, r, err)
		return
	}

	h.views.render(w, r, h.sessions, http.StatusOK, "product_form", "Edit product", h.formFor(product))
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.identify(w, r)
	if !ok {
		return
	}

	form := productFormView{Action: fmt.Sprintf("/update_product/%d", productID)}
	input, err := parseProductForm(w, r)
	form.Name, form.Price = input.Name, input.Price
	if err != nil {
		h.renderForm(w, r, http.StatusBadRequest, "Edit product", form, err.Error())
		return
	}

	if _, err := h.productService.Update(r.Context(), productID, userID, input); err != nil {
		h.handleMutationError(w, r, "Edit product", form, err)
		return
	}

	addFlash(r, session.FlashSuccess, "Product updated.")
	redirect(w, r, h.sessions, homePath)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.identify(w, r)
	if !ok {
		return
	}

	if err := h.productService.Delete(r.Context(), productID, userID); err != nil {
		h.handleLookupError(w, r, err)
		return
	}

	addFlash(r, session.FlashSuccess, "Product deleted.")
	redirect(w, r, h.sessions, homePath)
}

func (h *ProductHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.identify(w, r)
	if !ok {
		return
	}

	if _, err := h.productService.ToggleLike(r.Context(), productID, userID); err != nil {
		h.handleLookupError(w, r, err)
		return
	}

	redirect(w, r, h.sessions, localRedirect(r.PostFormValue(formFieldNext), homePath))
}

func (h *ProductHandler) identify(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusUnauthorized, "unauthorized")
		return 0, 0, false
	}
	productID, err := parseProductID(r)
	if err != nil {
		h.views.renderError(w, r, h.sessions, http.StatusNotFound, "product not found")
		return 0, 0, false
	}
	return userID, productID, true
}

func (h *ProductHandler) formFor(product types.Product) productFormView {
	return productFormView{
		Action:   fmt.Sprintf("/update_product/%d", product.ID),
		Name:     product.Name,
		Price:    strconv.FormatFloat(product.Price, 'f', 2, 64),
		ImageURL: h.productService.ImageURL(product.ImageRef, formImageSize, formImageSize),
	}
}

func (h *ProductHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, title string, form productFormView, message string) {
	h.views.render(w, r, h.sessions, status, "product_form", title, form,
		session.Flash{Category: session.FlashError, Message: message})
}

func (h *ProductHandler) handleLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.views.renderError(w, r, h.sessions, http.StatusNotFound, "product not found")
	case errors.Is(err, services.ErrForbidden):
		h.views.renderError(w, r, h.sessions, http.StatusForbidden, "you can only change your own products")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("product operation failed")
		h.views.renderError(w, r, h.sessions, http.StatusInternalServerError, "something went wrong")
	}
}

func (h *ProductHandler) handleMutationError(w http.ResponseWriter, r *http.Request, title string, form productFormView, err error) {
	if verr, ok := services.IsValidation(err); ok {
		h.renderForm(w, r, http.StatusBadRequest, title, form, verr.Message)
		return
	}
	if errors.Is(err, storage.ErrUploadFailed) {
		logger.FromContext(r.Context()).Warn().Err(err).Msg("image upload failed")
		h.renderForm(w, r, http.StatusBadGateway, title, form, "Image upload failed. Please try again.")
		return
	}
	h.handleLookupError(w, r, err)
}

func parseProductForm(w http.ResponseWriter, r *http.Request) (services.ProductInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return services.ProductInput{}, formError("The photo is larger than 10 MB.")
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				return services.ProductInput{}, formError("Invalid form.")
			}
		default:
			return services.ProductInput{}, formError("Invalid form.")
		}
	}

	input := services.ProductInput{
		Name:  r.FormValue(formFieldName),
		Price: r.FormValue(formFieldPrice),
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		return input, err
	}
	input.Image = image
	return input, nil
}

func parseImageFile(form *multipart.Form) (*services.ImageUpload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldImage]
	if len(files) == 0 || files[0].Filename == "" {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, formError("Only one photo is allowed.")
	}

	fileHeader := files[0]
	if fileHeader.Size > maxImageBytes {
		return nil, formError("The photo is larger than 10 MB.")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, formError("Failed to read the photo.")
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, formError("The photo is larger than 10 MB.")
		}
		return nil, formError("Failed to read the photo.")
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &services.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func homeURL(search string, page int) string {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	if len(q) == 0 {
		return homePath
	}
	return homePath + "?" + q.Encode()
}
