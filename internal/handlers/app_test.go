package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/marketplace/internal/services"
	"github.com/jjudge-oj/marketplace/internal/session"
	"github.com/jjudge-oj/marketplace/internal/storage"
	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/jjudge-oj/marketplace/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memUserRepo struct {
	mu    sync.Mutex
	users []types.User
}

func (m *memUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = len(m.users) + 1
	m.users = append(m.users, user)
	return user, nil
}

type memProductRepo struct {
	mu       sync.Mutex
	nextID   int
	products map[int]types.Product
	likes    map[int]types.LikeSet
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{products: map[int]types.Product{}, likes: map[int]types.LikeSet{}}
}

func (m *memProductRepo) List(ctx context.Context, q store.ProductQuery) ([]types.ProductSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []types.Product
	for _, p := range m.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Search)) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		oi, oj := matched[i].OwnerID == q.RequesterID, matched[j].OwnerID == q.RequesterID
		if oi != oj {
			return oi
		}
		return matched[i].ID < matched[j].ID
	})

	start := min(q.Offset, len(matched))
	end := min(start+q.Limit, len(matched))
	var items []types.ProductSummary
	for _, p := range matched[start:end] {
		items = append(items, types.ProductSummary{
			Product:   p,
			LikeCount: m.likes[p.ID].Len(),
			LikedByMe: m.likes[p.ID].Has(q.RequesterID),
			OwnedByMe: p.OwnerID == q.RequesterID,
		})
	}
	return items, len(matched), nil
}

func (m *memProductRepo) Get(ctx context.Context, id int) (types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memProductRepo) Create(ctx context.Context, p types.Product) (types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.products[p.ID] = p
	m.likes[p.ID] = types.NewLikeSet()
	return p, nil
}

func (m *memProductRepo) Update(ctx context.Context, p types.Product) (types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return types.Product{}, store.ErrNotFound
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *memProductRepo) Delete(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	delete(m.likes, id)
	return nil
}

func (m *memProductRepo) ToggleLike(ctx context.Context, productID, userID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	likes, ok := m.likes[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	return likes.Toggle(userID), nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// testApp is the full router backed by in-memory repositories and a local
// asset directory.
type testApp struct {
	server    *httptest.Server
	products  *memProductRepo
	uploadDir string
}

type appOptions struct {
	enforceOwnership bool
}

func newTestApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	uploadDir := t.TempDir()
	local, err := storage.NewLocalClient(uploadDir)
	require.NoError(t, err)
	assets := storage.NewStorage(local)

	sessions := session.NewManager(session.NewMemoryStore(), "test-secret")
	gate := NewSessionGate(sessions)
	views := MustRenderer()
	products := newMemProductRepo()

	userService := services.NewUserService(&memUserRepo{}, services.WithHashCost(bcrypt.MinCost))
	productService := services.NewProductService(products, assets,
		services.WithOwnershipEnforced(opts.enforceOwnership))

	r := chi.NewRouter()
	r.Get("/healthz", Healthz(pingFunc(func(context.Context) error { return nil })))
	StaticRouter(r, t.TempDir())
	AssetRouter(r, assets)
	r.Group(func(r chi.Router) {
		r.Use(gate.LoadSession)
		AuthRouter(r, gate, userService, sessions, views)
		ProductRouter(r, gate, productService, sessions, views, opts.enforceOwnership)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, products: products, uploadDir: uploadDir}
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:   t,
		app: a,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type page struct {
	Status   int
	Location string
	Body     string
	Header   http.Header
}

func (b *browser) do(req *http.Request) page {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return page{
		Status:   resp.StatusCode,
		Location: resp.Header.Get("Location"),
		Body:     string(body),
		Header:   resp.Header,
	}
}

func (b *browser) get(path string) page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.app.server.URL+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.app.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postMultipart(path string, fields map[string]string, filename string, file []byte) page {
	b.t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(b.t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("image", filename)
		require.NoError(b.t, err)
		_, err = part.Write(file)
		require.NoError(b.t, err)
	}
	require.NoError(b.t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, b.app.server.URL+path, &body)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return b.do(req)
}

func (b *browser) signupAndLogin(username, password string) {
	b.t.Helper()
	p := b.post("/signup", url.Values{"username": {username}, "email": {username + "@x.com"}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, p.Status, p.Body)
	p = b.post("/", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, p.Status, p.Body)
	require.Equal(b.t, "/home", p.Location)
}

func (b *browser) addProduct(name, price string) {
	b.t.Helper()
	p := b.postMultipart("/add_product", map[string]string{"name": name, "price": price}, "photo.png", testPNG(b.t))
	require.Equal(b.t, http.StatusSeeOther, p.Status, p.Body)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
