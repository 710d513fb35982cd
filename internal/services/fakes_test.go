package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jjudge-oj/marketplace/internal/storage"
	"github.com/jjudge-oj/marketplace/internal/store"
	"github.com/jjudge-oj/marketplace/types"
)

// callLog records the order of side effects across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[string]types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]types.User)}
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.Username]; ok {
		return types.User{}, store.ErrConflict
	}
	f.nextID++
	user.ID = f.nextID
	f.users[user.Username] = user
	return user, nil
}

type fakeProductRepo struct {
	mu        sync.Mutex
	nextID    int
	products  map[int]types.Product
	likes     map[int]types.LikeSet
	log       *callLog
	createErr error
	updateErr error
}

func newFakeProductRepo(log *callLog) *fakeProductRepo {
	return &fakeProductRepo{
		products: make(map[int]types.Product),
		likes:    make(map[int]types.LikeSet),
		log:      log,
	}
}

func (f *fakeProductRepo) List(ctx context.Context, q store.ProductQuery) ([]types.ProductSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	var matched []types.Product
	for _, p := range f.products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
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

	total := len(matched)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)

	items := make([]types.ProductSummary, 0, end-start)
	for _, p := range matched[start:end] {
		likes := f.likes[p.ID]
		items = append(items, types.ProductSummary{
			Product:   p,
			LikeCount: likes.Len(),
			LikedByMe: likes.Has(q.RequesterID),
			OwnedByMe: p.OwnerID == q.RequesterID,
		})
	}
	return items, total, nil
}

func (f *fakeProductRepo) Get(ctx context.Context, id int) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) Create(ctx context.Context, product types.Product) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.Product{}, f.createErr
	}
	f.nextID++
	product.ID = f.nextID
	f.products[product.ID] = product
	f.likes[product.ID] = types.NewLikeSet()
	f.log.add("repo.create %d", product.ID)
	return product, nil
}

func (f *fakeProductRepo) Update(ctx context.Context, product types.Product) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return types.Product{}, f.updateErr
	}
	if _, ok := f.products[product.ID]; !ok {
		return types.Product{}, store.ErrNotFound
	}
	f.products[product.ID] = product
	f.log.add("repo.update %d", product.ID)
	return product, nil
}

func (f *fakeProductRepo) Delete(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.products, id)
	delete(f.likes, id)
	f.log.add("repo.delete %d", id)
	return nil
}

func (f *fakeProductRepo) ToggleLike(ctx context.Context, productID, userID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	likes, ok := f.likes[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	return likes.Toggle(userID), nil
}

type fakeAssets struct {
	mu        sync.Mutex
	next      int
	objects   map[string][]byte
	log       *callLog
	storeErr  error
	deleteErr error
	deletes   []string
}

func newFakeAssets(log *callLog) *fakeAssets {
	return &fakeAssets{objects: make(map[string][]byte), log: log}
}

func (f *fakeAssets) Store(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if _, err := storage.ValidateImageFilename(filename); err != nil {
		return "", err
	}
	if f.storeErr != nil {
		return "", f.storeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	ref := fmt.Sprintf("products/%d-%s", f.next, filename)
	f.objects[ref] = data
	f.log.add("assets.store %s", ref)
	return ref, nil
}

func (f *fakeAssets) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	f.log.add("assets.delete %s", ref)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, ref)
	return nil
}

func (f *fakeAssets) URLFor(ref string, width, height int) string {
	return fmt.Sprintf("/assets/%s?w=%d&h=%d", ref, width, height)
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	attrs    []map[string]string
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, data)
	f.attrs = append(f.attrs, attrs)
	return fmt.Sprintf("msg-%d", len(f.payloads)), nil
}

var errBackendDown = errors.New("backend down")
