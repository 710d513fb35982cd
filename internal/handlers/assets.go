package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/storage"
)

const assetCacheControl = "public, max-age=86400, immutable"

// AssetOpener reads stored product images.
type AssetOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// AssetRouter serves stored images under /assets. References are immutable,
// so responses are cacheable.
func AssetRouter(r chi.Router, assets AssetOpener) {
	r.Get("/assets/*", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if ref == "" {
			http.NotFound(w, r)
			return
		}

		rc, err := assets.Open(r.Context(), ref)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				http.NotFound(w, r)
				return
			}
			logger.FromContext(r.Context()).Error().Err(err).Str("asset_ref", ref).Msg("failed to open asset")
			http.Error(w, "failed to load image", http.StatusBadGateway)
			return
		}
		defer rc.Close()

		head := make([]byte, 512)
		n, err := io.ReadFull(rc, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			http.Error(w, "failed to load image", http.StatusBadGateway)
			return
		}
		head = head[:n]

		contentType := mime.TypeByExtension(path.Ext(ref))
		if contentType == "" {
			contentType = http.DetectContentType(head)
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", assetCacheControl)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(head); err != nil {
			return
		}
		_, _ = io.Copy(w, rc)
	})
}

// StaticRouter serves files from dir under /static. Directory listings are
// not exposed.
func StaticRouter(r chi.Router, dir string) {
	fs := http.StripPrefix("/static/", http.FileServer(noListingFS{http.Dir(dir)}))
	r.Get("/static/*", fs.ServeHTTP)
}

type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
