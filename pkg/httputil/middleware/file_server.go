package middleware

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// Static serves files from fsys. Requests are expected to have the mount
// prefix stripped (http.StripPrefix). With spaFallback, paths that do not
// name a file are answered with index.html; otherwise they are 404.
// Directory listings are never served.
//
// Example usage:
//
//	r.Handle("GET /media/", http.StripPrefix("/media", middleware.Static(os.DirFS("./media"), false)))
func Static(fsys fs.FS, spaFallback bool) http.Handler {
	server := http.FileServerFS(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}
		if !fs.ValidPath(name) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		info, err := fs.Stat(fsys, name)
		switch {
		case err == nil && !info.IsDir():
			server.ServeHTTP(w, r)
			return
		case err == nil && info.IsDir():
			if _, ierr := fs.Stat(fsys, path.Join(name, "index.html")); ierr == nil {
				server.ServeHTTP(w, r)
				return
			}
			if !spaFallback {
				http.Error(w, "Directory listing not allowed", http.StatusForbidden)
				return
			}
		case !errors.Is(err, fs.ErrNotExist) || !spaFallback:
			http.NotFound(w, r)
			return
		}

		http.ServeFileFS(w, r, fsys, "index.html")
	})
}
