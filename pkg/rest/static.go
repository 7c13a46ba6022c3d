package rest

import (
	"net/http"
	"os"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/httputil/middleware"
)

// StaticMount serves a local directory under a URL path.
type StaticMount struct {
	Path string `mapstructure:"path" validate:"required,startswith=/"`
	Dir  string `mapstructure:"dir" validate:"required"`
	SPA  bool   `mapstructure:"spa"`
}

// MountStatic registers each mount on r.
func MountStatic(r *httputil.Router, mounts ...StaticMount) {
	for _, m := range mounts {
		p := "/" + strings.Trim(m.Path, "/")
		r.Handle("GET "+p+"/", http.StripPrefix(p, middleware.Static(os.DirFS(m.Dir), m.SPA)))
	}
}
