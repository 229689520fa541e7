// views.go - Server-rendered HTML views.
package server

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

//go:embed templates/*.html
var templateFiles embed.FS

var viewFuncs = template.FuncMap{
	"datetimeformat": func(t time.Time) string {
		return t.Format("2006-01-02 15:04")
	},
}

type views struct {
	pages map[string]*template.Template
	auth  *Auth
	store sessions.Store
}

// newViews parses every page template against the shared layout.
func newViews(auth *Auth, store sessions.Store) *views {
	v := &views{
		pages: make(map[string]*template.Template),
		auth:  auth,
		store: store,
	}
	for _, page := range []string{"index", "account", "post", "login", "register"} {
		v.pages[page] = template.Must(template.New("layout.html").
			Funcs(viewFuncs).
			ParseFS(templateFiles, "templates/layout.html", "templates/"+page+".html"))
	}
	return v
}

// render executes the named page inside the layout. CurrentUser and
// Flashes are filled in unless the caller already set them.
func (v *views) render(w http.ResponseWriter, r *http.Request, page string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if _, ok := data["CurrentUser"]; !ok {
		data["CurrentUser"] = v.auth.CurrentAccount(r)
	}
	if _, ok := data["Flashes"]; !ok {
		data["Flashes"] = v.popFlashes(w, r)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := v.pages[page].ExecuteTemplate(w, "layout.html", data); err != nil {
		log.Printf("rid=%s msg=render_failed page=%s err=%v",
			RequestIDFromContext(r.Context()), page, err)
	}
}

func (v *views) popFlashes(w http.ResponseWriter, r *http.Request) []interface{} {
	session, err := v.store.Get(r, sessionName)
	if err != nil {
		return nil
	}
	flashes := session.Flashes()
	if len(flashes) > 0 {
		_ = session.Save(r, w)
	}
	return flashes
}
