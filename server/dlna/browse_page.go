package dlna

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/httprate"

	"github.com/rosschurchill/zeroconfdlna/log"
	"github.com/rosschurchill/zeroconfdlna/model"
)

func browsePageLimiter() func(http.Handler) http.Handler {
	return httprate.LimitByIP(60, time.Minute)
}

const browsePageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; min-width: 32em; }
th, td { text-align: left; padding: 0.3em 1em 0.3em 0; }
th { border-bottom: 1px solid #999; }
.crumbs { color: #666; }
.count { color: #666; font-size: smaller; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p class="crumbs">{{range $i, $c := .Crumbs}}{{if $i}} / {{end}}<a href="/browse?id={{$c.ID}}">{{$c.Title}}</a>{{end}}</p>
<table>
<tr><th>Name</th><th>Type</th><th>Size</th></tr>
{{range .Entries}}<tr><td><a href="{{.Href}}">{{.Title}}</a></td><td>{{.Kind}}</td><td>{{.Size}}</td></tr>
{{end}}</table>
<p class="count">{{len .Entries}} entries</p>
</body>
</html>
`

var browseTmpl = template.Must(template.New("browse").Parse(browsePageTemplate))

type browsePage struct {
	Name    string
	Crumbs  []crumb
	Entries []browseEntry
}

type crumb struct {
	ID    model.ObjectID
	Title string
}

type browseEntry struct {
	Title string
	Kind  string
	Href  string
	Size  string
}

// handleBrowsePage renders a plain HTML listing for anyone pointing a
// browser at the server. Items link straight to their media URL.
func (r *Router) handleBrowsePage(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	rawID := req.URL.Query().Get("id")
	if rawID == "" {
		rawID = "0"
	}
	id, err := model.ParseObjectID(rawID)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	obj, err := r.idx.Get(id)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	if !obj.IsContainer() {
		http.Redirect(w, req, r.resourceURL(&obj), http.StatusFound)
		return
	}

	children, _, err := r.idx.List(id, 0, 0)
	if err != nil {
		http.NotFound(w, req)
		return
	}

	page := browsePage{
		Name:   r.friendlyName,
		Crumbs: r.breadcrumbs(id),
	}
	for i := range children {
		c := &children[i]
		e := browseEntry{Title: c.Title, Kind: kindWord(c)}
		if c.IsContainer() {
			e.Href = fmt.Sprintf("/browse?id=%d", c.ID)
		} else {
			e.Href = r.resourceURL(c)
			e.Size = humanize.IBytes(uint64(c.Size))
		}
		page.Entries = append(page.Entries, e)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := browseTmpl.Execute(w, page); err != nil {
		log.Error(ctx, "Failed to render browse page", err)
	}
}

// breadcrumbs walks parent links from id up to the root.
func (r *Router) breadcrumbs(id model.ObjectID) []crumb {
	var out []crumb
	for {
		obj, err := r.idx.Get(id)
		if err != nil {
			break
		}
		out = append([]crumb{{ID: obj.ID, Title: obj.Title}}, out...)
		if obj.ID == model.RootID {
			break
		}
		id = obj.ParentID
	}
	return out
}

func kindWord(obj *model.ContentObject) string {
	if obj.IsContainer() {
		return "folder"
	}
	switch {
	case strings.HasPrefix(obj.MimeType, "video/"):
		return "video"
	case strings.HasPrefix(obj.MimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(obj.MimeType, "image/"):
		return "image"
	}
	return "file"
}
