// Package sakuragi serves a status page for a Guide, with buttons to change each train's speed.
package sakuragi

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal"
)

//go:embed index.html
var templates embed.FS

type Server struct {
	g   *tal.Guide
	sm  *http.ServeMux
	t   *template.Template
	log *zap.SugaredLogger

	lock sync.Mutex
	// observer is this page's own view of the trains' positions.
	observer      *tal.Observer
	latestMessage string
}

func New(g *tal.Guide) *Server {
	s := &Server{
		g:        g,
		sm:       http.NewServeMux(),
		log:      zap.S().Named("sakuragi"),
		observer: tal.NewObserver(g),
	}
	s.t = template.Must(template.New("index").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
		"map": func(vs ...any) map[string]any {
			if len(vs)%2 != 0 {
				panic("# of args is not even")
			}
			res := map[string]any{}
			for i, v := range vs {
				if i%2 == 0 {
					continue
				}
				name := vs[i-1].(string)
				res[name] = v
			}
			return res
		},
		"trainID": func(id TrainID) int {
			return int(id)
		},
		"colorOf": func(gs tal.GuideSnapshot, id TrainID) string {
			if id < 0 || int(id) >= len(gs.Trains) {
				return ""
			}
			return gs.Trains[id].Color.String()
		},
	}).ParseFS(templates, "*.html"))
	s.sm.HandleFunc("/", s.handleIndex)
	s.sm.HandleFunc("/control", s.handleControl)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.sm.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	gs := s.g.Snapshot()
	s.lock.Lock()
	positions := slices.Clone(s.observer.Poll())
	msg := s.latestMessage
	s.lock.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.t.ExecuteTemplate(w, "index", map[string]interface{}{
		"msg":       msg,
		"gs":        gs,
		"positions": positions,
		"bounds":    s.g.Bounds(),
		"now":       time.Now().Format("15:04:05"),
	})
	if err != nil {
		s.log.Errorf("render index: %s", err)
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := strconv.Atoi(r.FormValue("train"))
	if err != nil {
		http.Error(w, fmt.Sprintf("train: %s", err), http.StatusBadRequest)
		return
	}
	id := TrainID(n)
	var v int
	switch action := r.FormValue("action"); action {
	case "increment":
		v, err = s.g.Increment(id)
	case "decrement":
		v, err = s.g.Decrement(id)
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.lock.Lock()
	s.latestMessage = fmt.Sprintf("train %d: velocity %d", n, v)
	s.lock.Unlock()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
