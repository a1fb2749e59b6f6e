package sakuragi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/tal/layout"
)

func newServer(t *testing.T) (*tal.Guide, *Server) {
	n, err := layout.InitJunction13()
	if err != nil {
		t.Fatal(err)
	}
	g, err := tal.NewGuide(tal.GuideConf{
		Network: n,
		Trains:  tal.DefaultTrains,
		Bounds:  tal.DefaultBounds,
		Clock:   &clock.Fake{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return g, New(g)
}

func TestIndex(t *testing.T) {
	_, s := newServer(t)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"GREEN", "PURPLE", "RED", "BLUE", "L1", "L7", "L8", "L12", "L13", "■■■■□□"} {
		if !strings.Contains(body, want) {
			t.Errorf("body lacks %q", want)
		}
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/nonexistent", nil))
	if w.Code != 404 {
		t.Fatalf("status %d", w.Code)
	}
}

func post(s *Server, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/control", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestControl(t *testing.T) {
	g, s := newServer(t)
	w := post(s, url.Values{"train": {"3"}, "action": {"increment"}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status %d", w.Code)
	}
	tr, err := g.Train(3)
	if err != nil {
		t.Fatal(err)
	}
	if v := tr.Velocity(); v != 5 {
		t.Fatalf("velocity %d", v)
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if !strings.Contains(w.Body.String(), "train 3: velocity 5") {
		t.Fatalf("no message")
	}

	if w := post(s, url.Values{"train": {"3"}, "action": {"stop"}}); w.Code != 400 {
		t.Fatalf("status %d", w.Code)
	}
	if w := post(s, url.Values{"train": {"7"}, "action": {"decrement"}}); w.Code != 404 {
		t.Fatalf("status %d", w.Code)
	}
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/control", nil))
	if w.Code != 405 {
		t.Fatalf("status %d", w.Code)
	}
}
