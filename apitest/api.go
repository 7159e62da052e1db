// Package apitest provides an in-memory stand-in for the care-service REST API with
// per-route failure, delay and blocking controls.
//
// Routes are addressed by method and target, eg. (GET, "/api/services?all=true").
// The query is part of the route; the cache-busting "_t" parameter is not.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Record is one item of a list resource.
type Record map[string]any

type rule struct {
	status  int
	message string
	delay   time.Duration
	block   chan struct{}
	hold    chan struct{}
}

// API serves GET/POST on /api/{resource} and GET/PUT/DELETE on /api/{resource}/{id}.
// A resource seeded with an object (SetObject) answers GET and PUT on its own path.
type API struct {
	mu      sync.Mutex
	lists   map[string][]Record
	objects map[string]Record
	rules   map[string]*rule
	hits    map[string]int
	nextID  int

	router *mux.Router
}

// New returns an empty API.
func New() *API {
	a := &API{
		lists:   make(map[string][]Record),
		objects: make(map[string]Record),
		rules:   make(map[string]*rule),
		hits:    make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/{resource}", a.getCollection).Methods(http.MethodGet)
	r.HandleFunc("/api/{resource}", a.create).Methods(http.MethodPost)
	r.HandleFunc("/api/{resource}", a.saveObject).Methods(http.MethodPut)
	r.HandleFunc("/api/{resource}/{id}", a.getItem).Methods(http.MethodGet)
	r.HandleFunc("/api/{resource}/{id}", a.update).Methods(http.MethodPut)
	r.HandleFunc("/api/{resource}/{id}", a.remove).Methods(http.MethodDelete)
	r.Use(a.intercept)
	a.router = r

	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// SetList seeds a list resource, eg. SetList("patients", ...).
func (a *API) SetList(resource string, records ...Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lists[resource] = append([]Record(nil), records...)
}

// SetObject seeds a single-object resource, eg. SetObject("design", ...).
func (a *API) SetObject(resource string, obj Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.objects[resource] = obj
}

// Fail makes method requests to path answer status with {"error": message}.
// An empty message answers with a body that is not JSON.
func (a *API) Fail(method, path string, status int, message string) {
	a.setRule(method, path, func(r *rule) {
		r.status = status
		r.message = message
	})
}

// Delay makes method requests to path wait d before being served.
func (a *API) Delay(method, path string, d time.Duration) {
	a.setRule(method, path, func(r *rule) { r.delay = d })
}

// Block holds method requests to path until the returned release is called.
func (a *API) Block(method, path string) (release func()) {
	ch := make(chan struct{})
	a.setRule(method, path, func(r *rule) { r.block = ch })
	return closer(ch)
}

// HoldNext serves the next method request to path right away but holds its response
// until the returned release is called. The response reflects the data at arrival.
func (a *API) HoldNext(method, path string) (release func()) {
	ch := make(chan struct{})
	a.setRule(method, path, func(r *rule) { r.hold = ch })
	return closer(ch)
}

// Reset removes every rule of method and path.
func (a *API) Reset(method, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.rules, routeKey(method, path))
}

// Hits returns how many method requests reached path.
func (a *API) Hits(method, path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.hits[routeKey(method, path)]
}

func (a *API) setRule(method, path string, fn func(*rule)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := routeKey(method, path)
	if a.rules[k] == nil {
		a.rules[k] = &rule{}
	}
	fn(a.rules[k])
}

func closer(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// routeKey identifies a route by method, path and query, ignoring "_t".
func routeKey(method, target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return method + " " + target
	}
	return method + " " + requestKey(u)
}

func requestKey(u *url.URL) string {
	q := u.Query()
	q.Del("_t")
	if len(q) == 0 {
		return u.Path
	}
	return u.Path + "?" + q.Encode()
}

func (a *API) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + requestKey(r.URL)

		a.mu.Lock()
		var ru rule
		if p := a.rules[k]; p != nil {
			ru = *p
			p.hold = nil
		}
		if ru.hold == nil {
			a.hits[k]++
		}
		a.mu.Unlock()

		if ru.block != nil {
			select {
			case <-ru.block:
			case <-r.Context().Done():
				return
			}
		}

		if ru.delay > 0 {
			select {
			case <-time.After(ru.delay):
			case <-r.Context().Done():
				return
			}
		}

		if ru.hold == nil {
			respond(w, r, ru, next)
			return
		}

		// a held request counts once its response is rendered
		rec := httptest.NewRecorder()
		respond(rec, r, ru, next)
		a.mu.Lock()
		a.hits[k]++
		a.mu.Unlock()

		select {
		case <-ru.hold:
		case <-r.Context().Done():
			return
		}
		for name, values := range rec.Header() {
			w.Header()[name] = values
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
	})
}

func respond(w http.ResponseWriter, r *http.Request, ru rule, next http.Handler) {
	if ru.status != 0 {
		if ru.message == "" {
			w.WriteHeader(ru.status)
			_, _ = w.Write([]byte("upstream failure"))
			return
		}
		writeJSON(w, ru.status, map[string]string{"error": ru.message})
		return
	}

	next.ServeHTTP(w, r)
}

func (a *API) getCollection(w http.ResponseWriter, r *http.Request) {
	res := mux.Vars(r)["resource"]

	a.mu.Lock()
	defer a.mu.Unlock()

	if obj, ok := a.objects[res]; ok {
		writeJSON(w, http.StatusOK, obj)
		return
	}
	list, ok := a.lists[res]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": res + " not found"})
		return
	}
	if list == nil {
		list = []Record{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range a.lists[vars["resource"]] {
		if rec["id"] == vars["id"] {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	res := mux.Vars(r)["resource"]

	var in Record
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	rec := Record{}
	for k, v := range in {
		rec[k] = v
	}
	rec["id"] = res + "-" + strconv.Itoa(a.nextID)
	rec["createdAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	a.lists[res] = append([]Record{rec}, a.lists[res]...)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var in Record
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, rec := range a.lists[vars["resource"]] {
		if rec["id"] != vars["id"] {
			continue
		}
		next := Record{}
		for k, v := range rec {
			next[k] = v
		}
		for k, v := range in {
			next[k] = v
		}
		next["id"] = vars["id"]
		a.lists[vars["resource"]][i] = next
		writeJSON(w, http.StatusOK, next)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
}

func (a *API) remove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.lists[vars["resource"]]
	for i, rec := range list {
		if rec["id"] == vars["id"] {
			a.lists[vars["resource"]] = append(list[:i:i], list[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
}

func (a *API) saveObject(w http.ResponseWriter, r *http.Request) {
	res := mux.Vars(r)["resource"]

	var in Record
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := Record{}
	for k, v := range a.objects[res] {
		next[k] = v
	}
	for k, v := range in {
		next[k] = v
	}
	a.objects[res] = next
	writeJSON(w, http.StatusOK, next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
