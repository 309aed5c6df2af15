// Package supersettest provides an in-process fake of the Superset REST API
// endpoints the migration service calls.
package supersettest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Username = "admin"
	Password = "admin"
	// UserID is issued as a numeric sub claim
	UserID = 42
	// IssuerKey signs the fake's own access tokens
	IssuerKey = "superset-issuer-key"
	csrfToken = "csrf-token-value"
)

// Call records one request the fake received
type Call struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]interface{}
}

// Database is a registered Superset database
type Database struct {
	ID   int64
	Name string
	URI  string
}

// Dataset is a registered Superset dataset
type Dataset struct {
	ID         int64
	DatabaseID int64
	Schema     string
	Table      string
}

// Server is a fake Superset. Set the exported knobs before use.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// LoginStatus forces the login response status when non-zero
	LoginStatus int
	// DatabaseStatus forces the database POST status when non-zero
	DatabaseStatus int
	// FailFirst makes the next N requests answer 503
	FailFirst int

	calls     []Call
	databases []Database
	datasets  []Dataset
	refreshed []int64
	nextID    int64
}

var (
	pageRe     = regexp.MustCompile(`[(,]page:(\d+)`)
	pageSizeRe = regexp.MustCompile(`page_size:(\d+)`)
)

// New starts a fake Superset server. Callers Close it.
func New() *Server {
	s := &Server{nextID: 1}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /api/v1/security/login", s.login)
	mux.HandleFunc("GET /api/v1/security/csrf_token/", s.authed(s.csrf))
	mux.HandleFunc("POST /api/v1/database/", s.authed(s.csrfChecked(s.createDatabase)))
	mux.HandleFunc("GET /api/v1/database/", s.authed(s.listDatabases))
	mux.HandleFunc("POST /api/v1/dataset/", s.authed(s.csrfChecked(s.createDataset)))
	mux.HandleFunc("GET /api/v1/dataset/", s.authed(s.listDatasets))
	mux.HandleFunc("PUT /api/v1/dataset/{id}/refresh", s.authed(s.csrfChecked(s.refresh)))

	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// AddDatabase seeds an already registered database
func (s *Server) AddDatabase(name, uri string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.databases = append(s.databases, Database{ID: id, Name: name, URI: uri})
	return id
}

// AddDataset seeds an already registered dataset
func (s *Server) AddDataset(databaseID int64, schema, table string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.datasets = append(s.datasets, Dataset{ID: id, DatabaseID: databaseID, Schema: schema, Table: table})
	return id
}

// Calls returns the requests received so far
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the requests for one method and path prefix
func (s *Server) CallsTo(method, pathPrefix string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// Databases returns the registered databases
func (s *Server) Databases() []Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Database(nil), s.databases...)
}

// Datasets returns the registered datasets
func (s *Server) Datasets() []Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dataset(nil), s.datasets...)
}

// Refreshed returns the dataset ids refreshed so far
func (s *Server) Refreshed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.refreshed...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query().Get("q"), Header: r.Header.Clone()}
		if r.Body != nil && r.ContentLength != 0 {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				call.Body = body
			}
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		fail := s.FailFirst > 0
		if fail {
			s.FailFirst--
		}
		s.mu.Unlock()

		if fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "unavailable"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withBody(r.Context(), call.Body)))
	})
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Missing Authorization Header"})
			return
		}
		next(w, r)
	}
}

func (s *Server) csrfChecked(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CSRFToken") != csrfToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "The CSRF token is missing."})
			return
		}
		next(w, r)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.LoginStatus
	s.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "Not authorized"})
		return
	}

	body := bodyFrom(r.Context())
	if body["username"] != Username || body["password"] != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Not authorized"})
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   UserID,
		"fresh": true,
		"type":  "access",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(15 * time.Minute).Unix(),
	})
	access, err := token.SignedString([]byte(IssuerKey))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": "refresh-" + access[:8]})
}

func (s *Server) csrf(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "fake-session", Path: "/"})
	writeJSON(w, http.StatusOK, map[string]string{"result": csrfToken})
}

func (s *Server) createDatabase(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	name, _ := body["database_name"].(string)
	uri, _ := body["sqlalchemy_uri"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DatabaseStatus != 0 {
		writeJSON(w, s.DatabaseStatus, map[string]string{"message": "forced failure"})
		return
	}
	for _, db := range s.databases {
		if db.Name == name {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"message": map[string][]string{"database_name": {"A database with the same name already exists."}},
			})
			return
		}
	}

	id := s.nextID
	s.nextID++
	s.databases = append(s.databases, Database{ID: id, Name: name, URI: uri})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]map[string]interface{}, 0, len(s.databases))
	for _, db := range s.databases {
		items = append(items, map[string]interface{}{"id": db.ID, "database_name": db.Name})
	}
	s.mu.Unlock()
	writePage(w, r, items)
}

func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	dbID, _ := body["database"].(float64)
	schema, _ := body["schema"].(string)
	table, _ := body["table_name"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.datasets {
		if ds.DatabaseID == int64(dbID) && ds.Schema == schema && ds.Table == table {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"message": map[string][]string{"table_name": {"Dataset already exists"}},
			})
			return
		}
	}

	id := s.nextID
	s.nextID++
	s.datasets = append(s.datasets, Dataset{ID: id, DatabaseID: int64(dbID), Schema: schema, Table: table})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]map[string]interface{}, 0, len(s.datasets))
	for _, ds := range s.datasets {
		items = append(items, map[string]interface{}{
			"id":         ds.ID,
			"table_name": ds.Table,
			"schema":     ds.Schema,
			"database":   map[string]interface{}{"id": ds.DatabaseID},
		})
	}
	s.mu.Unlock()
	writePage(w, r, items)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.datasets {
		if ds.ID == id {
			s.refreshed = append(s.refreshed, id)
			writeJSON(w, http.StatusOK, map[string]string{"message": "OK"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
}

// writePage answers a list call with the page selected by the rison q param.
// Filtering is left to the caller so pagination gets exercised.
func writePage(w http.ResponseWriter, r *http.Request, items []map[string]interface{}) {
	q := r.URL.Query().Get("q")
	page, pageSize := 0, 100
	if m := pageRe.FindStringSubmatch(q); m != nil {
		page, _ = strconv.Atoi(m[1])
	}
	if m := pageSizeRe.FindStringSubmatch(q); m != nil {
		pageSize, _ = strconv.Atoi(m[1])
	}

	start := page * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(items),
		"result": items[start:end],
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("supersettest: encode response: %v", err))
	}
}

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]interface{}) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) map[string]interface{} {
	body, _ := ctx.Value(bodyKey{}).(map[string]interface{})
	return body
}
