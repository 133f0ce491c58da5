package main

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/vocatio-app/vocatio/internal/api"
	"github.com/vocatio-app/vocatio/internal/middleware"
	"github.com/vocatio-app/vocatio/internal/utils"
)

func main() {
	addr := utils.SafeEnv("VOCATIO_ADDR", ":8080")
	commit := os.Getenv("VOCATIO_COMMIT")
	buildTime := os.Getenv("VOCATIO_BUILD_TIME")

	var store api.Store
	if sqlitePath := os.Getenv("VOCATIO_SQLITE_PATH"); sqlitePath != "" {
		sqliteStore, closeDB, err := openSQLiteStore(sqlitePath, os.Getenv("VOCATIO_MIGRATIONS_DIR"))
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		defer closeDB()
		store = sqliteStore
	} else {
		log.Printf("VOCATIO_SQLITE_PATH not set, using in-memory store (data is lost on restart)")
		store = api.NewMemoryStore()
	}

	mux := http.NewServeMux()
	// API routes
	api.NewRouter(store, middleware.SignToken).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Vocatio API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Frontend serving strategy (priority):
	// 1) Static files if VOCATIO_STATIC_DIR is set (fullstack image)
	// 2) Dev proxy if VOCATIO_DEV_FRONTEND_URL is set (proxy / to Vite dev)
	if staticDir := os.Getenv("VOCATIO_STATIC_DIR"); staticDir != "" {
		fs := http.FileServer(http.Dir(staticDir))
		mux.Handle("/", fs)
	} else if devURL := os.Getenv("VOCATIO_DEV_FRONTEND_URL"); devURL != "" {
		if u, err := url.Parse(devURL); err == nil {
			rp := httputil.NewSingleHostReverseProxy(u)
			// Ensure no-store headers also apply to proxied responses
			rp.ModifyResponse = func(res *http.Response) error {
				res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				res.Header.Set("Pragma", "no-cache")
				res.Header.Set("Expires", "0")
				return nil
			}
			mux.Handle("/", rp)
		} else {
			log.Printf("invalid VOCATIO_DEV_FRONTEND_URL=%q: %v", devURL, err)
		}
	}

	// Auth claims first, then response hardening on the way out.
	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))

	log.Printf("Vocatio server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
