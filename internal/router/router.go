package router

import (
	"net/http"

	"github.com/pixelforge/backend/internal/auth"
	"github.com/pixelforge/backend/internal/dashboard"
	"github.com/pixelforge/backend/internal/generation"
	"github.com/pixelforge/backend/internal/middleware"
	"github.com/pixelforge/backend/internal/registry"
)

// New returns the API handler. Auth and the model catalog are public;
// everything else requires a Bearer token.
func New(authHandler *auth.Handler, genHandler *generation.Handler, dashHandler *dashboard.Handler, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc("/api/v1/auth/login", methodPOST(authHandler.Login))
	mux.HandleFunc("/v1/models", methodGET(registry.ListModels))

	protected := http.NewServeMux()
	protected.HandleFunc("/v1/generations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			genHandler.Create(w, r)
		case http.MethodGet:
			genHandler.List(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	protected.HandleFunc("/v1/generations/estimate", methodPOST(genHandler.EstimateOnly))
	protected.HandleFunc("/v1/generations/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			genHandler.Get(w, r)
		case http.MethodDelete:
			genHandler.Cancel(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	protected.HandleFunc("/v1/generation-status/", methodGET(genHandler.Status))
	protected.HandleFunc("/v1/credits", methodGET(dashHandler.GetBalance))
	protected.HandleFunc("/v1/credits/transactions", methodGET(dashHandler.ListTransactions))
	protected.HandleFunc("/v1/credits/topup", methodPOST(dashHandler.TopUp))

	authed := middleware.JWTAuth(validator)(protected)
	mux.Handle("/v1/generations", authed)
	mux.Handle("/v1/generations/", authed)
	mux.Handle("/v1/generation-status/", authed)
	mux.Handle("/v1/credits", authed)
	mux.Handle("/v1/credits/", authed)

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
