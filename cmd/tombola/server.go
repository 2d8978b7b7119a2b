package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mwynn/tombola/internal/config"
	"github.com/mwynn/tombola/internal/gateway"
	"github.com/mwynn/tombola/internal/registry"
	"github.com/mwynn/tombola/internal/rooms"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, gw *gateway.Gateway, roomsHandler *rooms.Handler, reg *registry.Registry) *http.Server {
	mux := http.NewServeMux()

	roomsHandler.RegisterRoutes(mux)
	gw.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"tombola","active_rooms":%d}`, reg.ActiveRooms())
	})

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
