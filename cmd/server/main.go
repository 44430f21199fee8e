package main

import (
	"log"
	"net/http"

	"github.com/wisp-chat/wisp/internal/config"
	"github.com/wisp-chat/wisp/internal/server/handlers"
	"github.com/wisp-chat/wisp/internal/server/ratelimit"
	"github.com/wisp-chat/wisp/internal/server/storage"
	"github.com/wisp-chat/wisp/internal/server/ws"
)

func main() {
	cfg := config.LoadServer()

	store := storage.New(cfg.DatabaseURL)
	defer store.Close()

	hub := ws.NewHub()
	go hub.Run()

	limiter := ratelimit.New(cfg.MaxConnsPerIP, cfg.AuthAttemptsPerMin)

	h := handlers.New(store, hub, limiter, cfg.JWTSecret)

	log.Printf("Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, h.Routes()); err != nil {
		log.Fatal("Server error:", err)
	}
}
