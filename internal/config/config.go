package config

import (
	"os"
	"strconv"
	"strings"
)

// Client holds everything the terminal client reads from the environment.
type Client struct {
	APIBaseURL  string // REST base, e.g. http://localhost:4000/api
	WSBaseURL   string // presence channel, e.g. ws://localhost:4000/ws
	PaymentsURL string // external payment provider
	Profile     string // local session profile name
	Debug       bool
}

// Server holds the development backend's settings.
type Server struct {
	Addr               string
	DatabaseURL        string
	JWTSecret          string
	MaxConnsPerIP      int
	AuthAttemptsPerMin int
}

func LoadClient() Client {
	base := getEnv("WISP_SERVER_URL", "http://localhost:4000")
	return Client{
		APIBaseURL:  getEnv("WISP_API_URL", base+"/api"),
		WSBaseURL:   getEnv("WISP_WS_URL", wsBase(base)+"/ws"),
		PaymentsURL: getEnv("WISP_PAYMENTS_URL", "http://localhost:4242"),
		Profile:     getEnv("WISP_PROFILE", "default"),
		Debug:       os.Getenv("WISP_DEBUG") != "",
	}
}

func LoadServer() Server {
	port := getEnv("PORT", "4000")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return Server{
		Addr:               port,
		DatabaseURL:        getEnv("DATABASE_URL", "postgres://localhost/wisp?sslmode=disable"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-only-secret"),
		MaxConnsPerIP:      getEnvInt("MAX_CONNECTIONS_PER_IP", 10),
		AuthAttemptsPerMin: getEnvInt("AUTH_ATTEMPTS_PER_MIN", 5),
	}
}

// wsBase rewrites an http(s) base URL into its ws(s) counterpart.
func wsBase(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
