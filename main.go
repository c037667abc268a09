package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/srgchrksv/newscaster/agent"
	"github.com/srgchrksv/newscaster/costs"
	"github.com/srgchrksv/newscaster/handlers"
	"github.com/srgchrksv/newscaster/models"
	"github.com/srgchrksv/newscaster/scraper"
	"github.com/srgchrksv/newscaster/search"
	"github.com/srgchrksv/newscaster/services"
	"github.com/srgchrksv/newscaster/storage"
	"github.com/srgchrksv/newscaster/tasks"
	"github.com/srgchrksv/newscaster/tts"
)

func main() {
	// Load the .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	dataDir := envOr("NEWSCASTER_DATA_DIR", "data")
	addr := envOr("NEWSCASTER_ADDR", ":8000")
	workers := envInt("NEWSCASTER_WORKERS", 4)
	audioDir := filepath.Join(dataDir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		log.Fatalf("Error creating data dir: %v", err)
	}

	ctx := context.Background()

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		log.Fatal("GOOGLE_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		log.Fatalf("Error creating genai client: %v", err)
	}
	defer client.Close()

	store, err := storage.Open(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		log.Fatalf("Error opening session store: %v", err)
	}
	defer store.Close()

	tracker, err := costs.Open(filepath.Join(dataDir, "costs.db"))
	if err != nil {
		log.Fatalf("Error opening cost tracker: %v", err)
	}
	defer tracker.Close()

	// Providers are tried in order until five sources are collected.
	providers := []search.Provider{}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		providers = append(providers, search.NewTavily(key))
	}
	providers = append(providers, search.NewGoogleNews(), search.NewDuckDuckGo())
	chain := search.NewChain(providers...)

	engines := []tts.Engine{}
	ttsClient, err := texttospeech.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		log.Printf("Google TTS unavailable: %v", err)
	} else {
		defer ttsClient.Close()
		engines = append(engines, tts.NewGoogleEngine(ttsClient))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		engines = append(engines, tts.NewOpenAIEngine(key))
	}
	if len(engines) == 0 {
		log.Fatal("no TTS engine configured, set GOOGLE_API_KEY or OPENAI_API_KEY")
	}

	synth := tts.NewSynthesizer(engines...)
	log.Printf("search providers: %v, tts engines: %v", chain.Providers(), synth.Engines())

	svcs := services.NewServices(store, tracker, chain, scraper.New(),
		models.NewGemini(client), synth, audioDir)

	researcher := agent.New(client, svcs)
	queue := tasks.NewQueue(researcher.RunTurn, workers, workers*8)
	defer queue.Stop()

	h := handlers.New(store, tracker, queue, synth, audioDir)

	r := gin.Default()
	r.Use(sessions.Sessions("newscaster", cookie.NewStore([]byte(envOr("NEWSCASTER_COOKIE_SECRET", "secret")))))

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{envOr("NEWSCASTER_FRONTEND_URL", "http://localhost:3000")}
	config.AllowMethods = []string{"GET", "POST", "DELETE"}
	config.AllowHeaders = []string{"Content-Type"}
	config.AllowCredentials = true
	r.Use(cors.New(config))

	r.GET("/", h.Index)
	r.POST("/chat", h.Chat)
	r.POST("/interact", h.Interact)
	r.GET("/sessions", h.Sessions)
	r.GET("/sessions/:id", h.Session)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.GET("/costs", h.CostsSummary)
	r.GET("/audio/:name", h.Audio)
	r.GET("/stream", h.Stream)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
