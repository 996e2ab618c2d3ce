package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/zen-companion/backend/internal/config"
	"github.com/zhouzirui/zen-companion/backend/internal/handler"
	"github.com/zhouzirui/zen-companion/backend/internal/handler/stream"
	"github.com/zhouzirui/zen-companion/backend/internal/model/persona"
	"github.com/zhouzirui/zen-companion/backend/internal/service/ai"
	"github.com/zhouzirui/zen-companion/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	active, err := persona.Resolve(personaStore, cfg.Relay.PersonaID)
	if err != nil {
		log.Fatalf("failed to resolve relay persona: %v", err)
	}

	var relayer stream.Relayer
	if aiService := newAIService(ctx, cfg, active); aiService != nil {
		relayer = relay.New(aiService, cfg.Relay.MaxDuration)
		log.Printf("chat relay ready persona=%s provider=%s max_duration=%s", active.ID, cfg.AI.Provider, cfg.Relay.MaxDuration)
	}

	router := handler.NewRouter(personaStore, active.ID, relayer)

	startServer(ctx, cfg.Server, router)
}

// newAIService 初始化模型服务，凭证缺失或初始化失败时返回 nil，聊天接口将返回 503。
func newAIService(ctx context.Context, cfg *config.Config, active persona.Persona) *ai.Service {
	if !cfg.AI.Enabled() {
		log.Printf("%s 凭证未配置，跳过 AI 功能初始化", cfg.AI.Provider)
		return nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Printf("warning: failed to create chat model: %v", err)
		return nil
	}

	svc, err := ai.NewService(ctx, chatModel, active, ai.Options{
		SystemPrompt: cfg.Relay.SystemPrompt,
		Streaming:    cfg.AI.StreamResponse,
	})
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing without AI functionality - 请检查模型相关环境变量")
		return nil
	}

	log.Println("AI service initialized successfully")
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Zen companion backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
