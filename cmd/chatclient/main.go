package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"shopchat/internal/domain/entity"
	"shopchat/internal/usecase"
	"shopchat/pkg/config"
	"shopchat/pkg/logger"
	"shopchat/pkg/response"
	"shopchat/pkg/utils"
)

// envTokenSource reads the access token from the environment. A fresh token
// can be installed at runtime via SetToken, mirroring a session store that
// rotates credentials.
type envTokenSource struct {
	mu    sync.RWMutex
	token string
}

func newEnvTokenSource() *envTokenSource {
	return &envTokenSource{token: os.Getenv("CHAT_ACCESS_TOKEN")}
}

func (s *envTokenSource) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	return s.token, true
}

func (s *envTokenSource) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// logNotifier surfaces alert-worthy messages on the process log. A real
// client would hand these to the platform notification system.
type logNotifier struct{}

func (logNotifier) Notify(conversation entity.Conversation, message entity.Message) {
	sender := message.Sender.DisplayName
	if sender == "" {
		sender = message.Sender.ID
	}
	logger.Info("New message from %s in conversation %s: %s", sender, conversation.ID, message.Content)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	tokens := newEnvTokenSource()
	session := usecase.NewChatSession(cfg, tokens, logNotifier{})

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start chat session: %v", err)
	}
	defer session.Dispose()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/status", func(c echo.Context) error {
		conn := session.Connection()
		status := map[string]interface{}{
			"connection":    string(conn.State()),
			"user_id":       conn.UserID(),
			"conversations": len(session.Registry.Conversations()),
			"unread_total":  session.Registry.UnreadTotal(),
		}
		if lastErr := conn.LastError(); lastErr != nil {
			status["last_error"] = lastErr.Error()
		}
		return response.Success(c, status)
	})

	e.GET("/conversations", func(c echo.Context) error {
		params := utils.GetPaginationParams(c)
		list := session.Registry.Conversations()
		start, end := params.Bounds(len(list))
		return response.Paginated(c, list[start:end], int64(len(list)), params.Page, params.PageSize)
	})

	e.GET("/conversations/:id/messages", func(c echo.Context) error {
		return response.Success(c, session.Reconciler.Messages(c.Param("id")))
	})

	go func() {
		if err := e.Start(":" + cfg.StatusPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Status server failed: %v", err)
		}
	}()
	log.Printf("Status server listening on port %s", cfg.StatusPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status server shutdown: %v", err)
	}
}
