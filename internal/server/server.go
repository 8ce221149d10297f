// Package server is the HTTP surface: Fiber routing, the session auth
// gate, and the mapping from the trade error taxonomy to HTTP statuses.
// Identity is resolved once per request and passed to the engine and
// store as an explicit user id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/model"
	"papertrade/internal/tasks"
	"papertrade/internal/trade"
)

const (
	sessionUserKey  = "user_id"
	leaderboardSize = 10
)

// TaskQueue is the slice of asynq.Client the server needs; nil disables
// background exports.
type TaskQueue interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	store    ledger.Store
	engine   *trade.Engine
	quotes   trade.QuoteService
	sessions *session.Store
	queue    TaskQueue
	log      *zap.Logger
}

func New(store ledger.Store, engine *trade.Engine, quotes trade.QuoteService, queue TaskQueue, sessionTTL time.Duration) *Server {
	return &Server{
		store:    store,
		engine:   engine,
		quotes:   quotes,
		sessions: session.New(session.Config{Expiration: sessionTTL}),
		queue:    queue,
		log:      logger.L().With(zap.String("component", "http")),
	}
}

// Router builds the Fiber app with all routes registered.
func (s *Server) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(requestIDMiddleware())
	app.Use(s.loggingMiddleware())

	app.Get("/health", s.health)

	api := app.Group("/api")
	api.Post("/register", s.register)
	api.Post("/login", s.login)
	api.Post("/logout", s.logout)

	// everything below requires a session
	api.Use(s.requireUser)
	api.Post("/password", s.changePassword)
	api.Get("/portfolio", s.portfolio)
	api.Get("/quote", s.quote)
	api.Post("/buy", s.buy)
	api.Post("/sell", s.sell)
	api.Get("/history", s.history)
	api.Get("/leaderboard", s.leaderboard)
	api.Post("/history/export", s.exportHistory)

	return app
}

// requireUser resolves the session to a user id and stores it in locals.
// Handlers downstream never touch the session again.
func (s *Server) requireUser(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session unavailable"})
	}
	v := sess.Get(sessionUserKey)
	userID, ok := v.(int64)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "must be logged in"})
	}
	c.Locals(sessionUserKey, userID)
	return c.Next()
}

func (s *Server) userID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(sessionUserKey).(int64)
	return id
}

func (s *Server) signIn(c *fiber.Ctx, userID int64) error {
	sess, err := s.sessions.Get(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return err
	}
	sess.Set(sessionUserKey, userID)
	return sess.Save()
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

func (s *Server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "must provide username and password"})
	}
	if req.Password != req.Confirmation {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "passwords do not match"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return s.fail(c, err)
	}

	user, err := s.store.CreateUser(c.Context(), req.Username, string(hash))
	if err != nil {
		return s.fail(c, err)
	}

	if err := s.signIn(c, user.ID); err != nil {
		return s.fail(c, err)
	}

	s.log.Info("user registered", zap.Int64("user_id", user.ID))
	return c.Status(fiber.StatusCreated).JSON(user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "must provide username"})
	}
	if req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "must provide password"})
	}

	user, err := s.store.UserByName(c.Context(), req.Username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return s.fail(c, model.ErrBadCredentials)
		}
		return s.fail(c, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return s.fail(c, model.ErrBadCredentials)
	}

	if err := s.signIn(c, user.ID); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(user)
}

func (s *Server) logout(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.JSON(fiber.Map{"message": "logged out"})
}

type passwordRequest struct {
	Password     string `json:"password"`
	NewPassword  string `json:"newpassword"`
	Confirmation string `json:"confirmation"`
}

func (s *Server) changePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Password == "" || req.NewPassword == "" || req.Confirmation == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "must fill out all fields"})
	}
	if req.NewPassword != req.Confirmation {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "passwords do not match"})
	}

	user, err := s.store.UserByID(c.Context(), s.userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return s.fail(c, model.ErrBadCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.store.UpdatePassword(c.Context(), user.ID, string(hash)); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "password changed"})
}

func (s *Server) portfolio(c *fiber.Ctx) error {
	p, err := s.engine.Portfolio(c.Context(), s.userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) quote(c *fiber.Ctx) error {
	symbol := c.Query("symbol")
	assetType := c.Query("type", model.AssetStock)

	q, err := s.quotes.Lookup(c.Context(), symbol, assetType)
	if err != nil {
		if errors.Is(err, model.ErrInvalidQuote) {
			return s.fail(c, model.ErrInvalidSymbol)
		}
		return s.fail(c, err)
	}
	return c.JSON(q)
}

type tradeRequest struct {
	Symbol string `json:"symbol"`
	Shares string `json:"shares"`
	Type   string `json:"type"`
}

func (s *Server) buy(c *fiber.Ctx) error {
	return s.trade(c, s.engine.Buy)
}

func (s *Server) sell(c *fiber.Ctx) error {
	return s.trade(c, s.engine.Sell)
}

func (s *Server) trade(c *fiber.Ctx, exec func(ctx context.Context, userID int64, symbol, shares, assetType string) (model.Receipt, error)) error {
	var req tradeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Type == "" {
		req.Type = model.AssetStock
	}

	receipt, err := exec(c.Context(), s.userID(c), req.Symbol, req.Shares, req.Type)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(receipt)
}

func (s *Server) history(c *fiber.Ctx) error {
	history, err := s.store.History(c.Context(), s.userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	if history == nil {
		history = []model.Transaction{}
	}
	return c.JSON(history)
}

func (s *Server) leaderboard(c *fiber.Ctx) error {
	entries, err := s.store.Leaderboard(c.Context(), leaderboardSize)
	if err != nil {
		return s.fail(c, err)
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	return c.JSON(entries)
}

func (s *Server) exportHistory(c *fiber.Ctx) error {
	if s.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "export queue not configured"})
	}

	user, err := s.store.UserByID(c.Context(), s.userID(c))
	if err != nil {
		return s.fail(c, err)
	}

	payload, err := json.Marshal(tasks.HistoryExportPayload{
		UserID:   user.ID,
		Username: user.Username,
	})
	if err != nil {
		return s.fail(c, err)
	}

	if _, err := s.queue.Enqueue(asynq.NewTask(tasks.TypeHistoryExport, payload)); err != nil {
		s.log.Error("enqueue export", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to enqueue export"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "export enqueued"})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "OK",
		"service":   "papertrade",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// fail maps the error taxonomy to HTTP statuses. Rejections reach the
// client with the invariant that failed; internals are logged, not leaked.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidSymbol),
		errors.Is(err, model.ErrInvalidQuote),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientShares):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, model.ErrBadCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, model.ErrDuplicateUser),
		errors.Is(err, model.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, model.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		s.log.Error("internal error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}
