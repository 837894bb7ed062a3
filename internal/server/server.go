// Package server contains the HTTP handlers for the registry API.
package server

import (
	"context"
	"fmt"
	"time"

	"mahilo/internal/config"
	"mahilo/internal/database"
	"mahilo/internal/delivery"
	"mahilo/internal/middleware"
	"mahilo/internal/notifications"
	"mahilo/internal/repository"
	"mahilo/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus

	userRepo   repository.UserRepository
	connRepo   repository.ConnectionRepository
	friendRepo repository.FriendRepository
	roleRepo   repository.RoleRepository
	groupRepo  repository.GroupRepository
	policyRepo repository.PolicyRepository
	msgRepo    repository.MessageRepository

	notifier    notifications.Notifier
	sender      *delivery.Sender
	dispatcher  *delivery.Dispatcher
	rateLimiter *middleware.RateLimiter

	authService    *service.AuthService
	connService    *service.ConnectionService
	friendService  *service.FriendService
	roleService    *service.RoleService
	groupService   *service.GroupService
	policyService  *service.PolicyService
	policyEngine   *service.PolicyEngine
	router         *service.Router
	contextService *service.ContextService

	retryProcessor *delivery.RetryProcessor
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Used by tests and by bootstrap layers that establish DB/Redis themselves.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: fiberprometheus.New("mahilo-registry"),
	}

	s.userRepo = repository.NewUserRepository(db)
	s.connRepo = repository.NewConnectionRepository(db)
	s.friendRepo = repository.NewFriendRepository(db)
	s.roleRepo = repository.NewRoleRepository(db)
	s.groupRepo = repository.NewGroupRepository(db)
	s.policyRepo = repository.NewPolicyRepository(db)
	s.msgRepo = repository.NewMessageRepository(db)

	s.notifier = notifications.NewRedisNotifier(redisClient)
	s.sender = delivery.NewSender(cfg.CallbackTimeout())
	s.dispatcher = delivery.NewDispatcher(s.msgRepo, s.connRepo, s.userRepo, s.groupRepo, s.sender, s.notifier, cfg.MaxRetries)
	s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitPerMin)

	s.authService = service.NewAuthService(s.userRepo)
	s.connService = service.NewConnectionService(cfg, s.connRepo, s.friendRepo, s.sender)
	s.friendService = service.NewFriendService(s.friendRepo, s.userRepo, s.roleRepo, s.notifier)
	s.roleService = service.NewRoleService(s.roleRepo)
	s.groupService = service.NewGroupService(s.groupRepo, s.userRepo, s.friendRepo, s.notifier)
	s.policyService = service.NewPolicyService(s.policyRepo, s.userRepo, s.roleRepo, s.groupRepo)
	s.policyEngine = service.NewPolicyEngine(cfg, s.policyRepo, s.friendRepo)
	s.router = service.NewRouter(cfg, s.msgRepo, s.userRepo, s.friendRepo, s.groupRepo, s.connRepo, s.policyEngine, s.dispatcher)
	s.contextService = service.NewContextService(s.userRepo, s.friendRepo, s.msgRepo, s.policyEngine)

	s.retryProcessor = delivery.NewRetryProcessor(s.msgRepo, s.dispatcher,
		cfg.RetryInterval(), cfg.CallbackTimeout()+time.Minute, cfg.MaxRetries)

	if err := s.roleRepo.EnsureSystemRoles(context.Background()); err != nil {
		return nil, fmt.Errorf("seeding system roles failed: %w", err)
	}

	return s, nil
}

// RetryProcessor exposes the background redelivery loop for the bootstrap
// layer to run.
func (s *Server) RetryProcessor() *delivery.RetryProcessor {
	return s.retryProcessor
}

// DB exposes the underlying database handle for bootstrap tooling.
func (s *Server) DB() *gorm.DB {
	return s.db
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.RequestLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		MaxAge:       86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api/v1")

	// Registration and verification are unauthenticated; everything else
	// requires an API key.
	api.Post("/auth/register", s.Register)
	api.Post("/auth/verify/:userId", s.VerifyTwitter)
	api.Get("/auth/verify/:userId", s.VerificationStatus)

	protected := api.Group("", middleware.APIKeyAuth(s.authService), s.rateLimiter.Handler())

	auth := protected.Group("/auth")
	auth.Post("/rotate-key", s.RotateAPIKey)
	auth.Get("/me", s.GetMe)
	auth.Put("/me", s.UpdateMe)

	protected.Get("/preferences", s.GetPreferences)
	protected.Patch("/preferences", s.UpdatePreferences)

	agents := protected.Group("/agents")
	agents.Post("/", s.RegisterConnection)
	agents.Get("/", s.ListConnections)
	agents.Post("/:id/ping", s.PingConnection)
	agents.Put("/:id/status", s.SetConnectionStatus)
	agents.Delete("/:id", s.DeleteConnection)

	friends := protected.Group("/friends")
	friends.Get("/", s.ListFriends)
	friends.Post("/request", s.SendFriendRequest)
	friends.Post("/block", s.BlockUser)
	friends.Post("/:id/accept", s.AcceptFriendRequest)
	friends.Post("/:id/reject", s.RejectFriendRequest)
	friends.Post("/:id/block", s.BlockFriendship)
	friends.Delete("/:id", s.Unfriend)
	friends.Get("/:id/roles", s.ListFriendRoles)
	friends.Post("/:id/roles", s.AssignFriendRole)
	friends.Delete("/:id/roles/:roleName", s.RemoveFriendRole)

	contacts := protected.Group("/contacts")
	contacts.Get("/:username/connections", s.ContactConnections)

	roles := protected.Group("/roles")
	roles.Get("/", s.ListRoles)
	roles.Post("/", s.CreateRole)

	groups := protected.Group("/groups")
	groups.Post("/", s.CreateGroup)
	groups.Get("/", s.ListMyGroups)
	groups.Get("/:id", s.GetGroup)
	groups.Delete("/:id", s.DeleteGroup)
	groups.Get("/:id/members", s.ListGroupMembers)
	groups.Post("/:id/invite", s.InviteToGroup)
	groups.Post("/:id/join", s.JoinGroup)
	groups.Delete("/:id/leave", s.LeaveGroup)
	groups.Delete("/:id/members/:userId", s.RemoveGroupMember)
	groups.Put("/:id/members/:userId/role", s.SetGroupMemberRole)
	groups.Post("/:id/transfer", s.TransferGroupOwnership)
	groups.Get("/:id/policies", s.ListGroupPolicies)

	policies := protected.Group("/policies")
	policies.Post("/", s.CreatePolicy)
	policies.Get("/", s.ListPolicies)
	policies.Get("/context/:username", s.SendContext)
	policies.Get("/:id", s.GetPolicy)
	policies.Patch("/:id", s.UpdatePolicy)
	policies.Delete("/:id", s.DeletePolicy)

	messages := protected.Group("/messages")
	messages.Post("/send", s.SendMessage)
	messages.Get("/", s.MessageHistory)
	messages.Get("/:id", s.GetMessage)
}

// NewApp builds a configured fiber application serving the registry API.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mahilo-registry",
		DisableStartupMessage: s.config.Env == "production",
		BodyLimit:             s.config.MaxPayloadBytes + 64*1024,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}
