package courier

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/courier/core"
	"github.com/putto11262002/courier/pkg/router"
)

type App struct {
	config     *Config
	db         *core.SQLiteDB
	context    context.Context
	server     *http.Server
	logger     *slog.Logger
	router     *router.Router
	wsManager  *core.ConnManager
	chatRouter *core.ChatRouter

	exit chan int

	userStore    core.UserStore
	messageStore core.MessageStore
	authStore    core.AuthStore

	userHandler *UserHandler
	chatHandler *ChatHandler
	authHandler *AuthHandler

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations,
		core.DefaultSQLiteOptions())
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore,
		[]byte(app.config.Auth.Secret), core.WithTokenExp(app.config.Auth.TokenExp))
	app.messageStore = core.NewSQLiteMessageStore(app.db.DB, app.userStore)

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger)
	app.chatRouter = core.NewChatRouter(app.messageStore, app.userStore, app.wsManager, app.logger)

	eventRouter := core.NewEventRouter(app.logger)
	eventRouter.On(core.JoinEvent, app.JoinEventHandler)
	eventRouter.On(core.MessageEvent, app.MessageEventHandler)
	eventRouter.On(core.SeenEvent, app.SeenEventHandler)
	eventRouter.On(core.TypingEvent, app.TypingEventHandler)
	app.wsManager.SetDispatcher(eventRouter.Dispatch)

	app.userHandler = NewUserHandler(app.userStore)
	app.chatHandler = NewChatHandler(app.messageStore, app.userStore)
	app.authHandler = NewAuthHandler(app.authStore)
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Get("/ws", func(w http.ResponseWriter, r *http.Request) error {
		session := core.SessionFromRequest(r)
		if _, err := app.wsManager.Connect(session.Username, w, r); err != nil {
			app.logger.Error(fmt.Sprintf("Connect: %v", err))
		}
		return nil
	})

	api := router.New(router.WithLogger(app.logger))

	api.Route("/users", func(r *router.Router) {
		r.Post("/", app.userHandler.RegisterUserHandler)
		r.With(authMiddleware).Get("/me", app.userHandler.MeHandler)
		r.With(authMiddleware).Get("/{username}", app.userHandler.GetUserByUsernameHandler)
	})

	api.Route("/chats", func(r *router.Router) {
		r.Use(authMiddleware)
		r.Get("/", app.chatHandler.GetConversationSummariesHandler)
		r.Get("/{username}/messages", app.chatHandler.GetConversationHandler)
	})

	api.Route("/auth", func(r *router.Router) {
		r.Post("/signin", app.authHandler.SigninHandler)
		r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
	})

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) Start() {
	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			app.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
		}
		close(app.exit)
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on %s:%d",
		app.config.Hostname, app.config.Port))

	err := app.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	<-app.exit
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
