package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"collabboard/broker"
	"collabboard/handlers/api/rooms"
	"collabboard/handlers/auth"
	"collabboard/handlers/websocket"
	authMiddleware "collabboard/middleware"
	"collabboard/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store stores.Store, rt *broker.Router) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Token", "session", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	started := time.Now()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]any{
			"status":      "ok",
			"uptime":      time.Since(started).Round(time.Second).String(),
			"activeRooms": len(rt.ActiveRooms()),
		})
	})

	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", rooms.HandleList(store, rt))
		r.Post("/join", rooms.HandleJoin(store))
		r.Route("/{roomID}", func(r chi.Router) {
			r.Get("/", rooms.HandleGet(store))
			r.Put("/whiteboard", rooms.HandleSaveWhiteboard(store))
			r.Put("/notes", rooms.HandleSaveNotes(store))

			// Destructive operations require a signed-in account.
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.AuthJWT)
				r.Delete("/", rooms.HandleDelete(store))
			})
		})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister(store))
		r.Post("/login", auth.HandleLogin(store))
	})

	return r
}

func brokerConfig() broker.Config {
	return broker.Config{
		WhiteboardDebounce: envDuration("WHITEBOARD_DEBOUNCE_MS", time.Second),
		NotesDebounce:      envDuration("NOTES_DEBOUNCE_MS", 2*time.Second),
	}
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		logrus.WithField("name", name).Warnf("Ignoring invalid duration %q", raw)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func waitForShutdown(rt *broker.Router, ioo *socketio.Server) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	rt.Shutdown()
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()

	ioo := websocket.NewServer()
	gw := websocket.NewGateway(ioo)
	rt := broker.New(gw, store, brokerConfig())
	websocket.Register(ioo, rt)

	r := setupRouter(store, rt)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(rt, ioo)
}
