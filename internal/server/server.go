package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizlive/quizlive/internal/api"
	"github.com/quizlive/quizlive/internal/event"
	"github.com/quizlive/quizlive/internal/feed"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/lifecycle"
	"github.com/quizlive/quizlive/internal/roster"
	"github.com/quizlive/quizlive/internal/store"
	"github.com/quizlive/quizlive/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port        int32
		JoinBaseURL string
	}

	Redis struct {
		Feed struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Viewers struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Store struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			feed    redis.UniversalClient
			viewers redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		feed      *feed.Feed
		store     *store.Store
		lifecycle *lifecycle.Service
		hosts     *host.Manager
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.feed, err = connect(s.c.Redis.Feed.Addrs, s.c.Redis.Feed.Pass)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}

	s.infra.redis.viewers, err = connect(s.c.Redis.Viewers.Addrs, s.c.Redis.Viewers.Pass)
	if err != nil {
		return fmt.Errorf("viewers: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Store
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.feed = feed.New(feed.Config{
		Redis:  s.infra.redis.feed,
		Prefix: s.c.Redis.Feed.Prefix,
	})

	s.service.store = store.New(store.Config{
		DB:   s.infra.postgres,
		Feed: s.service.feed,
	})

	s.service.lifecycle = lifecycle.NewService(lifecycle.Config{
		Store:    s.service.store,
		EventBus: s.eb,
	})

	s.service.hosts = host.NewManager(host.Config{
		Store:     s.service.store,
		Feed:      feedSource{s.service.feed},
		Lifecycle: s.service.lifecycle,
		EventBus:  s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinLogger())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Store:        s.service.store,
		Hosts:        s.service.hosts,
		Redis:        s.infra.redis.viewers,
		PubsubPrefix: s.c.Redis.Viewers.Prefix,
		JoinBaseURL:  s.c.HTTP.JoinBaseURL,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Tear down every mounted host view: feed subscriptions and reveal
	// timers must not outlive the process's serving state.
	s.service.hosts.Shutdown()

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}

// feedSource adapts the concrete feed client to the subscription interface
// host views consume.
type feedSource struct {
	f *feed.Feed
}

func (s feedSource) Subscribe(ctx context.Context, sessionID string) (roster.Subscription, error) {
	return s.f.Subscribe(ctx, sessionID)
}
