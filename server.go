package main

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/gorilla/websocket"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/thavlik/molsuite/jobs"
	"github.com/thavlik/molsuite/materialize"
	"github.com/thavlik/molsuite/pending"
	"github.com/thavlik/molsuite/pocket"
	"github.com/thavlik/molsuite/session"
	"github.com/thavlik/molsuite/viewer"
)

type server struct {
	cfg       *Config
	handler   *http.ServeMux
	sessions  *materialize.Sessions
	store     session.Store
	jobs      *jobs.Manager
	pending   *pending.Registry
	snapshots *viewer.Snapshotter
	redis     *redis.Client
	clientset kubernetes.Interface
	templates *template.Template
	upgrader  websocket.Upgrader
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: %v", err)
	}
	return client, nil
}

func newServer(cfg *Config) (*server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &server{
		cfg:       cfg,
		handler:   http.NewServeMux(),
		snapshots: viewer.NewSnapshotter(cfg.RCSB.DownloadURL),
		cancel:    cancel,
	}
	s.snapshots.AllowPrivate = cfg.Viewer.AllowPrivateFetch
	if err := func() error {
		var err error
		if s.templates, err = parseTemplates(); err != nil {
			return err
		}
		if s.sessions, err = materialize.NewSessions(
			cfg.TmpDir,
			cfg.MaxFilesPerSession,
			cfg.MaxSessions,
		); err != nil {
			return fmt.Errorf("sessions: %v", err)
		}
		if s.jobs, err = jobs.NewManager(cfg.Workers, cfg.RetainJobs); err != nil {
			return fmt.Errorf("jobs: %v", err)
		}
		if cfg.Redis.Addr != "" {
			if s.redis, err = newRedisClient(cfg.Redis); err != nil {
				return err
			}
		}
		s.pending = pending.NewRegistry(s.redis, cfg.Redis.Channel, time.Minute)
		if err := s.pending.Listen(ctx); err != nil {
			return err
		}
		ttl := time.Duration(cfg.Session.TTL)
		if cfg.Session.Backend == "redis" {
			s.store = session.NewRedisStore(s.redis, ttl)
		} else {
			store := session.NewMemoryStore(ttl)
			s.store = store
			if interval := time.Duration(cfg.Session.PruneInterval); interval > 0 {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					store.PruneEvery(ctx, interval)
				}()
			}
		}
		if cfg.P2Rank.Runner == "kubernetes" {
			config, err := rest.InClusterConfig()
			if err != nil {
				return fmt.Errorf("in-cluster config: %v", err)
			}
			if s.clientset, err = kubernetes.NewForConfig(config); err != nil {
				return fmt.Errorf("clientset: %v", err)
			}
		}
		return nil
	}(); err != nil {
		s.Close()
		return nil, err
	}
	s.buildRoutes()
	return s, nil
}

// Close stops the workers and removes every materialized file.
func (s *server) Close() {
	s.cancel()
	s.wg.Wait()
	if s.jobs != nil {
		s.jobs.Close()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

// pocketRunner picks the predictor for one request. f is the
// protein as registered in the session, which the pod runner
// downloads through /files.
func (s *server) pocketRunner(home, sessionID string, f *materialize.File) pocket.Runner {
	if s.clientset == nil {
		return &pocket.P2Rank{
			Home:    home,
			Threads: s.cfg.P2Rank.Threads,
		}
	}
	k := s.cfg.P2Rank.Kubernetes
	return &pocket.KubeRunner{
		Clientset:       s.clientset,
		Namespace:       k.Namespace,
		Image:           k.Image,
		AppLabel:        k.AppLabel,
		Home:            k.Home,
		OperatorAddress: k.CallbackAddress,
		Pending:         s.pending,
		Resolve: func(string) (string, error) {
			return fmt.Sprintf("http://%s%s", k.CallbackAddress, fileURL(sessionID, f)), nil
		},
	}
}

// prunePods removes finished prediction pods from earlier runs.
func (s *server) prunePods() error {
	if s.clientset == nil {
		return nil
	}
	k := s.cfg.P2Rank.Kubernetes
	runner := &pocket.KubeRunner{
		Clientset: s.clientset,
		Namespace: k.Namespace,
		AppLabel:  k.AppLabel,
	}
	return runner.Prune(context.TODO())
}

func (s *server) buildRoutes() {
	s.handler.HandleFunc("GET /{$}", s.handleIndex())
	s.handler.HandleFunc("GET /w/{slug}", s.handleWorkflowPage())
	s.handler.HandleFunc("POST /w/{slug}", s.handleWorkflowRun())
	s.handler.HandleFunc("GET /jobs/{id}", s.handleJobPage())
	s.handler.HandleFunc("GET /jobs/{id}/{artifact}", s.handleArtifact())
	s.handler.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus())
	s.handler.HandleFunc("GET /ws/jobs/{id}", s.handleJobSocket())
	s.handler.HandleFunc("GET /files/{session}/{file}", s.handleFile())
	s.handler.HandleFunc("GET /snapshot", s.handleSnapshot())
	s.handler.HandleFunc("POST /session/clear", s.handleClearSession())
	s.handler.HandleFunc("POST /complete", s.handleComplete())
	s.handler.HandleFunc("POST /error", s.handleError())
	s.handler.HandleFunc("GET /healthz", s.handleHealth())
}

func (s *server) listen() error {
	log.Printf("Listening on %s", s.cfg.Listen)
	if err := http.ListenAndServe(s.cfg.Listen, s.handler); err != nil {
		return fmt.Errorf("ListenAndServe: %v", err)
	}
	return nil
}
