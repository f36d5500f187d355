package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thavlik/molsuite/jobs"
)

func (s *server) lookupJob(r *http.Request) (*jobs.Job, error) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		return nil, fmt.Errorf("job '%s' not found", r.PathValue("id"))
	}
	return job, nil
}

func (s *server) handleJobPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			job, err := s.lookupJob(r)
			if err != nil {
				statusCode = http.StatusNotFound
				return err
			}
			v := newJobView(job)
			p := &page{}
			if err := v.failure(job); err != nil {
				p.fail(err)
			}
			s.render(w, "job.html", &jobPage{
				Title:      fmt.Sprintf("Job %s", job.ID()),
				MolstarJS:  s.cfg.Viewer.MolstarJS,
				MolstarCSS: s.cfg.Viewer.MolstarCSS,
				Job:        v,
				Banners:    p.Banners,
			})
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

func (s *server) handleJobStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			job, err := s.lookupJob(r)
			if err != nil {
				statusCode = http.StatusNotFound
				return err
			}
			if r.URL.Query().Get("wait") != "" {
				ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.WaitTimeout))
				job.Wait(ctx)
				cancel()
			}
			body, err := json.Marshal(job.Status())
			if err != nil {
				return fmt.Errorf("marshal: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

func (s *server) handleArtifact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			job, err := s.lookupJob(r)
			if err != nil {
				statusCode = http.StatusNotFound
				return err
			}
			name := r.PathValue("artifact")
			if !strings.HasSuffix(name, ".png") {
				statusCode = http.StatusNotFound
				return fmt.Errorf("unknown artifact '%s'", name)
			}
			data, ok := job.Artifact(strings.TrimSuffix(name, ".png"))
			if !ok {
				statusCode = http.StatusNotFound
				return fmt.Errorf("artifact '%s' not found", name)
			}
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Write(data)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

// handleJobSocket streams status updates until the job finishes.
func (s *server) handleJobSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.lookupJob(r)
		if err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(err.Error()))
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client.
			log.Printf("%v: upgrade: %v", r.RequestURI, err)
			return
		}
		defer conn.Close()
		updates, cancel := job.Subscribe()
		defer cancel()
		for status := range updates {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(status); err != nil {
				log.Printf("%v: write: %v", r.RequestURI, err)
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}
}
