package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/thavlik/molsuite/materialize"
	"github.com/thavlik/molsuite/session"
	"github.com/thavlik/molsuite/viewer"
)

// handleFile serves a session's file to the viewer and to remote
// runners. The session ID in the path is the only credential.
func (s *server) handleFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			reg, ok := s.sessions.Lookup(r.PathValue("session"))
			if !ok {
				statusCode = http.StatusNotFound
				return fmt.Errorf("session not found")
			}
			f, err := reg.Get(r.PathValue("file"))
			if errors.Is(err, materialize.ErrNotFound) {
				statusCode = http.StatusNotFound
				return err
			} else if err != nil {
				return err
			}
			file, err := os.Open(f.Path)
			if err != nil {
				statusCode = http.StatusNotFound
				return fmt.Errorf("open: %v", err)
			}
			defer file.Close()
			if _, binary := viewer.FormatOf(f.Name); binary {
				w.Header().Set("Content-Type", "application/octet-stream")
			} else {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			}
			http.ServeContent(w, r, f.Name, f.CreatedAt, file)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

// handleSnapshot renders a PNG preview of ?rcsb=, ?url= or a
// session ?file=.
func (s *server) handleSnapshot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			q := r.URL.Query()
			var data []byte
			var err error
			switch {
			case q.Get("rcsb") != "":
				if _, err := viewer.NormalizePDBID(q.Get("rcsb")); err != nil {
					statusCode = http.StatusBadRequest
					return err
				}
				data, err = s.snapshots.FromRCSB(r.Context(), q.Get("rcsb"))
			case q.Get("url") != "":
				if _, err := viewer.CheckURL(q.Get("url")); err != nil {
					statusCode = http.StatusBadRequest
					return err
				}
				data, err = s.snapshots.FromURL(r.Context(), q.Get("url"))
			case q.Get("file") != "":
				sessionID := session.FromRequest(w, r)
				reg, ok := s.sessions.Lookup(sessionID)
				if !ok {
					statusCode = http.StatusNotFound
					return fmt.Errorf("session has no files")
				}
				f, lookupErr := reg.Get(q.Get("file"))
				if lookupErr != nil {
					statusCode = http.StatusNotFound
					return lookupErr
				}
				data, err = s.snapshots.FromFile(f.Path)
			default:
				statusCode = http.StatusBadRequest
				return fmt.Errorf("missing rcsb, url or file")
			}
			if errors.Is(err, viewer.ErrNoTrace) {
				statusCode = http.StatusUnprocessableEntity
				return err
			} else if errors.Is(err, viewer.ErrForbiddenAddress) {
				statusCode = http.StatusForbidden
				return err
			} else if err != nil {
				statusCode = http.StatusBadGateway
				return fmt.Errorf("snapshot: %v", err)
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

func (s *server) handleClearSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			sessionID := session.FromRequest(w, r)
			s.sessions.End(sessionID)
			if err := s.store.Clear(r.Context(), sessionID); err != nil {
				return fmt.Errorf("session: %v", err)
			}
			log.Printf("Cleared session %s", sessionID)
			target := r.FormValue("next")
			if target == "" || target[0] != '/' || (len(target) > 1 && target[1] == '/') {
				target = "/"
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
		}
	}
}

func (s *server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}
}
