package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"

	"github.com/thavlik/molsuite/pending"
)

func getCorrelationIDFromRequest(r *http.Request) (string, error) {
	newValues, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return "", fmt.Errorf("failed to parse query: %v", err)
	}
	correlationIDs, ok := newValues["correlation_id"]
	if !ok || len(correlationIDs) == 0 || correlationIDs[0] == "" {
		return "", fmt.Errorf("missing correlation_id")
	}
	return correlationIDs[0], nil
}

// handleComplete receives the output of a remote runner as the
// multipart file "data".
func (s *server) handleComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			correlationID, err := getCorrelationIDFromRequest(r)
			if err != nil {
				statusCode = http.StatusBadRequest
				return err
			}
			log.Printf("Received completion request, correlationID=%s", correlationID)
			if err := r.ParseMultipartForm(s.cfg.MultipartUploadMemory); err != nil {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("multipart form: %v", err)
			}
			file, _, err := r.FormFile("data")
			if err != nil {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("form file: %v", err)
			}
			defer file.Close()
			data, err := ioutil.ReadAll(file)
			if err != nil {
				return fmt.Errorf("failed to read file: %v", err)
			}
			if err := s.pending.FulfillSuccess(correlationID, data); errors.Is(err, pending.ErrRequestNotFound) {
				statusCode = http.StatusNotFound
				return err
			} else if err != nil {
				return fmt.Errorf("fulfill: %v", err)
			}
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

// handleError receives {"correlation_id": ..., "msg": ...} from a
// remote runner that failed.
func (s *server) handleError() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			body, err := ioutil.ReadAll(r.Body)
			if err != nil {
				return fmt.Errorf("read body: %v", err)
			}
			doc := make(map[string]interface{})
			if err := json.Unmarshal(body, &doc); err != nil {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("json: %v", err)
			}
			msg, ok := doc["msg"].(string)
			if !ok {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("missing msg")
			}
			correlationID, ok := doc["correlation_id"].(string)
			if !ok {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("missing correlation_id")
			}
			log.Printf("/error %s", msg)
			if err := s.pending.FulfillError(correlationID, msg); errors.Is(err, pending.ErrRequestNotFound) {
				statusCode = http.StatusNotFound
				return err
			} else if err != nil {
				return fmt.Errorf("fulfill: %v", err)
			}
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}
