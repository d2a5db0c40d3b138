package qapi

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

// Version is reported in the OpenAPI documents.
const Version = "1.0.0"

func NewApi(title string) *Api {
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig(title, Version)
	// Response bodies are the bare wire documents, without $schema links.
	config.CreateHooks = nil

	api := humachi.New(router, config)

	return &Api{Api: api, Router: router}
}

// ErrorModel is the body of every error response: {"error": "..."}.
type ErrorModel struct {
	Status  int    `json:"-"`
	Message string `json:"error" doc:"Error message"`
}

func (e *ErrorModel) Error() string {
	return e.Message
}

func (e *ErrorModel) GetStatus() int {
	return e.Status
}

func newError(status int, msg string, errs ...error) huma.StatusError {
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		details = append(details, err.Error())
	}
	if len(details) > 0 {
		if msg == "" {
			msg = strings.Join(details, "; ")
		} else {
			msg = msg + ": " + strings.Join(details, "; ")
		}
	}
	return &ErrorModel{Status: status, Message: msg}
}

func init() {
	huma.NewError = newError
}
