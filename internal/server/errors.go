package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moogar0880/problems"
)

const problemMediaType = "application/problem+json"

var errUnknownPipeline = errors.New("unknown pipeline")

func writeProblem(w http.ResponseWriter, status int, problem any) {
	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail)

	writeProblem(w, http.StatusBadRequest, problem)
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusUnauthorized).
		WithInstance(r.URL.Path).
		WithType("invalid_signature").
		WithDetail(detail)

	writeProblem(w, http.StatusUnauthorized, problem)
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusNotFound).
		WithInstance(r.URL.Path).
		WithType("not_found").
		WithDetail(detail)

	writeProblem(w, http.StatusNotFound, problem)
}

func unprocessable(w http.ResponseWriter, r *http.Request, err error) {
	problem := problems.NewStatusProblem(http.StatusUnprocessableEntity).
		WithInstance(r.URL.Path).
		WithType("plan_error").
		WithDetail(err.Error())

	writeProblem(w, http.StatusUnprocessableEntity, problem)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	problem := problems.NewStatusProblem(http.StatusInternalServerError).
		WithInstance(r.URL.Path).
		WithType("internal_error").
		WithError(err)

	writeProblem(w, http.StatusInternalServerError, problem)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
