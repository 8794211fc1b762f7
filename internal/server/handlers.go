package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sourceplane/litepipe/internal/logstore"
	"github.com/sourceplane/litepipe/internal/model"
)

const (
	maxPayloadBytes = 10 << 20

	eventHeader     = "X-GitHub-Event"
	signatureHeader = "X-Hub-Signature-256"
)

type commit struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

type pushPayload struct {
	Ref     string   `json:"ref"`
	Deleted bool     `json:"deleted"`
	Commits []commit `json:"commits"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
}

type dispatchRequest struct {
	Pipeline string `json:"pipeline"`
	Branch   string `json:"branch"`
}

// pull request actions that trigger pipelines
var pullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pipelines": len(s.pipelines),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		badRequest(w, r, "cannot read body")
		return
	}

	if len(s.secret) > 0 && !validSignature(s.secret, body, r.Header.Get(signatureHeader)) {
		unauthorized(w, r, "signature does not match payload")
		return
	}

	var event model.Event
	switch name := r.Header.Get(eventHeader); name {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "push":
		var payload pushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			badRequest(w, r, "invalid push payload: "+err.Error())
			return
		}
		if payload.Deleted || !strings.HasPrefix(payload.Ref, "refs/heads/") {
			s.writeDispatch(w, &DispatchResponse{Runs: []RunAccepted{}, Jobs: []string{}})
			return
		}
		event = model.Event{
			Kind:         model.EventPush,
			Branch:       model.BranchFromRef(payload.Ref),
			Ref:          payload.Ref,
			ChangedFiles: changedFiles(payload.Commits),
			Source:       "webhook",
		}
	case "pull_request":
		var payload pullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			badRequest(w, r, "invalid pull_request payload: "+err.Error())
			return
		}
		if payload.PullRequest.Base.Ref == "" {
			badRequest(w, r, "pull_request payload has no base ref")
			return
		}
		if !pullRequestActions[payload.Action] {
			s.writeDispatch(w, &DispatchResponse{Runs: []RunAccepted{}, Jobs: []string{}})
			return
		}
		event = model.Event{
			Kind:   model.EventPullRequest,
			Branch: payload.PullRequest.Base.Ref,
			Source: "webhook",
		}
	case "":
		badRequest(w, r, "missing "+eventHeader+" header")
		return
	default:
		badRequest(w, r, fmt.Sprintf("unsupported event %q", name))
		return
	}

	response, err := s.Dispatch(event)
	if err != nil {
		unprocessable(w, r, err)
		return
	}
	s.writeDispatch(w, response)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "invalid dispatch request: "+err.Error())
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = s.defaultBranch
	}
	event := model.Event{
		Kind:   model.EventWorkflowDispatch,
		Branch: branch,
		Ref:    "refs/heads/" + branch,
		Source: "api",
	}

	var (
		response *DispatchResponse
		err      error
	)
	if req.Pipeline != "" {
		response, err = s.DispatchPipeline(req.Pipeline, event)
	} else {
		response, err = s.Dispatch(event)
	}
	if errors.Is(err, errUnknownPipeline) {
		notFound(w, r, err.Error())
		return
	}
	if err != nil {
		unprocessable(w, r, err)
		return
	}
	s.writeDispatch(w, response)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, status, err := s.lookupRun(id)
	switch {
	case errors.Is(err, logstore.ErrRunNotFound):
		notFound(w, r, "run "+id+" not found")
	case err != nil:
		internalError(w, r, err)
	case status != nil:
		writeJSON(w, http.StatusOK, status)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.runIDs()
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

// writeDispatch answers 202 when runs started and 200 when nothing matched
func (s *Server) writeDispatch(w http.ResponseWriter, response *DispatchResponse) {
	status := http.StatusOK
	if len(response.Runs) > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, response)
}

func validSignature(secret, body []byte, header string) bool {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// changedFiles returns nil when the payload names no files, so path
// filters treat the change set as unknown
func changedFiles(commits []commit) []string {
	seen := make(map[string]bool)
	for _, c := range commits {
		for _, group := range [][]string{c.Added, c.Removed, c.Modified} {
			for _, f := range group {
				seen[f] = true
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
