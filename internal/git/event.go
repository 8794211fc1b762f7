package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourceplane/litepipe/internal/model"
)

// ErrNotBranch is returned when the CI ref is a tag or other non-branch ref
var ErrNotBranch = errors.New("ref is not a branch")

// LookupFunc reads an environment variable, like os.LookupEnv
type LookupFunc func(key string) (string, bool)

// DetectEvent derives the triggering event from a CI environment
// (GITHUB_EVENT_NAME, GITHUB_REF, GITHUB_BASE_REF). Without one it falls back
// to a push of the current local branch.
func DetectEvent(ctx context.Context, lookup LookupFunc, cd *ChangeDetector) (model.Event, error) {
	get := func(key string) string {
		if lookup == nil {
			return ""
		}
		value, _ := lookup(key)
		return value
	}

	if name := get("GITHUB_EVENT_NAME"); name != "" {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return model.Event{}, err
		}

		event := model.Event{Kind: kind, Ref: get("GITHUB_REF"), Source: "env"}
		switch kind {
		case model.EventPullRequest:
			event.Branch = get("GITHUB_BASE_REF")
		default:
			if strings.HasPrefix(event.Ref, "refs/") && !strings.HasPrefix(event.Ref, "refs/heads/") {
				return model.Event{}, fmt.Errorf("%w: %s event for %s", ErrNotBranch, kind, event.Ref)
			}
			event.Branch = model.BranchFromRef(event.Ref)
			if ref := get("GITHUB_REF_NAME"); event.Branch == "" && ref != "" {
				event.Branch = ref
			}
		}

		if event.Branch == "" {
			return model.Event{}, fmt.Errorf("cannot determine branch for %s event from environment", kind)
		}
		return event, nil
	}

	if cd == nil {
		return model.Event{}, fmt.Errorf("no CI environment detected and no repository to inspect")
	}

	branch, err := cd.CurrentBranch(ctx)
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		Kind:   model.EventPush,
		Branch: branch,
		Ref:    "refs/heads/" + branch,
		Source: "git",
	}, nil
}
