// Package audit records who changed a cohort's fee configuration and when.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindSystem    ActorKind = "system"
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID string
}

// Target names what a request changed.
type Target struct {
	Action       string
	ResourceType string
	CohortID     string
	ResourceID   string
	Route        string
}

// Service persists audit entries.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an entry for req when auditing is enabled. A SamplingRate in (0,1) drops the
// remainder at random.
func (s Service) Record(ctx context.Context, actor Actor, target Target, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := strings.TrimSpace(target.Route)
	if route == "" {
		route = req.URL.Path
	}
	if status == 0 {
		status = http.StatusOK
	}
	if len(metadata) == 0 {
		metadata = queryMetadata(req.URL.RawQuery)
	}

	return s.Store.Insert(ctx, Entry{
		ActorKind:    normalizeActorKind(actor.Kind),
		ActorUserID:  strings.TrimSpace(actor.UserID),
		Action:       buildAction(target.Action, req.Method, route),
		ResourceType: buildResource(target.ResourceType, route),
		CohortID:     strings.TrimSpace(target.CohortID),
		ResourceID:   strings.TrimSpace(target.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.UserAgent()),
		RequestID:    middleware.GetReqID(ctx),
		Metadata:     metadata,
	})
}

// ActorFrom derives the actor from the authenticated user on ctx.
func ActorFrom(ctx context.Context) Actor {
	if userID, ok := common.UserID(ctx); ok && userID != "" {
		return Actor{Kind: ActorKindUser, UserID: userID}
	}
	return Actor{Kind: ActorKindAnonymous}
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// buildResource falls back to the last literal segment of the route, e.g. "fee-structure".
func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	segments := strings.Split(strings.Trim(route, "/ "), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg != "" && !strings.HasPrefix(seg, "{") {
			return seg
		}
	}
	return "unknown"
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func queryMetadata(query string) []byte {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
