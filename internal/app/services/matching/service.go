package matching

import (
	"context"
	"strings"

	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Service builds shortlists from stored projects and developers.
type Service struct {
	projects   storage.ProjectStore
	developers storage.DeveloperStore
	limit      int
	log        *logger.Logger
}

// New constructs a matching service. limit <= 0 selects DefaultLimit.
func New(projects storage.ProjectStore, developers storage.DeveloperStore, limit int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("matching")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{projects: projects, developers: developers, limit: limit, log: log}
}

// Shortlist ranks eligible developers for the project's requirements.
func (s *Service) Shortlist(ctx context.Context, projectID string) ([]Match, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.Validation("project_id", "is required")
	}
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.developers.ListEligibleDevelopers(ctx)
	if err != nil {
		return nil, err
	}

	matches := Rank(p.Requirements, candidates, s.limit)
	s.log.WithContext(ctx).
		WithField("project_id", projectID).
		WithField("candidates", len(candidates)).
		WithField("matches", len(matches)).
		Debug("shortlist ranked")
	return matches, nil
}
