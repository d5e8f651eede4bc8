package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
)

type SessionService interface {
	CreateSession(ctx context.Context) (*models.SessionCreateResponse, error)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	logger      zerolog.Logger
}

func NewSessionService(sessionRepo repository.SessionRepository, logger zerolog.Logger) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		logger:      logger,
	}
}

func (s *sessionService) CreateSession(ctx context.Context) (*models.SessionCreateResponse, error) {
	session := &models.Session{
		ID:        uuid.New().String(),
		Status:    models.SessionStatusCreated.String(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Str("session_id", session.ID).Msg("Session created")

	return &models.SessionCreateResponse{
		SessionID: session.ID,
		Status:    session.Status,
	}, nil
}
