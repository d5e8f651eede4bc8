package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
)

type ImageService interface {
	RegisterImage(ctx context.Context, req *models.ImageRegisterRequest) error
	CreateSignedUploadURL(ctx context.Context, req *models.SignedURLRequest) (*models.SignedURLResponse, error)
}

type imageService struct {
	sessionRepo repository.SessionRepository
	imageRepo   repository.ImageRepository
	storageRepo repository.StorageRepository
	urlExpiry   time.Duration
	logger      zerolog.Logger
}

func NewImageService(
	sessionRepo repository.SessionRepository,
	imageRepo repository.ImageRepository,
	storageRepo repository.StorageRepository,
	urlExpiry time.Duration,
	logger zerolog.Logger,
) ImageService {
	return &imageService{
		sessionRepo: sessionRepo,
		imageRepo:   imageRepo,
		storageRepo: storageRepo,
		urlExpiry:   urlExpiry,
		logger:      logger,
	}
}

func (s *imageService) RegisterImage(ctx context.Context, req *models.ImageRegisterRequest) error {
	if req.URL == "" {
		return NewBadRequest("url must be a non-empty string")
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") && !strings.HasPrefix(req.URL, "data:") {
		return NewBadRequest("url must start with http(s) or data:")
	}
	if !models.IsValidImageRole(req.Role) {
		return NewUnprocessable("role must be one of: student, answer_key")
	}
	if req.OrderIndex < 0 {
		return NewUnprocessable("order_index must be >= 0")
	}

	// Проверяем существование сессии
	session, err := s.sessionRepo.GetByID(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound()
	}

	// Идемпотентность по (session_id, url)
	existingByURL, err := s.imageRepo.GetBySessionAndURL(ctx, req.SessionID, req.URL)
	if err != nil {
		return fmt.Errorf("failed to check image by url: %w", err)
	}
	if existingByURL != nil {
		return nil
	}

	// Слот (session_id, role, order_index) не должен быть занят другим URL
	existingSlot, err := s.imageRepo.GetBySlot(ctx, req.SessionID, req.Role, req.OrderIndex)
	if err != nil {
		return fmt.Errorf("failed to check image slot: %w", err)
	}
	if existingSlot != nil {
		if existingSlot.URL != req.URL {
			return &ValidationError{
				Status:  http.StatusBadRequest,
				Code:    CodeOrderIndexTaken,
				Message: "order_index already used for this role",
				Details: map[string]interface{}{"role": req.Role, "order_index": req.OrderIndex},
			}
		}
		return nil
	}

	// Индексы внутри роли идут подряд, начиная с нуля
	count, err := s.imageRepo.CountByRole(ctx, req.SessionID, req.Role)
	if err != nil {
		return fmt.Errorf("failed to count images for role: %w", err)
	}
	if req.OrderIndex != count {
		return &ValidationError{
			Status:  http.StatusBadRequest,
			Code:    CodeNonContiguousOrder,
			Message: "order_index must be contiguous per role starting at 0",
			Details: map[string]interface{}{"expected": count, "got": req.OrderIndex, "role": req.Role},
		}
	}

	image := &models.Image{
		ID:         uuid.New().String(),
		SessionID:  req.SessionID,
		Role:       req.Role,
		URL:        req.URL,
		OrderIndex: req.OrderIndex,
		CreatedAt:  time.Now(),
	}
	if err := s.imageRepo.Create(ctx, image); err != nil {
		return fmt.Errorf("failed to register image: %w", err)
	}

	s.logger.Info().
		Str("session_id", req.SessionID).
		Str("role", req.Role).
		Int("order_index", req.OrderIndex).
		Msg("Image registered")

	return nil
}

func (s *imageService) CreateSignedUploadURL(ctx context.Context, req *models.SignedURLRequest) (*models.SignedURLResponse, error) {
	if req.Filename == "" || strings.Contains(req.Filename, "/") || strings.Contains(req.Filename, "..") {
		return nil, NewBadRequest("invalid filename")
	}
	if req.ContentType == "" {
		return nil, NewBadRequest("content_type is required")
	}

	// Случайный сегмент пути исключает коллизии одинаковых имён файлов
	objectPath := fmt.Sprintf("%s/%s", strings.ReplaceAll(uuid.New().String(), "-", ""), req.Filename)

	uploadURL, err := s.storageRepo.PresignedUpload(ctx, objectPath, s.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed upload URL: %w", err)
	}

	return &models.SignedURLResponse{
		UploadURL: uploadURL,
		Path:      objectPath,
		Headers:   map[string]string{"Content-Type": req.ContentType},
		PublicURL: s.storageRepo.PublicURL(objectPath),
	}, nil
}
