package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
}

// TermService manages academic terms and their absence thresholds.
type TermService struct {
	repo      termRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService constructs the service.
func NewTermService(repo termRepository, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger}
}

// TermRequest describes create and update payloads.
type TermRequest struct {
	Name                    string    `json:"name" validate:"required"`
	StartDate               time.Time `json:"start_date" validate:"required"`
	EndDate                 time.Time `json:"end_date" validate:"required"`
	AbsenceThresholdPercent int       `json:"absence_threshold_percent" validate:"min=0,max=100"`
}

// List returns terms with pagination.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// Get returns a term by id.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Create registers a new term.
func (s *TermService) Create(ctx context.Context, req TermRequest) (*models.Term, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	term := &models.Term{
		ID:                      uuid.NewString(),
		Name:                    req.Name,
		StartDate:               req.StartDate,
		EndDate:                 req.EndDate,
		AbsenceThresholdPercent: req.AbsenceThresholdPercent,
	}
	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// Update modifies an existing term.
func (s *TermService) Update(ctx context.Context, id string, req TermRequest) (*models.Term, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	term.Name = req.Name
	term.StartDate = req.StartDate
	term.EndDate = req.EndDate
	term.AbsenceThresholdPercent = req.AbsenceThresholdPercent
	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}
	return term, nil
}

func (s *TermService) validateRequest(req TermRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "end_date must be after start_date")
	}
	return nil
}
