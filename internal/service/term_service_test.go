package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type termRepoStub struct {
	term    *models.Term
	created []*models.Term
	updated []*models.Term
}

func (s *termRepoStub) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	if s.term == nil {
		return nil, 0, nil
	}
	return []models.Term{*s.term}, 1, nil
}

func (s *termRepoStub) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if s.term == nil || s.term.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *s.term
	return &clone, nil
}

func (s *termRepoStub) Create(ctx context.Context, term *models.Term) error {
	s.created = append(s.created, term)
	return nil
}

func (s *termRepoStub) Update(ctx context.Context, term *models.Term) error {
	s.updated = append(s.updated, term)
	return nil
}

func validTermRequest() TermRequest {
	return TermRequest{
		Name:                    "2026 Spring",
		StartDate:               time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:                 time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		AbsenceThresholdPercent: 25,
	}
}

func TestTermServiceCreate(t *testing.T) {
	repo := &termRepoStub{}
	svc := NewTermService(repo, nil, nil)

	term, err := svc.Create(context.Background(), validTermRequest())

	assert.NoError(t, err)
	assert.NotEmpty(t, term.ID)
	assert.Equal(t, 25, term.AbsenceThresholdPercent)
	assert.Len(t, repo.created, 1)
}

func TestTermServiceCreateRejectsThresholdOutOfRange(t *testing.T) {
	svc := NewTermService(&termRepoStub{}, nil, nil)

	req := validTermRequest()
	req.AbsenceThresholdPercent = 101
	_, err := svc.Create(context.Background(), req)

	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTermServiceCreateRejectsInvertedDates(t *testing.T) {
	svc := NewTermService(&termRepoStub{}, nil, nil)

	req := validTermRequest()
	req.EndDate = req.StartDate
	_, err := svc.Create(context.Background(), req)

	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTermServiceUpdate(t *testing.T) {
	repo := &termRepoStub{term: &models.Term{ID: "term-1", Name: "Old", AbsenceThresholdPercent: 25}}
	svc := NewTermService(repo, nil, nil)

	req := validTermRequest()
	req.AbsenceThresholdPercent = 30
	term, err := svc.Update(context.Background(), "term-1", req)

	assert.NoError(t, err)
	assert.Equal(t, 30, term.AbsenceThresholdPercent)
	if assert.Len(t, repo.updated, 1) {
		assert.Equal(t, "term-1", repo.updated[0].ID)
	}
}

func TestTermServiceUpdateNotFound(t *testing.T) {
	svc := NewTermService(&termRepoStub{}, nil, nil)

	_, err := svc.Update(context.Background(), "missing", validTermRequest())

	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
