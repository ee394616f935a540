package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

type ownershipCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// OwnershipService answers whether a teacher owns a course. It is the
// authorization collaborator consulted before any attendance mutation.
type OwnershipService struct {
	courses ownershipCourseReader
}

// NewOwnershipService constructs the service.
func NewOwnershipService(courses ownershipCourseReader) *OwnershipService {
	return &OwnershipService{courses: courses}
}

// IsOwnedByTeacher reports whether the course belongs to the teacher.
func (s *OwnershipService) IsOwnedByTeacher(ctx context.Context, courseID, teacherID string) (bool, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course.TeacherID == teacherID, nil
}
