package services

import (
	"context"

	"github.com/checador/device/types"
)

// UserSummary is a user plus their enrollment progress.
type UserSummary struct {
	types.User

	// TemplateCount is the number of accepted enrollment samples.
	TemplateCount int `json:"template_count"`

	// Enrolled is true once the user reached the enrollment target.
	Enrolled bool `json:"enrolled"`
}

// UserService encapsulates user administration use-cases.
type UserService struct {
	users             UserRepository
	templates         TemplateRepository
	enrollmentSamples int
}

func NewUserService(users UserRepository, templates TemplateRepository, enrollmentSamples int) *UserService {
	return &UserService{
		users:             users,
		templates:         templates,
		enrollmentSamples: enrollmentSamples,
	}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

// List returns every user with their template count, inactive included.
func (s *UserService) List(ctx context.Context) ([]UserSummary, error) {
	users, err := s.users.List(ctx, false)
	if err != nil {
		return nil, err
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, user := range users {
		count, err := s.templates.CountForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, UserSummary{
			User:          user,
			TemplateCount: count,
			Enrolled:      count >= s.enrollmentSamples,
		})
	}
	return summaries, nil
}

// Deactivate soft-deletes a user, removing their templates from the
// gallery without deleting any record.
func (s *UserService) Deactivate(ctx context.Context, id int) error {
	return s.users.Deactivate(ctx, id)
}
