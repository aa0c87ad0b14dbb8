package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/imaging"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/types"
)

// FeatureExtractor extracts a minutiae feature set and quality score
// from a staged grayscale fingerprint image.
type FeatureExtractor interface {
	Extract(ctx context.Context, imagePath string) (features []byte, quality int, err error)
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmployeeCode(ctx context.Context, code string) (types.User, error)
	List(ctx context.Context, activeOnly bool) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Deactivate(ctx context.Context, id int) error
}

// TemplateRepository defines persistence operations for templates.
type TemplateRepository interface {
	Create(ctx context.Context, template types.Template) (types.Template, error)
	ListForUser(ctx context.Context, userID int) ([]types.Template, error)
	CountForUser(ctx context.Context, userID int) (int, error)
	ListForActiveUsers(ctx context.Context) ([]types.Template, error)
}

// CaptureArchive stores raw capture images for audit.
type CaptureArchive interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// ErrEmployeeCodeTaken is returned when enrollment starts with an
// employee code that already exists.
var ErrEmployeeCodeTaken = errors.New("employee code already exists")

// SampleStatus classifies the outcome of one enrollment sample.
type SampleStatus int

const (
	// SampleAccepted means the sample cleared the quality gate and a
	// template was persisted.
	SampleAccepted SampleStatus = iota

	// SampleLowQuality means extraction succeeded but the quality score
	// is below the configured minimum. Nothing was persisted; the
	// attempt does not count toward the enrollment target.
	SampleLowQuality

	// SampleExtractionFailed means the extractor could not produce
	// features. Nothing was persisted; the caller retries with a fresh
	// capture.
	SampleExtractionFailed
)

// SampleResult reports the decision for one enrollment sample.
type SampleResult struct {
	Status SampleStatus

	// Quality is the extraction quality score. Zero when extraction failed.
	Quality int

	// SampleIndex is the 1-based count of accepted templates after this
	// sample, set only on acceptance.
	SampleIndex int

	// Complete is true once the user has the configured number of
	// accepted templates.
	Complete bool
}

// EnrollmentService gates enrollment samples by extraction quality and
// tracks progress toward the configured sample target. Only accepted
// samples mutate storage, so rejected attempts can be retried freely.
type EnrollmentService struct {
	users     UserRepository
	templates TemplateRepository
	extractor FeatureExtractor
	archive   CaptureArchive
	cfg       config.FingerprintConfig
	tempDir   string
	logger    *log.Logger
}

func NewEnrollmentService(
	users UserRepository,
	templates TemplateRepository,
	extractor FeatureExtractor,
	cfg config.FingerprintConfig,
	tempDir string,
	logger *log.Logger,
) *EnrollmentService {
	return &EnrollmentService{
		users:     users,
		templates: templates,
		extractor: extractor,
		cfg:       cfg,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// WithArchive enables raw capture archiving for accepted samples.
func (s *EnrollmentService) WithArchive(archive CaptureArchive) *EnrollmentService {
	s.archive = archive
	return s
}

// StartEnrollment creates the user record that samples will attach to.
func (s *EnrollmentService) StartEnrollment(ctx context.Context, name, employeeCode string) (types.User, error) {
	if _, err := s.users.GetByEmployeeCode(ctx, employeeCode); err == nil {
		return types.User{}, ErrEmployeeCodeTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	return s.users.Create(ctx, types.User{
		Name:         name,
		EmployeeCode: employeeCode,
	})
}

// SubmitSample runs one capture through extraction and the quality gate.
// A LowQuality or ExtractionFailed result leaves storage untouched.
func (s *EnrollmentService) SubmitSample(ctx context.Context, userID int, capture []byte) (SampleResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return SampleResult{}, err
	}

	imagePath, err := imaging.Stage(s.tempDir, capture)
	if err != nil {
		s.logger.Printf("enrollment: capture decode failed for user %d: %v", user.ID, err)
		return SampleResult{Status: SampleExtractionFailed}, nil
	}
	defer os.Remove(imagePath)

	features, quality, err := s.extractor.Extract(ctx, imagePath)
	if err != nil {
		s.logger.Printf("enrollment: extraction failed for user %d: %v", user.ID, err)
		return SampleResult{Status: SampleExtractionFailed}, nil
	}

	if quality < s.cfg.MinQualityScore {
		return SampleResult{Status: SampleLowQuality, Quality: quality}, nil
	}

	archiveKey := ""
	if s.archive != nil {
		archiveKey = fmt.Sprintf("captures/%s/%s.png", user.EmployeeCode, uuid.NewString())
		if err := s.archive.Store(ctx, archiveKey, capture, "image/png"); err != nil {
			// The template is the record of truth; a missing audit copy
			// is not worth rejecting the sample over.
			s.logger.Printf("enrollment: capture archive failed for user %d: %v", user.ID, err)
			archiveKey = ""
		}
	}

	if _, err := s.templates.Create(ctx, types.Template{
		UserID:     user.ID,
		Features:   features,
		Quality:    quality,
		ArchiveKey: archiveKey,
	}); err != nil {
		return SampleResult{}, err
	}

	count, err := s.templates.CountForUser(ctx, user.ID)
	if err != nil {
		return SampleResult{}, err
	}

	s.logger.Printf("enrollment: sample %d accepted for user %s (quality=%d)", count, user.EmployeeCode, quality)
	return SampleResult{
		Status:      SampleAccepted,
		Quality:     quality,
		SampleIndex: count,
		Complete:    count >= s.cfg.EnrollmentSamples,
	}, nil
}

// Complete reports whether the user has reached the enrollment target.
// Completion is always derived from the current template count, never
// stored as separate state.
func (s *EnrollmentService) Complete(ctx context.Context, userID int) (bool, error) {
	count, err := s.templates.CountForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return count >= s.cfg.EnrollmentSamples, nil
}
