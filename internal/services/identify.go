package services

import (
	"context"
	"log"
	"os"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/imaging"
	"github.com/checador/device/types"
)

// Matcher computes the similarity score between two feature sets.
type Matcher interface {
	Match(ctx context.Context, probe, candidate []byte) (int, error)
}

// IdentifyStatus classifies the outcome of an identification attempt.
type IdentifyStatus int

const (
	// IdentifyMatched means a gallery template scored at or above the
	// match threshold.
	IdentifyMatched IdentifyStatus = iota

	// IdentifyNoMatch means the scan completed but no template cleared
	// the threshold. The best score is still reported for diagnostics.
	IdentifyNoMatch

	// IdentifyExtractionFailed means features could not be extracted
	// from the probe. Distinct from no-match: the gallery was never
	// consulted.
	IdentifyExtractionFailed
)

// IdentifyResult reports the decision for one identification attempt.
type IdentifyResult struct {
	Status IdentifyStatus

	// UserID is the owner of the winning template, set only on a match.
	UserID int

	// Score is the maximum score seen across the gallery scan.
	Score int
}

// IdentifyService runs 1:N identification: extract a probe, scan every
// template of every active user, and accept the maximum score if it
// clears the threshold. The scan is linear in gallery size, which is
// bounded by on-premise headcount.
type IdentifyService struct {
	templates TemplateRepository
	extractor FeatureExtractor
	matcher   Matcher
	cfg       config.FingerprintConfig
	tempDir   string
	logger    *log.Logger
}

func NewIdentifyService(
	templates TemplateRepository,
	extractor FeatureExtractor,
	matcher Matcher,
	cfg config.FingerprintConfig,
	tempDir string,
	logger *log.Logger,
) *IdentifyService {
	return &IdentifyService{
		templates: templates,
		extractor: extractor,
		matcher:   matcher,
		cfg:       cfg,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// Identify matches a capture against the gallery of active users.
func (s *IdentifyService) Identify(ctx context.Context, capture []byte) (IdentifyResult, error) {
	imagePath, err := imaging.Stage(s.tempDir, capture)
	if err != nil {
		s.logger.Printf("identify: capture decode failed: %v", err)
		return IdentifyResult{Status: IdentifyExtractionFailed}, nil
	}
	defer os.Remove(imagePath)

	probe, _, err := s.extractor.Extract(ctx, imagePath)
	if err != nil {
		s.logger.Printf("identify: probe extraction failed: %v", err)
		return IdentifyResult{Status: IdentifyExtractionFailed}, nil
	}

	gallery, err := s.templates.ListForActiveUsers(ctx)
	if err != nil {
		return IdentifyResult{}, err
	}

	// Template counts per user feed the tie-break below.
	counts := make(map[int]int, len(gallery))
	for _, t := range gallery {
		counts[t.UserID]++
	}

	var best *types.Template
	bestScore := 0
	for i := range gallery {
		candidate := &gallery[i]
		score, err := s.matcher.Match(ctx, probe, candidate.Features)
		if err != nil {
			// One bad comparison must not abort the scan.
			s.logger.Printf("identify: match failed for template %d: %v", candidate.ID, err)
			continue
		}

		switch {
		case best == nil, score > bestScore:
			best = candidate
			bestScore = score
		case score == bestScore:
			if preferOnTie(candidate, best, counts) {
				best = candidate
			}
		}
	}

	if best == nil || bestScore < s.cfg.MatchThreshold {
		s.logger.Printf("identify: no match (best=%d, threshold=%d)", bestScore, s.cfg.MatchThreshold)
		return IdentifyResult{Status: IdentifyNoMatch, Score: bestScore}, nil
	}

	s.logger.Printf("identify: matched user %d (score=%d)", best.UserID, bestScore)
	return IdentifyResult{Status: IdentifyMatched, UserID: best.UserID, Score: bestScore}, nil
}

// preferOnTie decides between two templates with identical top scores.
// Score alone has no natural tie-break, so the policy is explicit:
// prefer the user with more enrolled templates (more evidence behind the
// match), then the earliest-created template, then the lowest ID. The
// result never depends on gallery iteration order.
func preferOnTie(candidate, current *types.Template, counts map[int]int) bool {
	if counts[candidate.UserID] != counts[current.UserID] {
		return counts[candidate.UserID] > counts[current.UserID]
	}
	if !candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.CreatedAt.Before(current.CreatedAt)
	}
	return candidate.ID < current.ID
}
