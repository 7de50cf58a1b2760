package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-ews-api/internal/matching"
	"github.com/noah-isme/sma-ews-api/internal/models"
	appErrors "github.com/noah-isme/sma-ews-api/pkg/errors"
)

const mappingStatsCacheKey = "mappings:stats"

type mappingStore interface {
	Create(ctx context.Context, mapping *models.IdentityMapping) error
	FindByID(ctx context.Context, id string) (*models.IdentityMapping, error)
	FindActiveByDeviceUser(ctx context.Context, deviceUserID string) (*models.IdentityMapping, error)
	FindVerifiedByStudent(ctx context.Context, nis string) (*models.IdentityMapping, error)
	ListByStatus(ctx context.Context, status models.MappingStatus, page, pageSize int) ([]models.MappingDetail, int, error)
	UpdateStatus(ctx context.Context, id string, status models.MappingStatus, verifiedBy string) (*models.IdentityMapping, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, department string) (*models.MappingStats, error)
}

type unmappedUserLister interface {
	ListUnmappedByDepartment(ctx context.Context, department string) ([]models.DeviceUser, error)
}

type activeStudentLister interface {
	ListActive(ctx context.Context) ([]models.Student, error)
}

// MappingConfig tunes the fuzzy identity resolver.
type MappingConfig struct {
	AutoThreshold     int
	SuggestionFloor   int
	MaxSuggestions    int
	StudentDepartment string
}

// MappingService resolves device user identities against the student
// registry and runs the human verification workflow.
type MappingService struct {
	mappings    mappingStore
	deviceUsers unmappedUserLister
	students    activeStudentLister
	cache       *CacheService
	cfg         MappingConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewMappingService constructs the mapping service.
func NewMappingService(mappings mappingStore, deviceUsers unmappedUserLister, students activeStudentLister, cache *CacheService, cfg MappingConfig, validate *validator.Validate, logger *zap.Logger) *MappingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AutoThreshold <= 0 {
		cfg.AutoThreshold = 90
	}
	if cfg.SuggestionFloor <= 0 {
		cfg.SuggestionFloor = 50
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 3
	}
	if cfg.StudentDepartment == "" {
		cfg.StudentDepartment = "SISWA"
	}
	return &MappingService{
		mappings:    mappings,
		deviceUsers: deviceUsers,
		students:    students,
		cache:       cache,
		cfg:         cfg,
		validator:   validate,
		logger:      logger,
	}
}

// AutoMap proposes pending mappings for every unmapped device user in the
// student department whose best fuzzy match clears the threshold. Device
// users with an existing pending or verified mapping are never reconsidered.
func (s *MappingService) AutoMap(ctx context.Context, req models.AutoMapRequest) (*models.AutoMapResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "threshold must be between 1 and 100")
	}
	threshold := s.cfg.AutoThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	unmapped, err := s.deviceUsers.ListUnmappedByDepartment(ctx, s.cfg.StudentDepartment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load unmapped device users")
	}
	students, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
	}

	result := &models.AutoMapResult{Threshold: threshold, Candidates: len(unmapped)}
	for _, du := range unmapped {
		if strings.TrimSpace(du.DisplayName) == "" {
			result.Skipped++
			continue
		}
		bestScore := 0
		bestNIS := ""
		for _, st := range students {
			score := matching.Score(du.DisplayName, st.FullName)
			if score > bestScore {
				bestScore = score
				bestNIS = st.NIS
			}
		}
		if bestScore < threshold || bestNIS == "" {
			result.Unmatched++
			continue
		}
		mapping := &models.IdentityMapping{
			DeviceUserID: du.ID,
			StudentNIS:   bestNIS,
			Similarity:   bestScore,
			Status:       models.MappingStatusPending,
		}
		if err := s.mappings.Create(ctx, mapping); err != nil {
			s.logger.Error("auto-map insert failed",
				zap.String("device_user_id", du.ID),
				zap.String("student_nis", bestNIS),
				zap.Error(err))
			result.Skipped++
			continue
		}
		result.Created++
	}

	s.invalidateStats(ctx)
	s.logger.Info("auto-map run finished",
		zap.Int("threshold", threshold),
		zap.Int("candidates", result.Candidates),
		zap.Int("created", result.Created),
		zap.Int("unmatched", result.Unmatched),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// Unmapped returns device users in the student department without an active
// mapping, each with its top-ranked candidate students.
func (s *MappingService) Unmapped(ctx context.Context, page, pageSize int) ([]models.UnmappedDeviceUser, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	unmapped, err := s.deviceUsers.ListUnmappedByDepartment(ctx, s.cfg.StudentDepartment)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load unmapped device users")
	}
	students, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
	}

	total := len(unmapped)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]models.UnmappedDeviceUser, 0, end-start)
	for _, du := range unmapped[start:end] {
		out = append(out, models.UnmappedDeviceUser{
			DeviceUser:  du,
			Suggestions: s.suggestFor(du.DisplayName, students),
		})
	}
	return out, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// suggestFor ranks candidate students for one device user name. Only scores
// at or above the suggestion floor survive.
func (s *MappingService) suggestFor(displayName string, students []models.Student) []models.MappingSuggestion {
	if strings.TrimSpace(displayName) == "" {
		return nil
	}
	suggestions := make([]models.MappingSuggestion, 0, len(students))
	for _, st := range students {
		score := matching.Score(displayName, st.FullName)
		if score < s.cfg.SuggestionFloor {
			continue
		}
		suggestions = append(suggestions, models.MappingSuggestion{
			StudentNIS:  st.NIS,
			StudentName: st.FullName,
			Score:       score,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool { return suggestions[i].Score > suggestions[j].Score })
	if len(suggestions) > s.cfg.MaxSuggestions {
		suggestions = suggestions[:s.cfg.MaxSuggestions]
	}
	return suggestions
}

// Suggestions lists pending mappings awaiting a verification decision.
func (s *MappingService) Suggestions(ctx context.Context, page, pageSize int) ([]models.MappingDetail, *models.Pagination, error) {
	details, total, err := s.mappings.ListByStatus(ctx, models.MappingStatusPending, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending mappings")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	return details, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Verify records a human decision on one mapping. Verifying fails with a
// conflict when the device user or the student is already claimed by a
// different verified mapping.
func (s *MappingService) Verify(ctx context.Context, id string, req models.VerifyMappingRequest, verifiedBy string) (*models.IdentityMapping, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "status is required")
	}
	if !req.Status.Decision() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be verified or rejected")
	}

	existing, err := s.mappings.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mapping not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping")
	}
	if existing.Status == req.Status {
		return existing, nil
	}

	if req.Status == models.MappingStatusVerified {
		if err := s.checkVerifyConflicts(ctx, existing); err != nil {
			return nil, err
		}
	}

	updated, err := s.mappings.UpdateStatus(ctx, id, req.Status, verifiedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mapping not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update mapping")
	}

	s.invalidateStats(ctx)
	s.logger.Info("mapping decision recorded",
		zap.String("mapping_id", id),
		zap.String("status", string(req.Status)),
		zap.String("verified_by", verifiedBy))
	return updated, nil
}

func (s *MappingService) checkVerifyConflicts(ctx context.Context, mapping *models.IdentityMapping) error {
	active, err := s.mappings.FindActiveByDeviceUser(ctx, mapping.DeviceUserID)
	if err != nil && err != sql.ErrNoRows {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check device user mapping")
	}
	if active != nil && active.ID != mapping.ID && active.Status == models.MappingStatusVerified {
		return appErrors.Clone(appErrors.ErrConflict, "device user already has a verified mapping")
	}

	claimed, err := s.mappings.FindVerifiedByStudent(ctx, mapping.StudentNIS)
	if err != nil && err != sql.ErrNoRows {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student mapping")
	}
	if claimed != nil && claimed.ID != mapping.ID {
		return appErrors.Clone(appErrors.ErrConflict, "student is already mapped to another device user")
	}
	return nil
}

// BulkVerify applies many decisions with per-item isolation. One failing
// item never blocks the rest.
func (s *MappingService) BulkVerify(ctx context.Context, req models.BulkVerifyRequest, verifiedBy string) (*models.BulkVerifyResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "items are required")
	}

	result := &models.BulkVerifyResult{Outcomes: make([]models.BulkVerifyOutcome, 0, len(req.Items))}
	for _, item := range req.Items {
		outcome := models.BulkVerifyOutcome{MappingID: item.MappingID}
		if _, err := s.Verify(ctx, item.MappingID, models.VerifyMappingRequest{Status: item.Status}, verifiedBy); err != nil {
			outcome.Error = appErrors.FromError(err).Message
			result.Failed++
		} else {
			outcome.Success = true
			result.Succeeded++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

// Stats summarises resolver progress, cached briefly because operators poll
// it while working a verification queue.
func (s *MappingService) Stats(ctx context.Context) (*models.MappingStats, error) {
	var cached models.MappingStats
	if hit, err := s.cache.Get(ctx, mappingStatsCacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	stats, err := s.mappings.Stats(ctx, s.cfg.StudentDepartment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapping stats")
	}
	if err := s.cache.Set(ctx, mappingStatsCacheKey, stats, 0); err != nil {
		s.logger.Warn("failed to cache mapping stats", zap.Error(err))
	}
	return stats, nil
}

// Delete removes a mapping row entirely. Rejection is the normal audit path;
// deletion exists for operator mistakes.
func (s *MappingService) Delete(ctx context.Context, id string) error {
	if err := s.mappings.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "mapping not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete mapping")
	}
	s.invalidateStats(ctx)
	return nil
}

func (s *MappingService) invalidateStats(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, mappingStatsCacheKey); err != nil {
		s.logger.Warn("failed to invalidate mapping stats cache", zap.Error(err))
	}
}
