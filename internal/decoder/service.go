package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/bill-decoder/internal/bill"
	"github.com/zombor/bill-decoder/internal/classify"
	"github.com/zombor/bill-decoder/internal/extract"
	"github.com/zombor/bill-decoder/internal/plan"
	"github.com/zombor/bill-decoder/internal/scanning"
	"github.com/zombor/bill-decoder/internal/scoring"
)

// IDGenerator generates unique IDs for decode records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service runs uploaded bills through the extraction pipeline and keeps an
// audit record of each result
type Service struct {
	db          DB
	extractor   scanning.TextExtractor
	classifier  *classify.Classifier
	scorer      *scoring.Scorer
	storage     Storage // nil when uploads are not kept
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// storage may be nil, in which case uploads are discarded after decoding.
func NewService(db DB, extractor scanning.TextExtractor, scorer *scoring.Scorer, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, scorer, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.TextExtractor, scorer *scoring.Scorer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		classifier:  classify.New(),
		scorer:      scorer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	reFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reSpaces        = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = reFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(reSpaces.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	if ext = reFilenameChars.ReplaceAllString(strings.TrimPrefix(ext, "."), ""); ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// Decode runs one upload through text acquisition, candidate extraction,
// classification, scoring and plan generation.
//
// An unreadable document fails the whole request. When the plan cannot be
// generated the record is still saved and returned together with an error
// wrapping bill.ErrIncompleteData.
func (s *Service) Decode(ctx context.Context, filename string, data []byte, contentType string) (*Decode, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	var savedPath string
	if s.storage != nil {
		var err error
		savedPath, err = s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
		if err != nil {
			return nil, fmt.Errorf("saving file: %w", err)
		}
	}
	discard := func() {
		if savedPath == "" {
			return
		}
		if err := s.storage.Delete(savedPath); err != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", err)
		}
	}

	text, err := s.extractor.ExtractText(ctx, bill.Document{Name: filename, Data: data, MediaType: contentType})
	if err != nil {
		slog.Error("Failed to extract bill text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		discard()
		return nil, fmt.Errorf("extracting text: %w", err)
	}

	candidates := extract.Candidates(text)
	details := extract.Details(text)
	fields := s.classifier.Classify(candidates)
	verdict := s.scorer.ScoreFor(fields, details.Procedure)

	decode := &Decode{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		StoredFile:  savedPath,
		Details:     details,
		Candidates:  candidates,
		Fields:      fields,
		Verdict:     verdict,
		CreatedAt:   now,
	}

	actionPlan, planErr := plan.GenerateFor(details, fields, verdict)
	if planErr != nil {
		if !errors.Is(planErr, bill.ErrIncompleteData) {
			discard()
			return nil, planErr
		}
		slog.Warn("Bill decoded without enough data for a plan",
			"id", id,
			"filename", filename,
			"candidates", len(candidates),
		)
		decode.Error = planErr.Error()
	} else {
		decode.Plan = &actionPlan
	}

	if err := s.db.SaveDecode(decode); err != nil {
		discard()
		return nil, fmt.Errorf("saving decode to database: %w", err)
	}

	slog.Info("Decoded bill",
		"id", id,
		"filename", filename,
		"candidates", len(candidates),
		"severity", verdict.Severity.String(),
		"overcharged", verdict.IsOvercharged,
	)

	return decode, planErr
}

// GetDecode retrieves a decode record by ID
func (s *Service) GetDecode(id string) (*Decode, error) {
	decode, err := s.db.GetDecode(id)
	if err != nil {
		return nil, fmt.Errorf("getting decode: %w", err)
	}
	return decode, nil
}

// ListDecodes returns all decode records, newest first
func (s *Service) ListDecodes() ([]*Decode, error) {
	decodes, err := s.db.ListDecodes()
	if err != nil {
		return nil, fmt.Errorf("listing decodes: %w", err)
	}
	return decodes, nil
}

// DeleteDecode removes a decode record and its stored file
func (s *Service) DeleteDecode(id string) error {
	decode, err := s.db.GetDecode(id)
	if err != nil {
		return fmt.Errorf("getting decode for deletion: %w", err)
	}

	if decode.StoredFile != "" && s.storage != nil {
		if err := s.storage.Delete(decode.StoredFile); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", decode.StoredFile, "error", err)
		}
	}

	if err := s.db.DeleteDecode(id); err != nil {
		return fmt.Errorf("deleting decode from database: %w", err)
	}
	return nil
}

// GetDecodeFile retrieves the uploaded file for a decode record
func (s *Service) GetDecodeFile(id string) ([]byte, string, error) {
	decode, err := s.db.GetDecode(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting decode: %w", err)
	}
	if decode.StoredFile == "" || s.storage == nil {
		return nil, "", fmt.Errorf("file for decode %s was not kept", id)
	}

	data, err := s.storage.Get(decode.StoredFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting decode file: %w", err)
	}
	return data, decode.ContentType, nil
}

func sortNewestFirst(decodes []*Decode) {
	sort.SliceStable(decodes, func(i, j int) bool {
		if decodes[i].CreatedAt.Equal(decodes[j].CreatedAt) {
			return decodes[i].ID > decodes[j].ID
		}
		return decodes[i].CreatedAt.After(decodes[j].CreatedAt)
	})
}
