package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"giveaway/internal/models"
)

// ErrNoParticipants is returned by Draw when nobody has a positive chance.
var ErrNoParticipants = errors.New("no participants with a positive chance")

// ChanceStore is the persistence the service drives.
type ChanceStore interface {
	AddChance(ctx context.Context, userID, value int64) error
	SetChance(ctx context.Context, userID, value int64) error
	RemoveUser(ctx context.Context, userID int64) error
	Clear(ctx context.Context) error
	GetAll(ctx context.Context) (map[int64]int64, error)
	Chance(ctx context.Context, userID int64) (int64, bool, error)
}

// WinnerPicker selects a weighted-random user from a snapshot.
type WinnerPicker interface {
	Pick(users map[int64]int64) (int64, bool, error)
}

// GiveawayService manages the single active giveaway.
type GiveawayService struct {
	store  ChanceStore
	picker WinnerPicker

	mu      sync.RWMutex
	results []*models.DrawResult
	now     func() time.Time
}

// NewGiveawayService creates and initializes a new GiveawayService.
func NewGiveawayService(store ChanceStore, picker WinnerPicker) *GiveawayService {
	return &GiveawayService{
		store:   store,
		picker:  picker,
		results: make([]*models.DrawResult, 0),
		now:     time.Now,
	}
}

// AddChance increases a user's chance, creating the user if needed.
func (s *GiveawayService) AddChance(ctx context.Context, userID, value int64) error {
	if err := s.store.AddChance(ctx, userID, value); err != nil {
		logger.Errorf("add chance for user %d: %v", userID, err)
		return err
	}
	logger.Infof("Added %d chance for user %d", value, userID)
	return nil
}

// SetChance sets a user's chance to exactly value.
func (s *GiveawayService) SetChance(ctx context.Context, userID, value int64) error {
	if err := s.store.SetChance(ctx, userID, value); err != nil {
		logger.Errorf("set chance for user %d: %v", userID, err)
		return err
	}
	logger.Infof("Set chance for user %d to %d", userID, value)
	return nil
}

// RemoveUser drops a user from the giveaway.
func (s *GiveawayService) RemoveUser(ctx context.Context, userID int64) error {
	if err := s.store.RemoveUser(ctx, userID); err != nil {
		logger.Errorf("remove user %d: %v", userID, err)
		return err
	}
	logger.Infof("Removed user %d", userID)
	return nil
}

// Clear removes every user from the giveaway.
func (s *GiveawayService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		logger.Errorf("clear giveaway: %v", err)
		return err
	}
	logger.Infof("Cleared all chances")
	return nil
}

// Snapshot returns the current user -> chance mapping.
func (s *GiveawayService) Snapshot(ctx context.Context) (map[int64]int64, error) {
	return s.store.GetAll(ctx)
}

// Chance returns one user's chance.
func (s *GiveawayService) Chance(ctx context.Context, userID int64) (int64, bool, error) {
	return s.store.Chance(ctx, userID)
}

// Draw picks a winner from the current snapshot and records the result.
func (s *GiveawayService) Draw(ctx context.Context) (*models.DrawResult, error) {
	snapshot, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	winner, ok, err := s.picker.Pick(snapshot)
	if err != nil {
		return nil, fmt.Errorf("pick winner: %w", err)
	}
	if !ok {
		return nil, ErrNoParticipants
	}

	var total int64
	participants := 0
	for _, chance := range snapshot {
		if chance > 0 {
			total += chance
			participants++
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate draw id: %w", err)
	}

	result := &models.DrawResult{
		ID:           id.String(),
		WinnerID:     winner,
		WinnerChance: snapshot[winner],
		TotalChance:  total,
		Participants: participants,
		DrawnAt:      s.now().UTC(),
	}

	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()

	logger.Infof("Draw %s: user %d won with %d/%d chance among %d participants",
		result.ID, winner, result.WinnerChance, total, participants)
	return result, nil
}

// Results returns the draws made since the process started, oldest first.
func (s *GiveawayService) Results() []models.DrawResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DrawResult, len(s.results))
	for i, r := range s.results {
		out[i] = *r
	}
	return out
}

// ClearResults forgets the draw history.
func (s *GiveawayService) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = make([]*models.DrawResult, 0)
	logger.Infof("Cleared draw history")
}

// ImportCSV reads "user_id,chance" rows and sets each user's chance.
// Malformed rows are skipped; a header row is skipped the same way.
// It returns the number of rows applied.
func (s *GiveawayService) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	applied := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return applied, fmt.Errorf("read csv: %w", err)
		}

		if len(record) != 2 {
			logger.Infof("Skipping malformed CSV record: %v", record)
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			logger.Infof("Skipping CSV record with invalid user id: %v", record)
			continue
		}
		chance, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
		if err != nil {
			logger.Infof("Skipping CSV record with invalid chance: %v", record)
			continue
		}

		if err := s.store.SetChance(ctx, userID, chance); err != nil {
			return applied, err
		}
		applied++
	}

	logger.Infof("Imported %d chance records from CSV", applied)
	return applied, nil
}

// ExportCSV writes the snapshot as "user_id,chance" rows sorted by user id.
func (s *GiveawayService) ExportCSV(ctx context.Context, w io.Writer) error {
	snapshot, err := s.store.GetAll(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "chance"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, id := range ids {
		row := []string{strconv.FormatInt(id, 10), strconv.FormatInt(snapshot[id], 10)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
