package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// Store is the write-through interface the consumer writes through.
// Mirrors the teacher's callcontext.Store shape (constructor-injected
// connector + narrow per-entity methods) generalized to this domain's three
// row kinds.
type Store interface {
	SaveTranscript(ctx context.Context, callID string, t model.Transcript) error
	SaveIntent(ctx context.Context, callID string, v model.IntentVerdict) error
	SaveDisposition(ctx context.Context, callID string, d model.Disposition, issue, resolution, nextSteps string) error
	LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error)
}

type postgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) SaveTranscript(ctx context.Context, callID string, t model.Transcript) error {
	row := TranscriptRow{
		CallID:  callID,
		Seq:     t.Seq,
		Ts:      t.Ts,
		Text:    t.Text,
		Speaker: string(t.Speaker),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save transcript %s/%d: %w", callID, t.Seq, err)
	}
	return nil
}

func (s *postgresStore) SaveIntent(ctx context.Context, callID string, v model.IntentVerdict) error {
	row := IntentRow{
		CallID:     callID,
		Seq:        v.Seq,
		Intent:     v.Intent,
		Confidence: v.Confidence,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save intent %s/%d: %w", callID, v.Seq, err)
	}
	return nil
}

func (s *postgresStore) SaveDisposition(ctx context.Context, callID string, d model.Disposition, issue, resolution, nextSteps string) error {
	row := DispositionRow{
		CallID:     callID,
		Issue:      issue,
		Resolution: resolution,
		NextSteps:  nextSteps,
		Code:       d.Code,
		Title:      d.Title,
		Score:      d.Score,
	}
	// One disposition per call: an explicit save replaces any prior one,
	// matching the dashboard's "explicit save step" semantics in §4.5.
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Assign(row).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("store: save disposition %s: %w", callID, err)
	}
	return nil
}

func (s *postgresStore) LoadTranscripts(ctx context.Context, callID string) ([]model.Transcript, error) {
	var rows []TranscriptRow
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load transcripts %s: %w", callID, err)
	}

	out := make([]model.Transcript, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Transcript{
			InteractionID: callID,
			Seq:           r.Seq,
			Ts:            r.Ts,
			Text:          r.Text,
			Kind:          model.TranscriptFinal,
			Speaker:       model.Speaker(r.Speaker),
		})
	}
	return out, nil
}
