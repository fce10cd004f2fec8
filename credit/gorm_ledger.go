package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/habiliai/agentmemory/errors"
	"gorm.io/gorm"
)

type (
	WorkspaceBalance struct {
		WorkspaceID string `gorm:"primaryKey"`
		Units       int64  `gorm:"not null"`
		UpdatedAt   time.Time
	}

	CreditReservation struct {
		ID          string `gorm:"primaryKey"`
		WorkspaceID string `gorm:"index;not null"`
		Kind        string `gorm:"not null"`
		Units       int64  `gorm:"not null"`
		ActualUnits int64
		Status      string `gorm:"not null"`
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// CostVerification rows are drained by an out-of-band worker that asks the
	// provider for the real cost of a call whose usage was unknown at settle
	// time.
	CostVerification struct {
		ID            string `gorm:"primaryKey"`
		ReservationID string `gorm:"index;not null"`
		Status        string `gorm:"not null"`
		CreatedAt     time.Time
	}

	GormLedger struct {
		db *gorm.DB
	}

	gormReservation struct {
		ledger *GormLedger
		record CreditReservation
	}
)

const (
	statusHeld     = "held"
	statusSettled  = "settled"
	statusRefunded = "refunded"
	statusPending  = "pending"
)

var _ Ledger = (*GormLedger)(nil)

func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if err := db.AutoMigrate(&WorkspaceBalance{}, &CreditReservation{}, &CostVerification{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate credit ledger tables")
	}
	return &GormLedger{db: db}, nil
}

// Credit grants units to a workspace balance, creating it if needed.
func (l *GormLedger) Credit(ctx context.Context, workspaceID string, units int64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance WorkspaceBalance
		if r := tx.Find(&balance, "workspace_id = ?", workspaceID); r.Error != nil {
			return errors.Wrapf(r.Error, "failed to load balance for workspace %s", workspaceID)
		} else if r.RowsAffected == 0 {
			balance = WorkspaceBalance{WorkspaceID: workspaceID}
		}
		balance.Units += units
		if err := tx.Save(&balance).Error; err != nil {
			return errors.Wrapf(err, "failed to save balance for workspace %s", workspaceID)
		}
		return nil
	})
}

func (l *GormLedger) Balance(ctx context.Context, workspaceID string) (int64, error) {
	var balance WorkspaceBalance
	if r := l.db.WithContext(ctx).Find(&balance, "workspace_id = ?", workspaceID); r.Error != nil {
		return 0, errors.Wrapf(r.Error, "failed to load balance for workspace %s", workspaceID)
	}
	return balance.Units, nil
}

func (l *GormLedger) Reserve(ctx context.Context, workspaceID string, kind Kind, estimatedUnits int64) (Reservation, error) {
	if estimatedUnits < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "estimated units must be non-negative, got %d", estimatedUnits)
	}

	record := CreditReservation{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Kind:        string(kind),
		Units:       estimatedUnits,
		Status:      statusHeld,
	}

	if err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance WorkspaceBalance
		if r := tx.Find(&balance, "workspace_id = ?", workspaceID); r.Error != nil {
			return errors.Wrapf(r.Error, "failed to load balance for workspace %s", workspaceID)
		} else if r.RowsAffected == 0 || balance.Units < estimatedUnits {
			return errors.Wrapf(errors.ErrInsufficientCredits, "workspace %s has %d units, needs %d", workspaceID, balance.Units, estimatedUnits)
		}

		balance.Units -= estimatedUnits
		if err := tx.Save(&balance).Error; err != nil {
			return errors.Wrapf(err, "failed to hold %d units for workspace %s", estimatedUnits, workspaceID)
		}
		if err := tx.Create(&record).Error; err != nil {
			return errors.Wrapf(err, "failed to create reservation for workspace %s", workspaceID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return &gormReservation{ledger: l, record: record}, nil
}

func (r *gormReservation) ID() string {
	return r.record.ID
}

func (r *gormReservation) ReservedUnits() int64 {
	return r.record.Units
}

func (r *gormReservation) Settle(ctx context.Context, actualUnits int64) error {
	// The protocol must resolve even when the enclosing request was cancelled.
	ctx = context.WithoutCancel(ctx)

	return r.ledger.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record CreditReservation
		if err := tx.First(&record, "id = ? AND status = ?", r.record.ID, statusHeld).Error; err != nil {
			return errors.Wrapf(err, "reservation %s is not held", r.record.ID)
		}

		// Return the over-held remainder, or charge the shortfall.
		delta := record.Units - actualUnits
		if delta != 0 {
			var balance WorkspaceBalance
			if err := tx.First(&balance, "workspace_id = ?", record.WorkspaceID).Error; err != nil {
				return errors.Wrapf(err, "failed to load balance for workspace %s", record.WorkspaceID)
			}
			balance.Units += delta
			if err := tx.Save(&balance).Error; err != nil {
				return errors.Wrapf(err, "failed to adjust balance for workspace %s", record.WorkspaceID)
			}
		}

		record.ActualUnits = actualUnits
		record.Status = statusSettled
		if err := tx.Save(&record).Error; err != nil {
			return errors.Wrapf(err, "failed to settle reservation %s", record.ID)
		}
		return nil
	})
}

func (r *gormReservation) Refund(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	return r.ledger.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record CreditReservation
		if err := tx.First(&record, "id = ? AND status = ?", r.record.ID, statusHeld).Error; err != nil {
			return errors.Wrapf(err, "reservation %s is not held", r.record.ID)
		}

		var balance WorkspaceBalance
		if err := tx.First(&balance, "workspace_id = ?", record.WorkspaceID).Error; err != nil {
			return errors.Wrapf(err, "failed to load balance for workspace %s", record.WorkspaceID)
		}
		balance.Units += record.Units
		if err := tx.Save(&balance).Error; err != nil {
			return errors.Wrapf(err, "failed to refund balance for workspace %s", record.WorkspaceID)
		}

		record.Status = statusRefunded
		if err := tx.Save(&record).Error; err != nil {
			return errors.Wrapf(err, "failed to refund reservation %s", record.ID)
		}
		return nil
	})
}

func (r *gormReservation) EnqueueVerification(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	verification := CostVerification{
		ID:            uuid.NewString(),
		ReservationID: r.record.ID,
		Status:        statusPending,
	}
	if err := r.ledger.db.WithContext(ctx).Create(&verification).Error; err != nil {
		return errors.Wrapf(err, "failed to enqueue cost verification for reservation %s", r.record.ID)
	}
	return nil
}
