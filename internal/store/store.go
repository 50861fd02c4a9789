package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parkpeek-guard/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	FindIdentity(ctx context.Context, studentNumber string) (*model.Profile, error)
	FindVehicle(ctx context.Context, userID, plate string) (*model.Vehicle, error)
	GetLocation(ctx context.Context, name string) (*model.ParkingSlot, error)
	ListLocations(ctx context.Context) ([]model.ParkingSlot, error)
	FindActiveSession(ctx context.Context, userID string, slotID int64) (*model.ParkingTransaction, error)
	SetOccupancy(ctx context.Context, name string, value int) (*model.ParkingSlot, error)
	RecountOccupancy(ctx context.Context, name string) (*model.ParkingSlot, error)

	ClockIn(ctx context.Context, req ClockInRequest) (*Transition, error)
	ClockOut(ctx context.Context, req ClockOutRequest) (*Transition, error)

	FindGuardByEmail(ctx context.Context, email string) (*model.Guard, error)
	FindGuardByID(ctx context.Context, id string) (*model.Guard, error)
	CreateGuard(ctx context.Context, guard *model.Guard) error
	CreateReport(ctx context.Context, report *model.Report) error
	ListReports(ctx context.Context, limit int) ([]model.Report, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription, slotIDs []int64) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) FindIdentity(ctx context.Context, studentNumber string) (*model.Profile, error) {
	var profile model.Profile
	if err := s.db.WithContext(ctx).Where("student_number = ?", studentNumber).First(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

// FindVehicle only matches vehicles owned by userID.
func (s *gormStore) FindVehicle(ctx context.Context, userID, plate string) (*model.Vehicle, error) {
	var vehicle model.Vehicle
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND plate_number = ?", userID, plate).
		First(&vehicle).Error; err != nil {
		return nil, notFound(err)
	}
	return &vehicle, nil
}

func (s *gormStore) GetLocation(ctx context.Context, name string) (*model.ParkingSlot, error) {
	var slot model.ParkingSlot
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&slot).Error; err != nil {
		return nil, notFound(err)
	}
	return &slot, nil
}

func (s *gormStore) ListLocations(ctx context.Context) ([]model.ParkingSlot, error) {
	var slots []model.ParkingSlot
	if err := s.db.WithContext(ctx).Order("id").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to list parking slots: %w", err)
	}
	return slots, nil
}

func (s *gormStore) FindActiveSession(ctx context.Context, userID string, slotID int64) (*model.ParkingTransaction, error) {
	var session model.ParkingTransaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND parking_slot_id = ? AND status = ?", userID, slotID, model.SessionActive).
		Order("time_in DESC").
		First(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// SetOccupancy overwrites the counter of a slot, clamped to its capacity.
func (s *gormStore) SetOccupancy(ctx context.Context, name string, value int) (*model.ParkingSlot, error) {
	var slot model.ParkingSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSlot(tx).Where("name = ?", name).First(&slot).Error; err != nil {
			return notFound(err)
		}
		return setOccupancy(tx, &slot, value)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// RecountOccupancy rebuilds the counter of a slot from its active sessions.
func (s *gormStore) RecountOccupancy(ctx context.Context, name string) (*model.ParkingSlot, error) {
	var slot model.ParkingSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSlot(tx).Where("name = ?", name).First(&slot).Error; err != nil {
			return notFound(err)
		}
		var active int64
		if err := tx.Model(&model.ParkingTransaction{}).
			Where("parking_slot_id = ? AND status = ?", slot.ID, model.SessionActive).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to count active sessions for slot %d: %w", slot.ID, err)
		}
		return setOccupancy(tx, &slot, int(active))
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// ClockIn creates an active session and increments the slot counter in one transaction.
func (s *gormStore) ClockIn(ctx context.Context, req ClockInRequest) (*Transition, error) {
	var result Transition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.ParkingSlot
		if err := lockSlot(tx).First(&slot, req.SlotID).Error; err != nil {
			return notFound(err)
		}
		if slot.CurrentOccupancy >= slot.TotalCapacity {
			return ErrSlotFull
		}

		var active int64
		if err := tx.Model(&model.ParkingTransaction{}).
			Where("user_id = ? AND parking_slot_id = ? AND status = ?", req.UserID, req.SlotID, model.SessionActive).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to check active sessions: %w", err)
		}
		if active > 0 {
			return ErrAlreadyActive
		}

		session := model.ParkingTransaction{
			UserID:        req.UserID,
			VehicleID:     req.VehicleID,
			ParkingSlotID: req.SlotID,
			TimeIn:        req.At,
			Status:        model.SessionActive,
			CreatedAt:     req.At,
			UpdatedAt:     req.At,
		}
		if err := tx.Create(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyActive
			}
			return fmt.Errorf("failed to create parking transaction: %w", err)
		}

		result.PreviousOccupancy = slot.CurrentOccupancy
		if err := setOccupancy(tx, &slot, slot.CurrentOccupancy+1); err != nil {
			return err
		}
		result.Session = session
		result.Slot = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ClockOut completes the matching active session and decrements the slot counter in one transaction.
func (s *gormStore) ClockOut(ctx context.Context, req ClockOutRequest) (*Transition, error) {
	var result Transition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.ParkingSlot
		if err := lockSlot(tx).First(&slot, req.SlotID).Error; err != nil {
			return notFound(err)
		}

		var sessions []model.ParkingTransaction
		if err := tx.
			Where("user_id = ? AND vehicle_id = ? AND parking_slot_id = ? AND status = ? AND time_out IS NULL",
				req.UserID, req.VehicleID, req.SlotID, model.SessionActive).
			Order("time_in DESC").
			Find(&sessions).Error; err != nil {
			return fmt.Errorf("failed to look up active session: %w", err)
		}
		switch {
		case len(sessions) == 0:
			return ErrNoActiveSession
		case len(sessions) > 1:
			return ErrMultipleActive
		}
		if slot.CurrentOccupancy <= 0 {
			return ErrSlotEmpty
		}

		session := sessions[0]
		at := req.At
		res := tx.Model(&model.ParkingTransaction{}).
			Where("id = ? AND status = ?", session.ID, model.SessionActive).
			Updates(map[string]any{
				"time_out":   at,
				"status":     model.SessionCompleted,
				"updated_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to close parking transaction %d: %w", session.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrNoActiveSession
		}
		session.TimeOut = &at
		session.Status = model.SessionCompleted
		session.UpdatedAt = at

		result.PreviousOccupancy = slot.CurrentOccupancy
		if err := setOccupancy(tx, &slot, slot.CurrentOccupancy-1); err != nil {
			return err
		}
		result.Session = session
		result.Slot = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *gormStore) FindGuardByEmail(ctx context.Context, email string) (*model.Guard, error) {
	var guard model.Guard
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&guard).Error; err != nil {
		return nil, notFound(err)
	}
	return &guard, nil
}

func (s *gormStore) FindGuardByID(ctx context.Context, id string) (*model.Guard, error) {
	var guard model.Guard
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&guard).Error; err != nil {
		return nil, notFound(err)
	}
	return &guard, nil
}

func (s *gormStore) CreateGuard(ctx context.Context, guard *model.Guard) error {
	if err := s.db.WithContext(ctx).Create(guard).Error; err != nil {
		return fmt.Errorf("failed to create guard %q: %w", guard.Email, err)
	}
	return nil
}

func (s *gormStore) CreateReport(ctx context.Context, report *model.Report) error {
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (s *gormStore) ListReports(ctx context.Context, limit int) ([]model.Report, error) {
	var reports []model.Report
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// SaveSubscription upserts sub and replaces the slots it follows. Every slot ID must exist.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription, slotIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slots []*model.ParkingSlot
		if len(slotIDs) > 0 {
			if err := tx.Find(&slots, slotIDs).Error; err != nil {
				return fmt.Errorf("failed to load parking slots: %w", err)
			}
			if len(slots) != countDistinct(slotIDs) {
				return ErrNotFound
			}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		if err := tx.Model(sub).Association("Slots").Replace(slots); err != nil {
			return fmt.Errorf("failed to map subscription slots: %w", err)
		}
		sub.Slots = slots
		return nil
	})
}

func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Slots", func(db *gorm.DB) *gorm.DB {
		return db.Order("parking_slots.id")
	}).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// DeleteSubscription removes the subscription and its slot mappings. Unknown endpoints are not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_slot_mapping WHERE push_subscription_endpoint = ?", endpoint).Error; err != nil {
			return fmt.Errorf("failed to unmap subscription: %w", err)
		}
		if err := tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		return nil
	})
}

// --- Helpers ---

func countDistinct(ids []int64) int {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// lockSlot takes a row lock on PostgreSQL. SQLite serializes writers on its own.
func lockSlot(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func setOccupancy(tx *gorm.DB, slot *model.ParkingSlot, value int) error {
	clamped := Clamp(value, slot.TotalCapacity)
	if err := tx.Model(&model.ParkingSlot{}).
		Where("id = ?", slot.ID).
		Update("current_occupancy", clamped).Error; err != nil {
		return fmt.Errorf("failed to update occupancy for slot %d: %w", slot.ID, err)
	}
	slot.CurrentOccupancy = clamped
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
