// Package persistence provides a relational rule store on gorm
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"rule-broker/internal/logger"
	"rule-broker/internal/rule"
)

var _ rule.Store = (*RuleRepository)(nil)

// RuleRepository is a rule.Store backed by gorm
type RuleRepository struct {
	db     *gorm.DB
	logger *logger.Logger
}

// OpenSQLite opens the SQLite database at dsn and migrates the schema
func OpenSQLite(dsn string, log *logger.Logger) (*RuleRepository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return NewRuleRepository(db, log)
}

// NewRuleRepository migrates the rule tables on db
func NewRuleRepository(db *gorm.DB, log *logger.Logger) (*RuleRepository, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := db.AutoMigrate(&RuleRecord{}, &ConditionRecord{}, &ActionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating rule tables: %w", err)
	}
	return &RuleRepository{db: db, logger: log}, nil
}

func preloadChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Conditions", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Preload("Actions", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") })
}

func toRules(records []RuleRecord) ([]*rule.Rule, error) {
	out := make([]*rule.Rule, 0, len(records))
	for _, rec := range records {
		r, err := rec.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r *RuleRepository) Add(ctx context.Context, in *rule.Rule) (*rule.Rule, error) {
	if in == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	stored := in.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	rec, err := fromRule(stored)
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&RuleRecord{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return rule.ErrDuplicateRule
		}
		return tx.Create(&rec).Error
	})
	if errors.Is(err, rule.ErrDuplicateRule) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("creating rule: %w", err)
	}

	r.logger.Debug("rule stored",
		"ruleId", stored.ID,
		"clientId", stored.ClientID)

	return stored, nil
}

func (r *RuleRepository) ListByClient(ctx context.Context, clientID string) ([]*rule.Rule, error) {
	var records []RuleRecord
	err := preloadChildren(r.db.WithContext(ctx)).
		Where("client_id = ?", clientID).
		Order("created_at, id").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	return toRules(records)
}

func (r *RuleRepository) Get(ctx context.Context, clientID, ruleID string) (*rule.Rule, error) {
	var rec RuleRecord
	err := preloadChildren(r.db.WithContext(ctx)).
		Where("id = ? AND client_id = ?", ruleID, clientID).
		First(&rec).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rule.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rule: %w", err)
	}
	return rec.toRule()
}

// Remove deletes the rule and its child rows in one transaction
func (r *RuleRepository) Remove(ctx context.Context, clientID, ruleID string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND client_id = ?", ruleID, clientID).Delete(&RuleRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true

		if err := tx.Where("rule_id = ?", ruleID).Delete(&ConditionRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("rule_id = ?", ruleID).Delete(&ActionRecord{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("deleting rule: %w", err)
	}
	return removed, nil
}

func (r *RuleRepository) SetActive(ctx context.Context, clientID, ruleID string, active bool) (*rule.Rule, error) {
	res := r.db.WithContext(ctx).
		Model(&RuleRecord{}).
		Where("id = ? AND client_id = ?", ruleID, clientID).
		Update("is_active", active)
	if res.Error != nil {
		return nil, fmt.Errorf("updating rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, rule.ErrRuleNotFound
	}
	return r.Get(ctx, clientID, ruleID)
}

// MarkTriggered advances last_triggered; an older instant is ignored
func (r *RuleRepository) MarkTriggered(ctx context.Context, ruleID string, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RuleRecord
		err := tx.Select("id", "last_triggered").Where("id = ?", ruleID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rule.ErrRuleNotFound
		}
		if err != nil {
			return fmt.Errorf("query rule: %w", err)
		}
		if rec.LastTriggered != nil && !at.After(*rec.LastTriggered) {
			return nil
		}
		return tx.Model(&RuleRecord{}).Where("id = ?", ruleID).Update("last_triggered", at).Error
	})
}

// ListCandidates returns the client's active rules with a condition on
// deviceID
func (r *RuleRepository) ListCandidates(ctx context.Context, clientID, deviceID string) ([]*rule.Rule, error) {
	db := r.db.WithContext(ctx)
	referencing := db.Model(&ConditionRecord{}).Select("rule_id").Where("device_id = ?", deviceID)

	var records []RuleRecord
	err := preloadChildren(db).
		Where("client_id = ? AND is_active = ? AND id IN (?)", clientID, true, referencing).
		Order("created_at, id").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("query candidate rules: %w", err)
	}
	return toRules(records)
}

func (r *RuleRepository) CountActive(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&RuleRecord{}).Where("is_active = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return int(n), nil
}

func (r *RuleRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
