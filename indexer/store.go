package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stakeescrow/core/types"
)

// DefaultListLimit caps List when the query does not set a limit.
const DefaultListLimit = 100

// addressAttributes are the event attributes that name an account.
var addressAttributes = []string{"borrower", "claimant", "from", "lender", "owner", "spender", "to"}

// EventRecord is a published ledger event.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"index;not null"`
	Attributes string `gorm:"type:text;not null"`
	CreatedAt  time.Time
	Accounts   []EventAccount `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

// EventAccount links an event to every account it names.
type EventAccount struct {
	EventID uint64 `gorm:"primaryKey"`
	Account string `gorm:"primaryKey;index"`
}

// Query filters List. Zero fields do not filter.
type Query struct {
	Account string `json:"account,omitempty"`
	Type    string `json:"type,omitempty"`
	AfterID uint64 `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Entry is a stored event as returned to API consumers.
type Entry struct {
	ID        uint64      `json:"id"`
	Event     types.Event `json:"event"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Open connects to the event database. DSNs starting with postgres:// or
// postgresql:// use Postgres; anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the event tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &EventAccount{})
}

func newRecord(evt types.Event, now time.Time) (*EventRecord, error) {
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	record := &EventRecord{Type: evt.Type, Attributes: string(raw), CreatedAt: now.UTC()}
	seen := make(map[string]struct{})
	for _, key := range addressAttributes {
		account := attrs[key]
		if account == "" {
			continue
		}
		if _, dup := seen[account]; dup {
			continue
		}
		seen[account] = struct{}{}
		record.Accounts = append(record.Accounts, EventAccount{Account: account})
	}
	sort.Slice(record.Accounts, func(i, j int) bool { return record.Accounts[i].Account < record.Accounts[j].Account })
	return record, nil
}

// List returns stored events in insertion order.
func List(ctx context.Context, db *gorm.DB, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	tx := db.WithContext(ctx).Model(&EventRecord{})
	if q.Account != "" {
		tx = tx.Where("id IN (?)", db.Model(&EventAccount{}).Select("event_id").Where("account = ?", q.Account))
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.AfterID > 0 {
		tx = tx.Where("id > ?", q.AfterID)
	}
	var records []EventRecord
	if err := tx.Order("id ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, record := range records {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", record.ID, err)
		}
		out = append(out, Entry{
			ID:        record.ID,
			Event:     types.Event{Type: record.Type, Attributes: attrs},
			CreatedAt: record.CreatedAt,
		})
	}
	return out, nil
}
