package history

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm/clause"

	"main/internal/schema"
	"main/pkg/conn"
)

// barRecord is the persisted row layout. Timestamps are stored as
// unix milliseconds so range scans stay index-friendly.
type barRecord struct {
	ID       uint   `gorm:"primaryKey"`
	FIGI     string `gorm:"index:idx_bar_key,unique;size:32"`
	Interval uint16 `gorm:"index:idx_bar_key,unique"`
	Ts       int64  `gorm:"index:idx_bar_key,unique"`
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

func (barRecord) TableName() string { return "history_bars" }

// Store keeps historical bars in an embedded database so the session
// can serve history while fully offline.
type Store struct {
	client *conn.Client
}

// NewStore migrates the schema and returns a ready store.
func NewStore(client *conn.Client) (*Store, error) {
	if err := client.DB().AutoMigrate(&barRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate history schema")
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// SaveBars upserts bars keyed by instrument, interval, and timestamp.
// Re-saving an overlapping range overwrites rather than duplicates.
func (s *Store) SaveBars(ctx context.Context, bars []schema.HistoryBar) error {
	if len(bars) == 0 {
		return nil
	}
	records := make([]barRecord, 0, len(bars))
	for _, bar := range bars {
		records = append(records, barRecord{
			FIGI:     bar.FIGI,
			Interval: uint16(bar.Interval),
			Ts:       bar.Time.UnixMilli(),
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.Volume,
		})
	}
	err := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "figi"}, {Name: "interval"}, {Name: "ts"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		Create(&records).Error
	if err != nil {
		return errors.Wrap(err, "save bars").With("count", len(bars))
	}
	return nil
}

// LoadBars returns bars for [from, to] in ascending time order.
func (s *Store) LoadBars(ctx context.Context, figi string, interval schema.Interval, from, to time.Time) ([]schema.HistoryBar, error) {
	var records []barRecord
	err := s.client.DB().WithContext(ctx).
		Where("figi = ? AND interval = ? AND ts >= ? AND ts <= ?",
			figi, uint16(interval), from.UnixMilli(), to.UnixMilli()).
		Order("ts ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "load bars").With("figi", figi)
	}

	bars := make([]schema.HistoryBar, 0, len(records))
	for _, rec := range records {
		bars = append(bars, schema.HistoryBar{
			FIGI:     rec.FIGI,
			Interval: schema.Interval(rec.Interval),
			Open:     rec.Open,
			High:     rec.High,
			Low:      rec.Low,
			Close:    rec.Close,
			Volume:   rec.Volume,
			Time:     time.UnixMilli(rec.Ts).UTC(),
		})
	}
	return bars, nil
}

// Coverage reports the stored range and row count for an instrument.
func (s *Store) Coverage(ctx context.Context, figi string, interval schema.Interval) (from, to time.Time, count int64, err error) {
	type bounds struct {
		Min   int64
		Max   int64
		Count int64
	}
	var b bounds
	err = s.client.DB().WithContext(ctx).
		Model(&barRecord{}).
		Select("COALESCE(MIN(ts),0) AS min, COALESCE(MAX(ts),0) AS max, COUNT(*) AS count").
		Where("figi = ? AND interval = ?", figi, uint16(interval)).
		Scan(&b).Error
	if err != nil {
		return time.Time{}, time.Time{}, 0, errors.Wrap(err, "history coverage").With("figi", figi)
	}
	if b.Count == 0 {
		return time.Time{}, time.Time{}, 0, nil
	}
	return time.UnixMilli(b.Min).UTC(), time.UnixMilli(b.Max).UTC(), b.Count, nil
}
