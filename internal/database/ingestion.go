package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/asin-availability/internal/models"
)

// LatestAvailability is the most recent ingestion row for one ASIN.
type LatestAvailability struct {
	ASIN          string    `json:"asin"`
	Header        string    `json:"header"`
	Availability  *string   `json:"availability"`
	IsBlockedPage bool      `json:"is_doggy"`
	CheckDate     time.Time `json:"check_date"`
}

// InsertIngestion appends one availability row. Rows are never updated, so
// checking the same ASIN twice on one day leaves two rows. When event is
// non-nil it is written to the outbox in the same transaction.
func (db *DB) InsertIngestion(ctx context.Context, rec *models.IngestionRecord, event *OutboxEvent) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var availability *string
	if rec.Availability != models.AvailabilityUnset {
		a := string(rec.Availability)
		availability = &a
	}

	query := `
		INSERT INTO asin_availability (id, asin, header, availability, is_doggy, check_date)
		VALUES ($1, $2, $3, $4, $5, $6)`

	return db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			rec.ID, rec.ASIN, rec.Header, availability, rec.IsBlockedPage, rec.CheckDate,
		); err != nil {
			return fmt.Errorf("failed to insert ingestion record: %w", err)
		}

		if event == nil {
			return nil
		}
		return NewOutboxRepository(db).InsertWithTx(ctx, tx, event)
	})
}

// ListLatestAvailability returns the newest row per ASIN.
func (db *DB) ListLatestAvailability(ctx context.Context) ([]*LatestAvailability, error) {
	query := `
		SELECT DISTINCT ON (asin) asin, header, availability, is_doggy, check_date
		FROM asin_availability
		ORDER BY asin, check_date DESC, created_at DESC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest availability: %w", err)
	}
	defer rows.Close()

	var out []*LatestAvailability
	for rows.Next() {
		l := &LatestAvailability{}
		if err := rows.Scan(&l.ASIN, &l.Header, &l.Availability, &l.IsBlockedPage, &l.CheckDate); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		out = append(out, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// ListASINs returns the catalog's ASINs in their stored order. The list is
// read once per run.
func (db *DB) ListASINs(ctx context.Context) ([]string, error) {
	query := `
		SELECT asin
		FROM products
		WHERE asin IS NOT NULL AND asin <> ''
		ORDER BY created_at ASC, asin ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var asins []string
	for rows.Next() {
		var asin string
		if err := rows.Scan(&asin); err != nil {
			return nil, fmt.Errorf("failed to scan asin: %w", err)
		}
		asins = append(asins, asin)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return asins, nil
}
