package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

const observationColumns = `type, code, to_char(date, 'YYYY-MM-DD'), name, value, unit, source,
	forex_buying, forex_selling, banknote_buying, banknote_selling, cross_rate_usd, cross_rate_other`

// UpsertObservation inserts or replaces the row keyed by (type, code, date).
func (s *Store) UpsertObservation(ctx context.Context, o ingest.FinancialObservation) error {
	query := `
		INSERT INTO financial_data (
			type, code, date, name, value, unit, source,
			forex_buying, forex_selling, banknote_buying, banknote_selling, cross_rate_usd, cross_rate_other
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (type, code, date) DO UPDATE SET
			name = EXCLUDED.name,
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			source = EXCLUDED.source,
			forex_buying = EXCLUDED.forex_buying,
			forex_selling = EXCLUDED.forex_selling,
			banknote_buying = EXCLUDED.banknote_buying,
			banknote_selling = EXCLUDED.banknote_selling,
			cross_rate_usd = EXCLUDED.cross_rate_usd,
			cross_rate_other = EXCLUDED.cross_rate_other`
	_, err := s.pool.Exec(ctx, query,
		string(o.Type),
		o.Code,
		o.Date,
		o.Name,
		o.Value,
		o.Unit,
		o.Source,
		o.ForexBuying,
		o.ForexSelling,
		o.BanknoteBuying,
		o.BanknoteSelling,
		o.CrossRateUSD,
		o.CrossRateOther,
	)
	if err != nil {
		return fmt.Errorf("upsert observation %s: %w", o.Key(), err)
	}
	return nil
}

// ObservationsForDate returns every row of typ on date ordered by code.
func (s *Store) ObservationsForDate(ctx context.Context, typ ingest.ObservationType, date string) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data WHERE type = $1 AND date = $2::date ORDER BY code`,
		string(typ), date)
}

// LatestObservations returns the rows of typ on the most recent stored date.
func (s *Store) LatestObservations(ctx context.Context, typ ingest.ObservationType) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data
		WHERE type = $1 AND date = (SELECT max(date) FROM financial_data WHERE type = $1)
		ORDER BY code`,
		string(typ))
}

// ObservationRange returns rows of typ and code with from <= date <= to, oldest first.
func (s *Store) ObservationRange(
	ctx context.Context,
	typ ingest.ObservationType,
	code, from, to string,
) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data
		WHERE type = $1 AND code = $2 AND date BETWEEN $3::date AND $4::date
		ORDER BY date`,
		string(typ), code, from, to)
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]ingest.FinancialObservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := []ingest.FinancialObservation{}
	for rows.Next() {
		var (
			o   ingest.FinancialObservation
			typ string
		)
		err := rows.Scan(
			&typ,
			&o.Code,
			&o.Date,
			&o.Name,
			&o.Value,
			&o.Unit,
			&o.Source,
			&o.ForexBuying,
			&o.ForexSelling,
			&o.BanknoteBuying,
			&o.BanknoteSelling,
			&o.CrossRateUSD,
			&o.CrossRateOther,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		o.Type = ingest.ObservationType(typ)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}
