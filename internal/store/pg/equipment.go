package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"telemetra.io/internal/auth"
)

type equipmentStore struct{ tx *sql.Tx }

const equipmentColumns = `id, company_id, code, name, created_at, updated_at`

func scanEquipment(row interface{ Scan(...any) error }) (auth.Equipment, error) {
	var e auth.Equipment
	err := row.Scan(&e.ID, &e.CompanyID, &e.Code, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s equipmentStore) Find(ctx context.Context, id int64) (auth.Equipment, error) {
	e, err := scanEquipment(s.tx.QueryRowContext(ctx, `
		select `+equipmentColumns+`
		from equipment
		where id = $1
	`, id))
	if err != nil {
		return auth.Equipment{}, mapError(err)
	}
	return e, nil
}

func (s equipmentStore) List(ctx context.Context, companyIDs []int64, page auth.Page) ([]auth.Equipment, error) {
	rows, err := s.tx.QueryContext(ctx, `
		select `+equipmentColumns+`
		from equipment
		where company_id = any($1)
		order by id
		limit $2 offset $3
	`, companyIDs, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s equipmentStore) Create(ctx context.Context, e *auth.Equipment) error {
	created, err := scanEquipment(s.tx.QueryRowContext(ctx, `
		insert into equipment (company_id, code, name)
		values ($1, $2, $3)
		returning `+equipmentColumns+`
	`, e.CompanyID, e.Code, e.Name))
	if err != nil {
		return mapError(err)
	}
	*e = created
	return nil
}

type readingStore struct{ tx *sql.Tx }

func (s readingStore) List(ctx context.Context, equipmentID int64, page auth.Page) ([]auth.SensorReading, int, error) {
	var total int
	if err := s.tx.QueryRowContext(ctx, `
		select count(*) from sensor_readings where equipment_id = $1
	`, equipmentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.tx.QueryContext(ctx, `
		select id, equipment_id, recorded_at, value
		from sensor_readings
		where equipment_id = $1
		order by recorded_at desc, id desc
		limit $2 offset $3
	`, equipmentID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []auth.SensorReading{}
	for rows.Next() {
		var r auth.SensorReading
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.Timestamp, &r.Value); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Append inserts readings with a single multi-row statement.
func (s readingStore) Append(ctx context.Context, equipmentID int64, readings []auth.SensorReading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(readings)*2+1)
	)
	args = append(args, equipmentID)
	b.WriteString(`insert into sensor_readings (equipment_id, recorded_at, value) values `)
	for i, r := range readings {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($1, $%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, r.Timestamp.UTC(), r.Value)
	}
	res, err := s.tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return 0, auth.ErrNotFound
		}
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
