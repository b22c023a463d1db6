package repo

import (
	"context"
	"database/sql"

	"protokoll/internal/domain"
)

// UpsertAttendeesTx bulk-replaces the submitted rows keyed on
// (protocol_id, user_id). Rows for users omitted from a resubmission are
// left in place.
func (r Repo) UpsertAttendeesTx(ctx context.Context, tx *sql.Tx, attendees []domain.Attendee) error {
	for _, a := range attendees {
		_, err := tx.ExecContext(ctx, `INSERT INTO protocol_attendees(protocol_id,user_id,attendance_type,arrival_time,departure_time,capacity_tasks,capacity_responsibilities,notes) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(protocol_id,user_id) DO UPDATE SET attendance_type=excluded.attendance_type, arrival_time=excluded.arrival_time, departure_time=excluded.departure_time, capacity_tasks=excluded.capacity_tasks, capacity_responsibilities=excluded.capacity_responsibilities, notes=excluded.notes`,
			a.ProtocolID, a.UserID, a.AttendanceType, nullablePtr(a.ArrivalTime), nullablePtr(a.DepartureTime),
			a.CapacityTasks, a.CapacityResponsibilities, a.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListAttendees(ctx context.Context, protocolID string) ([]domain.Attendee, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT protocol_id,user_id,attendance_type,arrival_time,departure_time,capacity_tasks,capacity_responsibilities,notes FROM protocol_attendees WHERE protocol_id=? ORDER BY user_id`, protocolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attendee
	for rows.Next() {
		var a domain.Attendee
		var arrival, departure sql.NullString
		if err := rows.Scan(&a.ProtocolID, &a.UserID, &a.AttendanceType, &arrival, &departure,
			&a.CapacityTasks, &a.CapacityResponsibilities, &a.Notes); err != nil {
			return nil, err
		}
		a.ArrivalTime = optionalFromNull(arrival)
		a.DepartureTime = optionalFromNull(departure)
		res = append(res, a)
	}
	return res, rows.Err()
}
