package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

const referralColumns = `
	id, created_at, updated_at, requester_id, patient_name, birth_date, patient_cpf,
	status, origin_unit, requesting_physician, specialty, attachment, notes,
	attending_physician, appointment_date, appointment_slot, destination, authorizer_id,
	denial_justification, attended, procedure_performed, procedure_outcome`

const (
	orderRegulation = `CASE
		WHEN status IN ('EM_ANALISE', 'PENDENTE') THEN 0
		WHEN status = 'AGENDADO' THEN 1
		ELSE 2 END ASC, created_at DESC`
	orderOrigin = `CASE status
		WHEN 'PENDENTE' THEN 0
		WHEN 'EM_ANALISE' THEN 1
		WHEN 'AGENDADO' THEN 2
		WHEN 'CONCLUIDO' THEN 3
		ELSE 4 END ASC, created_at DESC`
	orderOutpatient = `appointment_date ASC NULLS LAST, appointment_slot ASC NULLS LAST`
	orderNewest     = `created_at DESC`
)

type referralRepository struct {
	BaseRepository
}

func NewReferralRepository(db *sqlx.DB) repository.ReferralRepository {
	return &referralRepository{NewBaseRepository(db)}
}

func (r *referralRepository) Create(ctx context.Context, f *model.Referral) error {
	query := `
		INSERT INTO referrals (
			id, created_at, updated_at, requester_id, patient_name, birth_date, patient_cpf,
			status, origin_unit, requesting_physician, specialty, attachment, notes,
			procedure_performed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		f.ID,
		f.CreatedAt,
		f.UpdatedAt,
		f.RequesterID,
		f.PatientName,
		f.BirthDate,
		f.PatientCPF,
		f.Status,
		f.OriginUnit,
		f.RequestingPhysician,
		f.Specialty,
		f.Attachment,
		f.Notes,
		f.ProcedurePerformed,
	)
	if err != nil {
		return fmt.Errorf("failed to create referral: %w", mapError(err))
	}
	return nil
}

func (r *referralRepository) Get(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	var f model.Referral
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`
	if err := r.conn(ctx).GetContext(ctx, &f, query, id); err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}

func (r *referralRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	var f model.Referral
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1 FOR UPDATE`
	if err := r.conn(ctx).GetContext(ctx, &f, query, id); err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}

func (r *referralRepository) Update(ctx context.Context, f *model.Referral) error {
	query := `
		UPDATE referrals SET
			updated_at = $1,
			patient_name = $2,
			birth_date = $3,
			patient_cpf = $4,
			status = $5,
			origin_unit = $6,
			requesting_physician = $7,
			specialty = $8,
			attachment = $9,
			attending_physician = $10,
			appointment_date = $11,
			appointment_slot = $12,
			destination = $13,
			authorizer_id = $14,
			denial_justification = $15,
			attended = $16,
			procedure_performed = $17,
			procedure_outcome = $18
		WHERE id = $19
	`
	f.UpdatedAt = time.Now().UTC()

	res, err := r.conn(ctx).ExecContext(ctx, query,
		f.UpdatedAt,
		f.PatientName,
		f.BirthDate,
		f.PatientCPF,
		f.Status,
		f.OriginUnit,
		f.RequestingPhysician,
		f.Specialty,
		f.Attachment,
		f.AttendingPhysician,
		f.AppointmentDate,
		f.AppointmentSlot,
		f.Destination,
		f.AuthorizerID,
		f.DenialJustification,
		f.Attended,
		f.ProcedurePerformed,
		f.ProcedureOutcome,
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", mapError(err))
	}
	return checkAffected(res)
}

func (r *referralRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM referrals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete referral: %w", err)
	}
	return checkAffected(res)
}

func (r *referralRepository) CountScheduleConflicts(ctx context.Context, excludeID uuid.UUID, s model.Schedule) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM referrals
		WHERE id <> $1
		  AND status = 'AGENDADO'
		  AND appointment_date = $2
		  AND appointment_slot = $3
		  AND (attending_physician = $4 OR destination = $5)
	`
	var n int
	if err := r.conn(ctx).GetContext(ctx, &n, query, excludeID, s.Date, s.Slot, s.Physician, s.Destination); err != nil {
		return 0, fmt.Errorf("failed to count schedule conflicts: %w", err)
	}
	return n, nil
}

func (r *referralRepository) filterWhere(filter model.ReferralFilter) *whereBuilder {
	w := &whereBuilder{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		w.add(`status = ANY(?)`, pq.Array(statuses))
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		w.add(`(patient_name ILIKE ? OR patient_cpf ILIKE ?)`, p, p)
	}
	if filter.RequesterID != nil {
		w.add(`requester_id = ?`, *filter.RequesterID)
	}
	if filter.From != nil || filter.To != nil {
		column := `created_at::date`
		if filter.DateField == model.DateFieldAppointment {
			column = `appointment_date`
			w.add(`appointment_date IS NOT NULL`)
		}
		if filter.From != nil {
			w.add(column+` >= ?`, *filter.From)
		}
		if filter.To != nil {
			w.add(column+` <= ?`, *filter.To)
		}
	}
	return w
}

func (r *referralRepository) List(ctx context.Context, filter model.ReferralFilter) ([]*model.Referral, error) {
	w := r.filterWhere(filter)

	order := orderNewest
	switch filter.Order {
	case model.OrderRegulation:
		order = orderRegulation
	case model.OrderOrigin:
		order = orderOrigin
	case model.OrderOutpatient:
		order = orderOutpatient
	}

	query := `SELECT ` + referralColumns + ` FROM referrals` + w.String() +
		` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	args := append(w.args, filter.Limit(), filter.Offset())

	var items []*model.Referral
	if err := r.conn(ctx).SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return items, nil
}

func (r *referralRepository) Stats(ctx context.Context, filter model.ReferralFilter) (*model.ReferralStats, error) {
	w := r.filterWhere(filter)

	var totals struct {
		Total    int `db:"total"`
		Attended int `db:"attended"`
		Absent   int `db:"absent"`
	}
	totalsQuery := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE attended IS TRUE) AS attended,
		       COUNT(*) FILTER (WHERE attended IS FALSE) AS absent
		FROM referrals` + w.String()
	if err := r.conn(ctx).GetContext(ctx, &totals, r.db.Rebind(totalsQuery), w.args...); err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}

	var byStatus []struct {
		Status model.ReferralStatus `db:"status"`
		Count  int                  `db:"count"`
	}
	statusQuery := `SELECT status, COUNT(*) AS count FROM referrals` + w.String() + ` GROUP BY status`
	if err := r.conn(ctx).SelectContext(ctx, &byStatus, r.db.Rebind(statusQuery), w.args...); err != nil {
		return nil, fmt.Errorf("failed to count referrals by status: %w", err)
	}

	stats := &model.ReferralStats{
		Total:      totals.Total,
		ByStatus:   make(map[model.ReferralStatus]int, len(model.AllStatuses)),
		Attended:   totals.Attended,
		Absent:     totals.Absent,
		Unrecorded: totals.Total - totals.Attended - totals.Absent,
	}
	for _, s := range model.AllStatuses {
		stats.ByStatus[s] = 0
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
	}
	return stats, nil
}

func (r *referralRepository) Agenda(ctx context.Context, filter model.AgendaFilter) ([]*model.Referral, error) {
	w := &whereBuilder{}
	w.add(`status = 'AGENDADO'`)
	w.add(`appointment_date IS NOT NULL`)
	w.add(`appointment_date >= ?`, filter.From)
	w.add(`appointment_date <= ?`, filter.To)
	if filter.Physician != "" {
		w.add(`attending_physician ILIKE ?`, likePattern(filter.Physician))
	}
	if filter.Destination != "" {
		w.add(`destination ILIKE ?`, likePattern(filter.Destination))
	}
	if filter.Specialty != "" {
		w.add(`specialty ILIKE ?`, likePattern(filter.Specialty))
	}

	query := `SELECT ` + referralColumns + ` FROM referrals` + w.String() +
		` ORDER BY appointment_date ASC, appointment_slot ASC`

	var items []*model.Referral
	if err := r.conn(ctx).SelectContext(ctx, &items, r.db.Rebind(query), w.args...); err != nil {
		return nil, fmt.Errorf("failed to load agenda: %w", err)
	}
	return items, nil
}

func (r *referralRepository) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT %[1]s
		FROM referrals
		WHERE %[1]s IS NOT NULL AND %[1]s <> ''
		ORDER BY %[1]s ASC`, column)
	var values []string
	if err := r.conn(ctx).SelectContext(ctx, &values, query); err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", column, err)
	}
	return values, nil
}

func (r *referralRepository) ScheduleOptions(ctx context.Context) (*model.ScheduleOptions, error) {
	physicians, err := r.distinct(ctx, "attending_physician")
	if err != nil {
		return nil, err
	}
	destinations, err := r.distinct(ctx, "destination")
	if err != nil {
		return nil, err
	}
	specialties, err := r.distinct(ctx, "specialty")
	if err != nil {
		return nil, err
	}
	return &model.ScheduleOptions{
		Physicians:   physicians,
		Destinations: destinations,
		Specialties:  specialties,
	}, nil
}
