package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func quote(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestCountScheduleConflicts(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReferralRepository(db)

	self := uuid.New()
	s := model.Schedule{
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Slot:        "09:00",
		Destination: "Clinic A",
		Physician:   "Dr. X",
	}

	mock.ExpectQuery(quote("status = 'AGENDADO'") + `(?s).*` + quote("AND (attending_physician = $4 OR destination = $5)")).
		WithArgs(self, s.Date, s.Slot, s.Physician, s.Destination).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountScheduleConflicts(context.Background(), self, s)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func referralUpdateArgs(f *model.Referral) []driver.Value {
	args := make([]driver.Value, 19)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[4] = string(f.Status)
	args[18] = f.ID
	return args
}

func TestReferralUpdateMapsScheduleIndexViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReferralRepository(db)
	f := &model.Referral{Base: model.Base{ID: uuid.New()}, Status: model.StatusAgendado}

	mock.ExpectExec(quote("UPDATE referrals SET")).
		WithArgs(referralUpdateArgs(f)...).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: scheduleByPhysicianIndex})

	err := repo.Update(context.Background(), f)
	assert.ErrorIs(t, err, repository.ErrScheduleTaken)
}

func TestReferralUpdateMissingRow(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReferralRepository(db)
	f := &model.Referral{Base: model.Base{ID: uuid.New()}, Status: model.StatusEmAnalise}

	mock.ExpectExec(quote("UPDATE referrals SET")).
		WithArgs(referralUpdateArgs(f)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Update(context.Background(), f), repository.ErrNotFound)
}

func TestStripPermission(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRoleRepository(db)

	mock.ExpectExec(quote("SET permissions = array_remove(permissions, $1)") + `(?s).*` + quote("WHERE $1 = ANY(permissions)")).
		WithArgs(model.PermAlterStatus, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.StripPermission(context.Background(), model.PermAlterStatus)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAuditLatest(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	referralID := uuid.New()
	actorID := uuid.New()
	at := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	latest := quote("WHERE referral_id = $1 AND action = $2") + `(?s).*` + quote("ORDER BY created_at DESC, seq DESC") + `(?s).*` + quote("LIMIT 1")

	mock.ExpectQuery(latest).
		WithArgs(referralID, string(model.AuditRequestRevision)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "referral_id", "created_at", "actor_id", "actor_name", "action", "payload", "note",
		}).AddRow(uuid.New().String(), referralID.String(), at, actorID.String(), "reg", string(model.AuditRequestRevision), "Falta exame", ""))

	e, err := repo.Latest(ctx, referralID, model.AuditRequestRevision)
	require.NoError(t, err)
	assert.Equal(t, "Falta exame", e.Payload)
	assert.Equal(t, model.AuditRequestRevision, e.Action)
	require.NotNil(t, e.ActorID)
	assert.Equal(t, actorID, *e.ActorID)

	mock.ExpectQuery(latest).
		WithArgs(referralID, string(model.AuditResubmit)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.Latest(ctx, referralID, model.AuditResubmit)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestClaimPendingEvents(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOutboxRepository(db)

	lease := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	older := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	olderID, newerID := uuid.New(), uuid.New()

	columns := []string{
		"id", "event_type", "payload", "status", "error_message", "created_at",
		"processed_at", "updated_at", "retry_count", "retry_at",
	}
	mock.ExpectQuery(quote("UPDATE outbox_events") + `(?s).*` +
		quote("OR (status = $1 AND retry_at <= NOW())") + `(?s).*` +
		quote("FOR UPDATE SKIP LOCKED") + `(?s).*` + quote("RETURNING")).
		WithArgs(string(model.OutboxStatusProcessing), lease, string(model.OutboxStatusPending), 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(newerID.String(), model.EventReferralDenied, []byte(`{}`), "PROCESSING", nil, newer, nil, newer, 0, lease).
			AddRow(olderID.String(), model.EventReferralCreated, []byte(`{}`), "PROCESSING", nil, older, nil, older, 1, lease))

	events, err := repo.ClaimPendingEvents(context.Background(), 10, lease)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, olderID, events[0].ID)
	assert.Equal(t, newerID, events[1].ID)
	assert.Equal(t, model.OutboxStatusProcessing, events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
}

func TestMarkRetryReleasesClaim(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOutboxRepository(db)
	id := uuid.New()
	retryAt := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)

	mock.ExpectExec(quote("SET status = $1, retry_count = retry_count + 1")).
		WithArgs(string(model.OutboxStatusPending), "redis down", retryAt, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRetry(context.Background(), id, "redis down", retryAt))
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock := setupMockDB(t)
	tx := NewTransactor(db)
	roles := NewRoleRepository(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(quote("DELETE FROM user_roles WHERE role_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if err := roles.DetachFromUsers(ctx, uuid.New()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithinTxCommits(t *testing.T) {
	db, mock := setupMockDB(t)
	tx := NewTransactor(db)
	roles := NewRoleRepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(quote("DELETE FROM user_roles WHERE role_id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(quote("DELETE FROM roles WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if err := roles.DetachFromUsers(ctx, id); err != nil {
			return err
		}
		return roles.Delete(ctx, id)
	})
	require.NoError(t, err)
}
