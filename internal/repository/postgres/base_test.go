package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.ErrorIs(t, mapError(sql.ErrNoRows), repository.ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("get: %w", sql.ErrNoRows)), repository.ErrNotFound)

	slot := &pq.Error{Code: uniqueViolation, Constraint: scheduleByPhysicianIndex}
	assert.ErrorIs(t, mapError(slot), repository.ErrScheduleTaken)

	slot = &pq.Error{Code: uniqueViolation, Constraint: scheduleByDestinationIndex}
	assert.ErrorIs(t, mapError(slot), repository.ErrScheduleTaken)

	dup := &pq.Error{Code: uniqueViolation, Constraint: "roles_name_key"}
	err := mapError(dup)
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	assert.False(t, errors.Is(err, repository.ErrScheduleTaken))

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%maria%", likePattern("maria"))
	assert.Equal(t, `%100\%%`, likePattern("100%"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
}

func TestReferralFilterWhere(t *testing.T) {
	r := &referralRepository{}
	requester := model.Referral{}.RequesterID

	w := r.filterWhere(model.ReferralFilter{})
	assert.Empty(t, w.String())
	assert.Empty(t, w.args)

	w = r.filterWhere(model.ReferralFilter{
		Statuses:    []model.ReferralStatus{model.StatusEmAnalise, model.StatusPendente},
		Search:      "silva",
		RequesterID: &requester,
	})
	where := w.String()
	assert.True(t, strings.HasPrefix(where, " WHERE "))
	assert.Contains(t, where, "status = ANY(?)")
	assert.Contains(t, where, "patient_name ILIKE ? OR patient_cpf ILIKE ?")
	assert.Contains(t, where, "requester_id = ?")
	assert.Len(t, w.args, 4)
}

func TestSchemaDeclaresScheduleIndexes(t *testing.T) {
	s := Schema()
	assert.Contains(t, s, scheduleByPhysicianIndex)
	assert.Contains(t, s, scheduleByDestinationIndex)
	assert.Contains(t, s, "WHERE status = 'AGENDADO'")
}
