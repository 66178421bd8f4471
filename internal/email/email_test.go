package email

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

type mockService struct {
	mock.Mock
}

func (m *mockService) SendReferralScheduled(ctx context.Context, to string, ev *model.ReferralEvent) error {
	return m.Called(ctx, to, ev).Error(0)
}

func (m *mockService) SendReferralDenied(ctx context.Context, to string, ev *model.ReferralEvent) error {
	return m.Called(ctx, to, ev).Error(0)
}

func (m *mockService) SendRevisionRequested(ctx context.Context, to string, ev *model.ReferralEvent) error {
	return m.Called(ctx, to, ev).Error(0)
}

func (m *mockService) SendCustom(ctx context.Context, to, subject, content string) error {
	return m.Called(ctx, to, subject, content).Error(0)
}

func TestMailerHeaders(t *testing.T) {
	d := &fakeDialer{}
	m := newMailer(d, Config{Username: "smtp@sisreg.local", SenderName: "SISREG"}, time.FixedZone("BRT", -3*60*60))

	ev := &model.ReferralEvent{
		PatientName: "Maria <script>",
		ActorName:   "Joana",
		Reason:      "Fora do protocolo",
		OccurredAt:  time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.SendReferralDenied(context.Background(), "ubs@example.com", ev))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"SISREG <smtp@sisreg.local>"}, d.sent[0].GetHeader("From"))
	assert.Equal(t, []string{"ubs@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Encaminhamento negado - Maria <script>"}, d.sent[0].GetHeader("Subject"))

	d.err = errors.New("connection refused")
	err := m.SendCustom(context.Background(), "ubs@example.com", "x", "y")
	assert.ErrorContains(t, err, "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendCustom(ctx, "ubs@example.com", "x", "y"), context.Canceled)
}

func TestReferralNotifier(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	requester := &model.User{Name: "UBS", Username: "ubs", Email: "ubs@example.com", IsActive: true}
	require.NoError(t, store.Users().Create(ctx, requester))

	payload, err := json.Marshal(model.ReferralEvent{
		ReferralID:  uuid.New(),
		RequesterID: requester.ID,
		PatientName: "Maria",
		Reason:      "Falta exame",
	})
	require.NoError(t, err)

	svc := &mockService{}
	svc.On("SendRevisionRequested", mock.Anything, "ubs@example.com", mock.MatchedBy(func(ev *model.ReferralEvent) bool {
		return ev.Reason == "Falta exame"
	})).Return(nil).Once()
	n := NewReferralNotifier(store.Users(), svc)

	sent, err := n.Notify(ctx, model.EventReferralRevisionRequested, payload)
	require.NoError(t, err)
	assert.True(t, sent)

	// Events without a notification are skipped
	sent, err = n.Notify(ctx, model.EventReferralCreated, payload)
	require.NoError(t, err)
	assert.False(t, sent)

	// Unknown requester is skipped
	orphan, err := json.Marshal(model.ReferralEvent{RequesterID: uuid.New()})
	require.NoError(t, err)
	sent, err = n.Notify(ctx, model.EventReferralDenied, orphan)
	require.NoError(t, err)
	assert.False(t, sent)

	svc.On("SendReferralScheduled", mock.Anything, "ubs@example.com", mock.Anything).Return(errors.New("smtp down")).Once()
	_, err = n.Notify(ctx, model.EventReferralAuthorized, payload)
	assert.ErrorContains(t, err, "smtp down")

	_, err = n.Notify(ctx, model.EventReferralDenied, []byte("{"))
	assert.Error(t, err)

	svc.AssertExpectations(t)
}
