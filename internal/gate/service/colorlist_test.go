package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"votegate/internal/gate/models"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/audit"
	"votegate/pkg/requestcontext"
)

type ColorListSuite struct {
	gateSuite
}

func TestColorListSuite(t *testing.T) {
	suite.Run(t, new(ColorListSuite))
}

func (s *ColorListSuite) add(dim, action, value string) error {
	return s.colors.AddEntry(s.reqCtx(), models.ColorListRequest{Dimension: dim, Action: action, Value: value})
}

func (s *ColorListSuite) TestAddIsIdempotent() {
	s.Require().NoError(s.add("phone", "blacklist", phone))
	s.Require().NoError(s.add("phone", "blacklist", phone))

	entries, err := s.colors.List(s.ctx, models.ColorListFilter{Dimension: models.DimensionPhone})
	s.Require().NoError(err)
	s.Len(entries, 1)

	added := 0
	for _, a := range s.publisher.actions() {
		if a == string(audit.EventColorListAdded) {
			added++
		}
	}
	s.Equal(1, added, "duplicates are not audited")
}

func (s *ColorListSuite) TestWhitelistAndBlacklistCoexist() {
	s.Require().NoError(s.add("ip", "whitelist", clientIP))
	s.Require().NoError(s.add("ip", "blacklist", clientIP))

	white, err := s.colors.IsWhitelisted(s.ctx, models.DimensionIP, clientIP)
	s.Require().NoError(err)
	black, err := s.colors.IsBlacklisted(s.ctx, models.DimensionIP, clientIP)
	s.Require().NoError(err)
	s.True(white)
	s.True(black)
}

func (s *ColorListSuite) TestBlacklistIgnoresQueuedMessages() {
	s.Require().NoError(s.register(phone, nationalID))
	v := s.activeVoters(phone)[0]

	s.Require().NoError(s.add("phone", "blacklist", phone))

	msg, err := s.store.GetMessage(s.ctx, *v.MessageID)
	s.Require().NoError(err)
	s.Equal(models.MessageIgnore, msg.Status)
	stored, err := s.store.GetVoter(s.ctx, v.ID)
	s.Require().NoError(err)
	s.False(stored.IsActive)
	s.Contains(s.publisher.actions(), string(audit.EventQueuedIgnored))

	s.deliver()
	s.Empty(s.inbox.token(phone), "ignored message is never sent")
}

func (s *ColorListSuite) TestBlacklistByIPLeavesSentMessagesAlone() {
	s.Require().NoError(s.register(phone, nationalID))
	s.deliver()
	v := s.activeVoters(phone)[0]

	s.Require().NoError(s.add("ip", "blacklist", clientIP))

	msg, err := s.store.GetMessage(s.ctx, *v.MessageID)
	s.Require().NoError(err)
	s.Equal(models.MessageSent, msg.Status)
	s.True(s.activeVoters(phone)[0].IsActive)
}

func (s *ColorListSuite) TestRemoveEntry() {
	s.Require().NoError(s.add("phone", "whitelist", phone))

	req := models.ColorListRequest{Dimension: "phone", Action: "whitelist", Value: phone}
	n, err := s.colors.RemoveEntry(s.reqCtx(), req)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.colors.RemoveEntry(s.reqCtx(), req)
	s.Require().NoError(err)
	s.Zero(n)

	white, err := s.colors.IsWhitelisted(s.ctx, models.DimensionPhone, phone)
	s.Require().NoError(err)
	s.False(white)
}

func (s *ColorListSuite) TestInvalidRequests() {
	tests := []struct {
		name string
		req  models.ColorListRequest
	}{
		{"unknown dimension", models.ColorListRequest{Dimension: "email", Action: "blacklist", Value: "x"}},
		{"unknown action", models.ColorListRequest{Dimension: "ip", Action: "greylist", Value: "x"}},
		{"blank value", models.ColorListRequest{Dimension: "ip", Action: "blacklist", Value: "  "}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.colors.AddEntry(s.reqCtx(), tt.req)
			s.requireCode(err, dErrors.CodeInvalidInput)
			_, err = s.colors.RemoveEntry(s.reqCtx(), tt.req)
			s.requireCode(err, dErrors.CodeInvalidInput)
		})
	}
}

func (s *ColorListSuite) TestOperatorIsRecordedAsActor() {
	ctx := requestcontext.WithAdminSubject(s.reqCtx(), "ops@example.com")
	s.Require().NoError(s.colors.AddEntry(ctx, models.ColorListRequest{
		Dimension: "ip", Action: "whitelist", Value: clientIP,
	}))

	s.Require().Len(s.publisher.events, 1)
	e := s.publisher.events[0]
	s.Equal(string(audit.EventColorListAdded), e.Action)
	s.Equal("ops@example.com", e.ActorID)
	s.Equal(clientIP, e.Subject)
	s.Equal(audit.CategorySecurity, e.Category)
}

func (s *ColorListSuite) TestEntriesCarryRequestTime() {
	s.Require().NoError(s.add("phone", "blacklist", phone))
	entries, err := s.colors.Lookup(s.ctx, models.DimensionPhone, phone)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.True(entries[0].Created.Equal(s.now))
	s.WithinDuration(s.now, entries[0].Modified, time.Nanosecond)
}
