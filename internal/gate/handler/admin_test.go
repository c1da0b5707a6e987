package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"votegate/internal/gate/models"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/requestcontext"
	"votegate/pkg/testutil"
)

func (s *HandlerSuite) adminRequest(method, query string, body any) *http.Request {
	token, err := s.tokens.Issue("ops@example.com", time.Hour)
	s.Require().NoError(err)
	req := testutil.NewJSONRequest(s.T(), method, "/api/v1/admin/colorlist"+query, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *HandlerSuite) TestAdminRequiresToken() {
	t := s.T()

	testutil.When(t, "no bearer token is sent", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodGet, "/api/v1/admin/colorlist", nil)
		rr := testutil.DoRequest(s.router, req)
		testutil.Then(t, "it is unauthorized", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		})
	})

	testutil.When(t, "the token is malformed", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodGet, "/api/v1/admin/colorlist", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rr := testutil.DoRequest(s.router, req)
		testutil.Then(t, "it is unauthorized", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		})
	})
}

func (s *HandlerSuite) TestAdminListFilters() {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.colors.EXPECT().
		List(gomock.Any(), models.ColorListFilter{Dimension: models.DimensionIP, Action: models.ActionBlacklist}).
		Return([]*models.ColorListEntry{{
			ID: 3, Dimension: models.DimensionIP, Action: models.ActionBlacklist,
			Value: testIP, Created: created, Modified: created,
		}}, nil)

	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodGet, "?dimension=ip&action=blacklist", nil))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	type listResponse struct {
		Entries []models.ColorListEntry `json:"entries"`
	}
	resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
	s.Require().Len(resp.Entries, 1)
	s.Equal(testIP, resp.Entries[0].Value)
	s.True(resp.Entries[0].Created.Equal(created))
}

func (s *HandlerSuite) TestAdminListIsNeverNull() {
	s.colors.EXPECT().List(gomock.Any(), models.ColorListFilter{}).Return(nil, nil)

	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodGet, "", nil))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.JSONEq(`{"entries":[]}`, rr.Body.String())
}

func (s *HandlerSuite) TestAdminListRejectsUnknownDimension() {
	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodGet, "?dimension=email", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestAdminAdd() {
	req := models.ColorListRequest{Dimension: "phone", Action: "whitelist", Value: testPhone}
	s.colors.EXPECT().
		AddEntry(gomock.Any(), req).
		DoAndReturn(func(ctx context.Context, _ models.ColorListRequest) error {
			s.Equal("ops@example.com", requestcontext.AdminSubject(ctx))
			return nil
		})

	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodPost, "", req))

	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
}

func (s *HandlerSuite) TestAdminAddRejectsUnknownFields() {
	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodPost, "", map[string]string{
		"dimension": "ip", "action": "blacklist", "value": testIP, "reason": "spam",
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestAdminAddPassesServiceValidation() {
	s.colors.EXPECT().
		AddEntry(gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeInvalidInput, "invalid action: must be 'whitelist' or 'blacklist'"))

	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodPost, "", models.ColorListRequest{
		Dimension: "ip", Action: "greylist", Value: testIP,
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestAdminRemove() {
	req := models.ColorListRequest{Dimension: "ip", Action: "blacklist", Value: testIP}
	s.colors.EXPECT().RemoveEntry(gomock.Any(), req).Return(int64(1), nil)

	rr := testutil.DoRequest(s.router, s.adminRequest(http.MethodDelete, "", req))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "removed", float64(1))
}
