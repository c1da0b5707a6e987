//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"votegate/internal/gate/models"
	"votegate/internal/gate/ports"
	"votegate/internal/gate/store/postgres"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
	"votegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "voters", "messages", "color_list")
	s.Require().NoError(err)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) sentMessage(tlf, ip string, created time.Time) *models.Message {
	m := &models.Message{
		Tlf:       tlf,
		IP:        ip,
		LangCode:  "en",
		TokenHash: "digest",
		Status:    models.MessageSent,
		Created:   created,
		Modified:  created,
	}
	s.Require().NoError(s.store.CreateMessage(context.Background(), m))
	return m
}

func (s *PostgresStoreSuite) voter(tlf string, status models.VoterStatus, messageID *int64) *models.Voter {
	v := models.NewRequestedVoter(1, models.Identity{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", PostalCode: 28001, Tlf: tlf,
	}, "10.0.0.1", "en", s.now)
	v.Status = status
	v.MessageID = messageID
	s.Require().NoError(s.store.CreateVoter(context.Background(), v))
	return v
}

func (s *PostgresStoreSuite) TestVoterRoundTrip() {
	ctx := context.Background()
	m := s.sentMessage("+34600000001", "10.0.0.1", s.now)
	v := s.voter("+34600000001", models.StatusSent, &m.ID)

	got, err := s.store.GetVoter(ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(v.Tlf, got.Tlf)
	s.Equal(models.StatusSent, got.Status)
	s.Require().NotNil(got.MessageID)
	s.Equal(m.ID, *got.MessageID)

	byMessage, err := s.store.GetVoterByMessage(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(v.ID, byMessage.ID)

	got.RecordFailedGuess(s.now)
	got.Deactivate(s.now)
	s.Require().NoError(s.store.UpdateVoter(ctx, got))

	reloaded, err := s.store.GetVoter(ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(1, reloaded.TokenGuesses)
	s.False(reloaded.IsActive)
}

func (s *PostgresStoreSuite) TestMissingRowsAreNotFound() {
	ctx := context.Background()

	_, err := s.store.GetVoter(ctx, 999)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.GetMessage(ctx, 999)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.UpdateVoter(ctx, &models.Voter{ID: 999, Status: models.StatusSent})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestFindActiveVotersMatchesPhoneOrNationalID() {
	ctx := context.Background()
	older := s.voter("+34600000001", models.StatusSent, nil)
	s.now = s.now.Add(time.Second)
	newer := s.voter("+34600000001", models.StatusCreated, nil)

	other := models.NewRequestedVoter(1, models.Identity{Tlf: "+34600000002", NationalID: "12345678Z"}, "10.0.0.2", "en", s.now)
	s.Require().NoError(s.store.CreateVoter(ctx, other))

	inactive := s.voter("+34600000001", models.StatusSent, nil)
	inactive.Deactivate(s.now)
	s.Require().NoError(s.store.UpdateVoter(ctx, inactive))

	found, err := s.store.FindActiveVoters(ctx, ports.VoterQuery{ElectionID: 1, Tlf: "+34600000001"})
	s.Require().NoError(err)
	s.Require().Len(found, 2)
	s.Equal(newer.ID, found[0].ID, "newest first")
	s.Equal(older.ID, found[1].ID)

	sent, err := s.store.FindActiveVoters(ctx, ports.VoterQuery{
		ElectionID: 1, Tlf: "+34600000001", Statuses: []models.VoterStatus{models.StatusSent},
	})
	s.Require().NoError(err)
	s.Require().Len(sent, 1)
	s.Equal(older.ID, sent[0].ID)

	byDNI, err := s.store.FindActiveVoters(ctx, ports.VoterQuery{ElectionID: 1, Tlf: "+34699999999", NationalID: "12345678Z"})
	s.Require().NoError(err)
	s.Require().Len(byDNI, 1)
	s.Equal(other.ID, byDNI[0].ID)
}

func (s *PostgresStoreSuite) TestCountMessagesAppliesFilter() {
	ctx := context.Background()
	s.sentMessage("+34600000001", "10.0.0.1", s.now.Add(-2*time.Hour))
	s.sentMessage("+34600000001", "10.0.0.1", s.now.Add(-10*time.Minute))

	authenticated := s.sentMessage("+34600000001", "10.0.0.2", s.now)
	authenticated.Authenticated = true
	s.Require().NoError(s.store.UpdateMessage(ctx, authenticated))

	queued := &models.Message{Tlf: "+34600000001", IP: "10.0.0.1", Status: models.MessageQueued, Created: s.now, Modified: s.now}
	s.Require().NoError(s.store.CreateMessage(ctx, queued))

	total, err := s.store.CountMessages(ctx, models.CountFilter{Phone: "+34600000001", ExcludeAuthenticated: true})
	s.Require().NoError(err)
	s.Equal(2, total)

	since := s.now.Add(-time.Hour)
	lastHour, err := s.store.CountMessages(ctx, models.CountFilter{Phone: "+34600000001", Since: &since, ExcludeAuthenticated: true})
	s.Require().NoError(err)
	s.Equal(1, lastHour)

	pending, err := s.store.CountMessages(ctx, models.CountFilter{
		Phone: "+34600000001", Since: &since,
		Statuses: []models.MessageStatus{models.MessageQueued, models.MessageSent},
	})
	s.Require().NoError(err)
	s.Equal(3, pending)

	byIP, err := s.store.CountMessages(ctx, models.CountFilter{IP: "10.0.0.1", ExcludeAuthenticated: true})
	s.Require().NoError(err)
	s.Equal(2, byIP)
}

func (s *PostgresStoreSuite) TestColorListFilterAndRemove() {
	ctx := context.Background()
	for _, e := range []*models.ColorListEntry{
		{Dimension: models.DimensionPhone, Action: models.ActionBlacklist, Value: "+34600000001"},
		{Dimension: models.DimensionIP, Action: models.ActionBlacklist, Value: "10.0.0.1"},
		{Dimension: models.DimensionIP, Action: models.ActionWhitelist, Value: "10.0.0.2"},
	} {
		e.Created, e.Modified = s.now, s.now
		s.Require().NoError(s.store.AddColorList(ctx, e))
	}

	ips, err := s.store.FindColorList(ctx, models.ColorListFilter{Dimension: models.DimensionIP})
	s.Require().NoError(err)
	s.Len(ips, 2)

	removed, err := s.store.RemoveColorList(ctx, models.ColorListFilter{
		Dimension: models.DimensionIP, Action: models.ActionBlacklist, Value: "10.0.0.1",
	})
	s.Require().NoError(err)
	s.Equal(int64(1), removed)

	all, err := s.store.FindColorList(ctx, models.ColorListFilter{})
	s.Require().NoError(err)
	s.Len(all, 2)
}

// Concurrent read-modify-write cycles on one row must serialize: every
// increment survives once conflicts are retried.
func (s *PostgresStoreSuite) TestSerializerRetriesConcurrentUpdates() {
	ctx := context.Background()
	v := s.voter("+34600000001", models.StatusSent, nil)
	ser := tx.NewSerializer(s.store, tx.WithMaxRetries(50), tx.WithBackoff(tx.Backoff{
		Base: 2, Unit: time.Millisecond, Max: 20 * time.Millisecond,
	}))

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ser.Run(ctx, func(ctx context.Context) error {
				cur, err := s.store.GetVoter(ctx, v.ID)
				if err != nil {
					return err
				}
				cur.RecordFailedGuess(time.Now())
				return s.store.UpdateVoter(ctx, cur)
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.Require().NoError(err)
	}
	got, err := s.store.GetVoter(ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(workers, got.TokenGuesses)
}

// The partial unique index keeps at most one authenticated voter per phone
// even when application checks are bypassed.
func (s *PostgresStoreSuite) TestSecondAuthenticatedVoterIsRejected() {
	ctx := context.Background()
	s.voter("+34600000001", models.StatusAuthenticated, nil)

	dup := models.NewRequestedVoter(1, models.Identity{Tlf: "+34600000001"}, "10.0.0.1", "en", s.now)
	dup.Status = models.StatusVoted
	err := s.store.CreateVoter(ctx, dup)
	s.Require().Error(err)
}
