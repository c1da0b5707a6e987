// Package checks holds the pipeline steps of the registration and
// vote-notification flows. Steps read and write only the pipeline Context and
// the stores; they run inside the caller's serializable transaction.
package checks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"votegate/internal/gate/models"
	"votegate/internal/gate/pipeline"
	"votegate/internal/gate/ports"
	"votegate/internal/gate/token"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/sentinel"
)

// Check identifiers accepted in pipeline configuration.
const (
	HasNotVoted             = "has_not_voted"
	TlfWhitelisted          = "tlf_whitelisted"
	IPWhitelisted           = "ip_whitelisted"
	Blacklisted             = "blacklisted"
	TlfTotalMax             = "tlf_total_max"
	TlfDayMax               = "tlf_day_max"
	TlfHourMax              = "tlf_hour_max"
	TlfExpire               = "tlf_expire"
	IPTotalMax              = "ip_total_max"
	CheckVoteHMAC           = "check_vote_hmac"
	CheckVoterAuthenticated = "check_voter_authenticated"
)

// ColorList is the color list surface the steps need. Blacklist adds go
// through it so auto-blacklisting gets the same dedupe and cleanup as an
// operator add.
type ColorList interface {
	Lookup(ctx context.Context, dim models.Dimension, value string) ([]*models.ColorListEntry, error)
	Add(ctx context.Context, dim models.Dimension, action models.Action, value string) error
}

// Deps are the collaborators shared by all steps.
type Deps struct {
	Voters    ports.VoterStore
	Messages  ports.MessageStore
	ColorList ColorList
	Signer    *token.Signer
	// SMSExpiry is the minimum interval between two tokens for one phone.
	SMSExpiry time.Duration
}

// Register adds every step to reg.
func Register(reg *pipeline.Registry, d Deps) {
	reg.Register(HasNotVoted, d.hasNotVoted)
	reg.Register(TlfWhitelisted, d.tlfWhitelisted)
	reg.Register(IPWhitelisted, d.ipWhitelisted)
	reg.Register(Blacklisted, d.blacklisted)
	reg.Register(TlfTotalMax, d.tlfTotalMax, "total_max")
	reg.Register(TlfDayMax, d.tlfWindowMax("day_max", 24*time.Hour, dErrors.CodeWaitDay,
		"Too many SMS sent today, wait a day"), "day_max")
	reg.Register(TlfHourMax, d.tlfWindowMax("hour_max", time.Hour, dErrors.CodeWaitHour,
		"Too many SMS sent this hour, wait an hour"), "hour_max")
	reg.Register(TlfExpire, d.tlfExpire)
	reg.Register(IPTotalMax, d.ipTotalMax, "total_max")
	reg.Register(CheckVoteHMAC, d.checkVoteHMAC)
	reg.Register(CheckVoterAuthenticated, d.checkVoterAuthenticated)
}

// hasNotVoted rejects identities that already cast a vote in this election.
func (d Deps) hasNotVoted(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	voted, err := d.Voters.FindActiveVoters(ctx, ports.VoterQuery{
		ElectionID: pc.ElectionID,
		Tlf:        pc.Identity.Tlf,
		NationalID: pc.Identity.NationalID,
		Statuses:   []models.VoterStatus{models.StatusVoted},
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	if len(voted) > 0 {
		return pipeline.Reject(dErrors.NewField(dErrors.CodeAlreadyVoted, "tlf", "Voter already voted")), nil
	}
	return pipeline.Next(), nil
}

// tlfWhitelisted accepts whitelisted phones outright. Otherwise it records
// whether the phone is blacklisted.
// Writes: PhoneChecked, PhoneBlacklisted.
func (d Deps) tlfWhitelisted(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	entries, err := d.ColorList.Lookup(ctx, models.DimensionPhone, pc.Identity.Tlf)
	if err != nil {
		return pipeline.Result{}, err
	}
	if hasAction(entries, models.ActionWhitelist) {
		return pipeline.Accept(), nil
	}
	pc.PhoneChecked = true
	pc.PhoneBlacklisted = hasAction(entries, models.ActionBlacklist)
	return pipeline.Next(), nil
}

// ipWhitelisted records the IP's color. A whitelisted IP is never rejected
// or auto-blacklisted by later steps.
// Writes: IPChecked, IPWhitelisted, IPBlacklisted.
func (d Deps) ipWhitelisted(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	entries, err := d.ColorList.Lookup(ctx, models.DimensionIP, pc.IP)
	if err != nil {
		return pipeline.Result{}, err
	}
	pc.IPChecked = true
	pc.IPWhitelisted = hasAction(entries, models.ActionWhitelist)
	pc.IPBlacklisted = !pc.IPWhitelisted && hasAction(entries, models.ActionBlacklist)
	return pipeline.Next(), nil
}

// blacklisted rejects blacklisted phones and IPs, reusing what the
// whitelist steps already looked up.
// Reads: PhoneChecked, PhoneBlacklisted, IPChecked, IPBlacklisted, IPWhitelisted.
func (d Deps) blacklisted(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	phoneBlacklisted := pc.PhoneBlacklisted
	if !pc.PhoneChecked {
		entries, err := d.ColorList.Lookup(ctx, models.DimensionPhone, pc.Identity.Tlf)
		if err != nil {
			return pipeline.Result{}, err
		}
		phoneBlacklisted = hasAction(entries, models.ActionBlacklist)
	}

	ipBlacklisted := pc.IPBlacklisted
	if !pc.IPChecked && !pc.IPWhitelisted {
		entries, err := d.ColorList.Lookup(ctx, models.DimensionIP, pc.IP)
		if err != nil {
			return pipeline.Result{}, err
		}
		ipBlacklisted = hasAction(entries, models.ActionBlacklist)
	}

	if phoneBlacklisted || (ipBlacklisted && !pc.IPWhitelisted) {
		return pipeline.Reject(blacklistedError()), nil
	}
	return pipeline.Next(), nil
}

// tlfTotalMax blacklists the phone, and the IP unless whitelisted, once the
// phone has total_max unredeemed tokens.
func (d Deps) tlfTotalMax(ctx context.Context, pc *pipeline.Context, params pipeline.Params) (pipeline.Result, error) {
	limit, err := params.Int("total_max")
	if err != nil {
		return pipeline.Result{}, err
	}
	count, err := d.Messages.CountMessages(ctx, models.CountFilter{Phone: pc.Identity.Tlf, ExcludeAuthenticated: true})
	if err != nil {
		return pipeline.Result{}, err
	}
	if count < limit {
		return pipeline.Next(), nil
	}
	if err := d.autoBlacklist(ctx, pc); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Reject(blacklistedError()), nil
}

func (d Deps) tlfWindowMax(param string, window time.Duration, code dErrors.Code, msg string) pipeline.CheckFunc {
	return func(ctx context.Context, pc *pipeline.Context, params pipeline.Params) (pipeline.Result, error) {
		limit, err := params.Int(param)
		if err != nil {
			return pipeline.Result{}, err
		}
		since := pc.Now.Add(-window)
		count, err := d.Messages.CountMessages(ctx, models.CountFilter{
			Phone:                pc.Identity.Tlf,
			Since:                &since,
			ExcludeAuthenticated: true,
		})
		if err != nil {
			return pipeline.Result{}, err
		}
		if count >= limit {
			return pipeline.Reject(dErrors.NewField(code, "tlf", msg)), nil
		}
		return pipeline.Next(), nil
	}
}

// tlfExpire enforces the resend interval: any token queued or sent to the
// phone within SMSExpiry blocks a new one.
func (d Deps) tlfExpire(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	since := pc.Now.Add(-d.SMSExpiry)
	count, err := d.Messages.CountMessages(ctx, models.CountFilter{
		Phone:    pc.Identity.Tlf,
		Since:    &since,
		Statuses: []models.MessageStatus{models.MessageQueued, models.MessageSent},
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	if count > 0 {
		return pipeline.Reject(dErrors.NewField(dErrors.CodeWaitExpire, "tlf",
			"An SMS was sent recently, wait before requesting another")), nil
	}
	return pipeline.Next(), nil
}

// ipTotalMax blacklists the IP and the phone once the IP has total_max
// unredeemed tokens. Whitelisted IPs are exempt.
func (d Deps) ipTotalMax(ctx context.Context, pc *pipeline.Context, params pipeline.Params) (pipeline.Result, error) {
	if pc.IPWhitelisted {
		return pipeline.Next(), nil
	}
	limit, err := params.Int("total_max")
	if err != nil {
		return pipeline.Result{}, err
	}
	count, err := d.Messages.CountMessages(ctx, models.CountFilter{IP: pc.IP, ExcludeAuthenticated: true})
	if err != nil {
		return pipeline.Result{}, err
	}
	if count < limit {
		return pipeline.Next(), nil
	}
	if err := d.autoBlacklist(ctx, pc); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Reject(blacklistedError()), nil
}

func (d Deps) autoBlacklist(ctx context.Context, pc *pipeline.Context) error {
	if err := d.ColorList.Add(ctx, models.DimensionPhone, models.ActionBlacklist, pc.Identity.Tlf); err != nil {
		return fmt.Errorf("auto-blacklist phone: %w", err)
	}
	pc.PhoneBlacklisted = true
	pc.AutoBlacklisted = append(pc.AutoBlacklisted, models.DimensionPhone)
	if pc.IPWhitelisted || pc.IP == "" {
		return nil
	}
	if err := d.ColorList.Add(ctx, models.DimensionIP, models.ActionBlacklist, pc.IP); err != nil {
		return fmt.Errorf("auto-blacklist ip: %w", err)
	}
	pc.IPBlacklisted = true
	pc.AutoBlacklisted = append(pc.AutoBlacklisted, models.DimensionIP)
	return nil
}

// checkVoteHMAC verifies the proof over the identifier and extracts the
// voter ID.
// Writes: VoterID.
func (d Deps) checkVoteHMAC(_ context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	if !d.Signer.Verify(pc.Identifier, pc.Proof) {
		return pipeline.Reject(dErrors.NewField(dErrors.CodeInvalidHMAC, "sha1_hmac", "Invalid HMAC")), nil
	}
	voterID, ok := ParseIdentifier(pc.Identifier)
	if !ok {
		return pipeline.Reject(dErrors.NewField(dErrors.CodeInvalidHMAC, "identifier", "Invalid identifier")), nil
	}
	pc.VoterID = voterID
	return pipeline.Next(), nil
}

// checkVoterAuthenticated loads the voter and requires it to be the active,
// authenticated row of this election.
// Reads: VoterID. Writes: Voter.
func (d Deps) checkVoterAuthenticated(ctx context.Context, pc *pipeline.Context, _ pipeline.Params) (pipeline.Result, error) {
	if pc.VoterID == 0 {
		return pipeline.Reject(notAuthenticatedError()), nil
	}
	v, err := d.Voters.GetVoter(ctx, pc.VoterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return pipeline.Reject(notAuthenticatedError()), nil
		}
		return pipeline.Result{}, err
	}
	if v.ElectionID != pc.ElectionID || !v.IsActive {
		return pipeline.Reject(notAuthenticatedError()), nil
	}
	switch v.Status {
	case models.StatusVoted:
		return pipeline.Reject(dErrors.New(dErrors.CodeAlreadyVoted, "Voter already voted")), nil
	case models.StatusAuthenticated:
		pc.Voter = v
		return pipeline.Next(), nil
	default:
		return pipeline.Reject(notAuthenticatedError()), nil
	}
}

// ParseIdentifier extracts the voter ID from "<unix_ts>#<voter_id>".
func ParseIdentifier(identifier string) (int64, bool) {
	_, idPart, ok := strings.Cut(identifier, "#")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func hasAction(entries []*models.ColorListEntry, action models.Action) bool {
	for _, e := range entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

func blacklistedError() *dErrors.Error {
	return dErrors.New(dErrors.CodeBlacklisted, "Blacklisted")
}

func notAuthenticatedError() *dErrors.Error {
	return dErrors.New(dErrors.CodeNotAuthenticated, "Voter is not authenticated")
}
