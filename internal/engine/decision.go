package engine

import "errors"

var ErrNoTeam = errors.New("caller has no team in this session")
var ErrNotCaptain = errors.New("only the team captain can do this")
var ErrTeamFull = errors.New("team is already full")

// MaxTeamSize bounds a roster; a team always has between one member (its
// captain) and this many.
const MaxTeamSize = 3

type RecruitKind int

const (
	// RecruitOpponentCaptain invites the target to found and captain the
	// opposing team.
	RecruitOpponentCaptain RecruitKind = iota
	// RecruitTeammate invites the target onto the recruiter's own team.
	RecruitTeammate
)

type RecruitInput struct {
	TeamsInSession  int
	CallerHasTeam   bool
	CallerIsCaptain bool
	CallerTeamSize  int
}

// DecideRecruit is the decision table for what kind of invitation a
// recruit call produces. Until an opposing team exists the recruiter's
// priority is securing an opposing captain; once both teams exist,
// recruiting fills the recruiter's own roster.
//
//	teams | hasTeam | result
//	  0   |  false  | opponent-captain invitation (recruiter team created lazily)
//	  1+  |  false  | ErrNoTeam (join an existing team instead)
//	  1   |  true   | opponent-captain invitation
//	  2   |  true   | teammate invitation, or ErrTeamFull at capacity
func DecideRecruit(in RecruitInput) (RecruitKind, error) {
	if !in.CallerHasTeam {
		if in.TeamsInSession == 0 {
			return RecruitOpponentCaptain, nil
		}
		return 0, ErrNoTeam
	}
	if !in.CallerIsCaptain {
		return 0, ErrNotCaptain
	}
	if in.TeamsInSession < 2 {
		return RecruitOpponentCaptain, nil
	}
	if in.CallerTeamSize >= MaxTeamSize {
		return 0, ErrTeamFull
	}
	return RecruitTeammate, nil
}
