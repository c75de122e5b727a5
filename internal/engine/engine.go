package engine

import (
	"errors"
	"sort"
	"time"
)

var ErrWrongTurn = errors.New("not this team's turn")
var ErrAlreadyVoted = errors.New("member already voted this question")
var ErrAlreadyFinalized = errors.New("question already finalized")
var ErrUnknownAnswer = errors.New("answer does not belong to question")
var ErrBattleFinished = errors.New("battle already finished")
var ErrNotOnRoster = errors.New("user is not on the answering team")

// PointsPerCorrect is awarded to the answering team when its finalized
// answer matches the question's marked-correct option.
const PointsPerCorrect = 100

type Side int

const (
	SideA Side = iota
	SideB
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Answers    []Answer `json:"answers"`
	CorrectID  string   `json:"-"`
	Category   string   `json:"category,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// Vote is one member's option selection, kept in arrival order. Arrival
// order is what breaks majority ties.
type Vote struct {
	UserID   string
	AnswerID string
}

// Final is a team's committed result for one question. The non-answering
// team always gets Answered=false with zero points.
type Final struct {
	AnswerID string `json:"answer_id,omitempty"`
	Answered bool   `json:"answered"`
	Correct  bool   `json:"correct"`
	Points   int    `json:"points"`
}

type Tally struct {
	Score     int `json:"score"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// State is the pure battle state. It is owned by a single session loop and
// never shared; all mutation goes through its methods.
type State struct {
	Status    Status
	Questions []Question
	Index     int // 0-based index of the current question
	Sides     [2]string
	Votes     map[int]map[string][]Vote
	Finals    map[int]map[string]Final
	Tallies   map[string]Tally
	StartedAt time.Time
}

func NewState(teamA, teamB string, questions []Question, now time.Time) *State {
	return &State{
		Status:    StatusPlaying,
		Questions: questions,
		Sides:     [2]string{teamA, teamB},
		Votes:     map[int]map[string][]Vote{},
		Finals:    map[int]map[string]Final{},
		Tallies:   map[string]Tally{teamA: {}, teamB: {}},
		StartedAt: now,
	}
}

// SideFor returns which side answers question n (1-indexed): odd numbers
// belong to side A, even to side B.
func SideFor(n int) Side {
	if n%2 == 1 {
		return SideA
	}
	return SideB
}

// AnsweringTeam returns the team id that owns the current question.
func (s *State) AnsweringTeam() string {
	return s.Sides[SideFor(s.Index+1)]
}

func (s *State) OpposingTeam(teamID string) string {
	if s.Sides[0] == teamID {
		return s.Sides[1]
	}
	return s.Sides[0]
}

func (s *State) CurrentQuestion() (Question, bool) {
	if s.Index < 0 || s.Index >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.Index], true
}

// RecordVote registers one member's selection for the current question.
// A member's first vote sticks; there is no unsend.
func (s *State) RecordVote(teamID, userID, answerID string) error {
	if s.Status == StatusFinished {
		return ErrBattleFinished
	}
	if teamID != s.AnsweringTeam() {
		return ErrWrongTurn
	}
	q, ok := s.CurrentQuestion()
	if !ok {
		return ErrBattleFinished
	}
	if !hasAnswer(q, answerID) {
		return ErrUnknownAnswer
	}
	if s.finalized(s.Index, teamID) {
		return ErrAlreadyFinalized
	}
	votes := s.Votes[s.Index]
	if votes == nil {
		votes = map[string][]Vote{}
		s.Votes[s.Index] = votes
	}
	for _, v := range votes[teamID] {
		if v.UserID == userID {
			return ErrAlreadyVoted
		}
	}
	votes[teamID] = append(votes[teamID], Vote{UserID: userID, AnswerID: answerID})
	return nil
}

// VotedAll reports whether every listed roster member has a recorded vote
// on the current question.
func (s *State) VotedAll(teamID string, roster []string) bool {
	if len(roster) == 0 {
		return false
	}
	votes := s.Votes[s.Index][teamID]
	for _, userID := range roster {
		found := false
		for _, v := range votes {
			if v.UserID == userID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Majority picks the most-voted answer id. Ties resolve to the option
// whose first vote arrived earliest.
func Majority(votes []Vote) (string, bool) {
	if len(votes) == 0 {
		return "", false
	}
	counts := map[string]int{}
	order := []string{}
	for _, v := range votes {
		if counts[v.AnswerID] == 0 {
			order = append(order, v.AnswerID)
		}
		counts[v.AnswerID]++
	}
	best, max := "", 0
	for _, id := range order {
		if counts[id] > max {
			best, max = id, counts[id]
		}
	}
	return best, true
}

// Finalize commits the answering team's majority answer for the current
// question, records the opposing team's did-not-answer entry, and applies
// scoring. A second finalization of the same (question, team) pair returns
// ErrAlreadyFinalized and changes nothing; that is what defuses the race
// between "all voted" and "deadline fired".
func (s *State) Finalize(teamID string) (Final, error) {
	if s.Status == StatusFinished {
		return Final{}, ErrBattleFinished
	}
	if teamID != s.AnsweringTeam() {
		return Final{}, ErrWrongTurn
	}
	q, ok := s.CurrentQuestion()
	if !ok {
		return Final{}, ErrBattleFinished
	}
	if s.finalized(s.Index, teamID) {
		return Final{}, ErrAlreadyFinalized
	}

	final := Final{}
	if answerID, voted := Majority(s.Votes[s.Index][teamID]); voted {
		final.Answered = true
		final.AnswerID = answerID
		final.Correct = answerID == q.CorrectID
	}

	tally := s.Tallies[teamID]
	if final.Correct {
		final.Points = PointsPerCorrect
		tally.Score += PointsPerCorrect
		tally.Correct++
	} else {
		tally.Incorrect++
	}
	s.Tallies[teamID] = tally

	finals := s.Finals[s.Index]
	if finals == nil {
		finals = map[string]Final{}
		s.Finals[s.Index] = finals
	}
	finals[teamID] = final
	// The side that did not own this turn never scores on it.
	finals[s.OpposingTeam(teamID)] = Final{Answered: false}
	return final, nil
}

// Advance moves to the next question. It returns false once all questions
// are exhausted, at which point the battle is finished.
func (s *State) Advance() bool {
	s.Index++
	if s.Index >= len(s.Questions) {
		s.Status = StatusFinished
		return false
	}
	return true
}

func (s *State) finalized(index int, teamID string) bool {
	_, ok := s.Finals[index][teamID]
	return ok
}

type Standing struct {
	TeamID    string `json:"team_id"`
	Score     int    `json:"score"`
	Correct   int    `json:"correct"`
	Incorrect int    `json:"incorrect"`
}

// Standings returns both teams sorted by score descending, side order on
// equal scores so the output is deterministic.
func (s *State) Standings() []Standing {
	out := make([]Standing, 0, 2)
	for _, teamID := range s.Sides {
		t := s.Tallies[teamID]
		out = append(out, Standing{TeamID: teamID, Score: t.Score, Correct: t.Correct, Incorrect: t.Incorrect})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

type Result struct {
	WinnerID  string     `json:"winner_id,omitempty"`
	Draw      bool       `json:"draw"`
	Standings []Standing `json:"standings"`
	Elapsed   int64      `json:"elapsed_seconds"`
}

// Complete resolves the battle naturally: a draw iff the top two scores are
// strictly equal, otherwise the higher scorer wins.
func (s *State) Complete(now time.Time) Result {
	s.Status = StatusFinished
	standings := s.Standings()
	res := Result{Standings: standings, Elapsed: int64(now.Sub(s.StartedAt).Seconds())}
	if standings[0].Score == standings[1].Score {
		res.Draw = true
		return res
	}
	res.WinnerID = standings[0].TeamID
	return res
}

// Forfeit ends the battle in favor of the team opposing the forfeiting
// one. Scores are irrelevant on this path.
func (s *State) Forfeit(forfeitingTeamID string, now time.Time) Result {
	s.Status = StatusFinished
	return Result{
		WinnerID:  s.OpposingTeam(forfeitingTeamID),
		Standings: s.Standings(),
		Elapsed:   int64(now.Sub(s.StartedAt).Seconds()),
	}
}

func hasAnswer(q Question, answerID string) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return true
		}
	}
	return false
}
