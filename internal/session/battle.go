package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/engine"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/models"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

// startBattle materializes the match: samples the question set, persists
// the battle row and pushes the first question. No questions available is
// a terminal failure announced immediately rather than a stalled battle.
func (s *Session) startBattle() {
	rows, err := s.store.SampleQuestions(s.ctx, s.cfg.QuestionCount, "", "")
	if err != nil {
		s.log.Error("sample questions", zap.Error(err))
		rows = nil
	}
	if len(rows) == 0 {
		s.toSession(types.Event(types.EvtBattleEnded, map[string]any{
			"reason": "no questions available",
		}))
		for _, t := range s.teams {
			t.Ready = false
			t.Status = TeamForming
		}
		return
	}

	questions := make([]engine.Question, 0, len(rows))
	for _, row := range rows {
		q := engine.Question{
			ID:         row.ID,
			Text:       row.Text,
			CorrectID:  row.CorrectAnswerID,
			Category:   row.Category,
			Difficulty: row.Difficulty,
		}
		for _, a := range row.Answers {
			q.Answers = append(q.Answers, engine.Answer{ID: a.ID, Text: a.Text})
		}
		questions = append(questions, q)
	}

	teamA, teamB := s.teams[0], s.teams[1]
	s.battle = engine.NewState(teamA.ID, teamB.ID, questions, time.Now())
	s.battleID = uuid.NewString()
	s.battleGen++

	for _, t := range s.teams {
		t.Status = TeamPlaying
		if err := s.store.UpdateTeam(s.ctx, s.teamRow(t)); err != nil {
			s.log.Warn("update team", zap.Error(err))
		}
	}
	if err := s.store.CreateTeamBattle(s.ctx, s.battleRow("playing", nil)); err != nil {
		s.log.Error("create team battle", zap.Error(err))
	}

	s.toSession(types.Event(types.EvtBattleStarted, map[string]any{
		"battle_id":      s.battleID,
		"teams":          s.teamViews(),
		"question_count": len(questions),
	}))
	s.sendQuestion()
}

// sendQuestion pushes the current question to every connection, tagged
// is_your_turn per recipient, and arms the deadline timer.
func (s *Session) sendQuestion() {
	q, ok := s.battle.CurrentQuestion()
	if !ok {
		return
	}
	answering := s.battle.AnsweringTeam()
	answeringTeam := s.teamByID(answering)
	deadline := time.Now().Add(s.cfg.QuestionDeadline)

	for _, c := range s.clients {
		view := QuestionView{
			Number:     s.battle.Index + 1,
			Total:      len(s.battle.Questions),
			ID:         q.ID,
			Text:       q.Text,
			Answers:    q.Answers,
			TeamID:     answering,
			DeadlineMS: deadline.UnixMilli(),
		}
		if c.userID != "" && answeringTeam != nil && answeringTeam.HasMember(c.userID) {
			view.IsYourTurn = true
		}
		s.toConn(c.id, types.Event(types.EvtBattleQuestion, view))
	}

	s.stopDeadline()
	s.deadlineTimer = s.after(s.cfg.QuestionDeadline, questionDeadline{
		QIndex: s.battle.Index,
		Gen:    s.battleGen,
	})
}

func (s *Session) stopDeadline() {
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
		s.deadlineTimer = nil
	}
}

func (s *Session) handleSubmitAnswer(connID string, msg types.ClientMessage) {
	userID := s.userOf(connID)
	if s.battle == nil || s.battle.Status != engine.StatusPlaying {
		s.toConn(connID, types.ErrorEvent("No battle in progress"))
		return
	}
	team := s.teamOf(userID)
	if team == nil {
		s.toConn(connID, types.ErrorEvent("You are not on a team"))
		return
	}
	if err := s.battle.RecordVote(team.ID, userID, msg.AnswerID); err != nil {
		s.toConn(connID, types.ErrorEvent(err.Error()))
		return
	}
	// Full roster voted (counting only still-connected members) finalizes
	// without waiting for the deadline.
	if s.battle.VotedAll(team.ID, s.connectedMembers(team)) {
		s.finalizeCurrent(team)
	}
}

// handleFinalizeAnswer lets the captain commit the vote early.
func (s *Session) handleFinalizeAnswer(connID string) {
	userID := s.userOf(connID)
	if s.battle == nil || s.battle.Status != engine.StatusPlaying {
		s.toConn(connID, types.ErrorEvent("No battle in progress"))
		return
	}
	team := s.teamOf(userID)
	if team == nil || team.CaptainID != userID {
		s.toConn(connID, types.ErrorEvent(engine.ErrNotCaptain.Error()))
		return
	}
	if err := s.finalizeCurrent(team); err != nil {
		s.toConn(connID, types.ErrorEvent(err.Error()))
	}
}

// finalizeCurrent commits the team's answer for the current question and
// schedules the advance. Finalization is idempotent in the engine, so a
// deadline firing after an early finalize is a harmless error here.
func (s *Session) finalizeCurrent(team *Team) error {
	index := s.battle.Index
	final, err := s.battle.Finalize(team.ID)
	if err != nil {
		return err
	}
	s.stopDeadline()

	s.toSession(types.Event(types.EvtTeamAnswerFinalized, map[string]any{
		"team_id":  team.ID,
		"question": index + 1,
		"final":    final,
	}))
	s.toSession(types.Event(types.EvtBattleQuestionResults, map[string]any{
		"question":  index + 1,
		"results":   s.battle.Finals[index],
		"standings": s.battle.Standings(),
	}))

	// Scores apply optimistically in memory; a failed persistence write is
	// logged, not compensated.
	if err := s.store.UpdateTeamBattle(s.ctx, s.battleRow("playing", nil)); err != nil {
		s.log.Warn("update team battle", zap.Error(err))
	}

	s.after(s.cfg.ResultsDelay, advanceQuestion{Gen: s.battleGen})
	return nil
}

func (s *Session) handleQuestionDeadline(qIndex, gen int) {
	if s.battle == nil || gen != s.battleGen || qIndex != s.battle.Index {
		return // stale fire
	}
	team := s.teamByID(s.battle.AnsweringTeam())
	if team == nil {
		return
	}
	if err := s.finalizeCurrent(team); err != nil && !errors.Is(err, engine.ErrAlreadyFinalized) {
		s.log.Warn("deadline finalize", zap.Error(err))
	}
}

func (s *Session) handleAdvanceQuestion(gen int) {
	if s.battle == nil || gen != s.battleGen || s.battle.Status != engine.StatusPlaying {
		return
	}
	if s.battle.Advance() {
		s.sendQuestion()
		return
	}
	s.completeBattle()
}

// completeBattle resolves natural completion: a draw iff the top scores
// are strictly equal, a game-history summary, persisted finished rows, and
// a delayed teardown so clients can render results.
func (s *Session) completeBattle() {
	res := s.battle.Complete(time.Now())
	s.stopDeadline()

	winner := any(nil)
	if !res.Draw {
		winner = res.WinnerID
	}
	s.toSession(types.Event(types.EvtBattleEnded, map[string]any{
		"battle_id": s.battleID,
		"winner_id": winner,
		"draw":      res.Draw,
		"standings": res.Standings,
		"history": map[string]any{
			"elapsed_seconds": res.Elapsed,
			"questions":       len(s.battle.Questions),
		},
	}))

	s.persistFinished()
	s.after(s.cfg.ResultsDelay, teardownBattle{Gen: s.battleGen})
}

// forfeit ends the battle immediately in the opponent's favor; scores are
// irrelevant and the normal post-results delay is skipped.
func (s *Session) forfeit(team *Team) {
	if s.battle == nil || s.battle.Status == engine.StatusFinished {
		return
	}
	res := s.battle.Forfeit(team.ID, time.Now())
	s.stopDeadline()

	winnerTeam := s.teamByID(res.WinnerID)
	for _, c := range s.clients {
		isWinner := c.userID != "" && winnerTeam != nil && winnerTeam.HasMember(c.userID)
		s.toConn(c.id, types.Event(types.EvtBattleEndedByDisconnect, map[string]any{
			"battle_id": s.battleID,
			"winner_id": res.WinnerID,
			"is_winner": isWinner,
			"standings": res.Standings,
		}))
	}

	s.persistFinished()
	s.handleTeardownBattle(s.battleGen)
}

func (s *Session) persistFinished() {
	now := time.Now()
	for _, t := range s.teams {
		t.Status = TeamFinished
		if tally, ok := s.battle.Tallies[t.ID]; ok {
			row := s.teamRow(t)
			row.Score = tally.Score
			row.Correct = tally.Correct
			row.Incorrect = tally.Incorrect
			if err := s.store.UpdateTeam(s.ctx, row); err != nil {
				s.log.Warn("update team", zap.Error(err))
			}
		}
	}
	if err := s.store.UpdateTeamBattle(s.ctx, s.battleRow("finished", &now)); err != nil {
		s.log.Warn("update team battle", zap.Error(err))
	}
}

func (s *Session) handleTeardownBattle(gen int) {
	if s.battle == nil || gen != s.battleGen {
		return
	}
	s.battleGen++
	s.battle = nil
	s.battleID = ""
	for _, t := range s.teams {
		t.Ready = false
	}
}

func (s *Session) handleGetGameState(connID string) {
	s.toConn(connID, types.Event(types.EvtGameState, s.gameState(connID)))
}

// gameState is the reconnection snapshot: teams plus, mid-battle, the
// current question tagged for this recipient.
func (s *Session) gameState(connID string) GameStateView {
	view := GameStateView{
		SessionCode: s.code,
		Teams:       s.teamViews(),
	}
	if s.battle == nil {
		return view
	}
	view.Battle = &BattleView{
		ID:        s.battleID,
		Status:    s.battle.Status,
		Number:    s.battle.Index + 1,
		Total:     len(s.battle.Questions),
		Standings: s.battle.Standings(),
	}
	if q, ok := s.battle.CurrentQuestion(); ok && s.battle.Status == engine.StatusPlaying {
		answering := s.battle.AnsweringTeam()
		qv := QuestionView{
			Number:  s.battle.Index + 1,
			Total:   len(s.battle.Questions),
			ID:      q.ID,
			Text:    q.Text,
			Answers: q.Answers,
			TeamID:  answering,
		}
		userID := s.userOf(connID)
		if team := s.teamByID(answering); team != nil && userID != "" {
			qv.IsYourTurn = team.HasMember(userID)
		}
		view.Question = &qv
	}
	return view
}

func (s *Session) handleRejoinTeam(connID string) {
	userID := s.userOf(connID)
	if userID == "" {
		s.toConn(connID, types.ErrorEvent("Authenticate before rejoining"))
		return
	}
	s.cancelPendingDisconnect(userID)
	team := s.teamOf(userID)
	if team == nil {
		s.toConn(connID, types.ErrorEvent("You are not on a team"))
		return
	}
	s.toConn(connID, types.Event(types.EvtTeamRejoined, map[string]any{
		"team":  team.View(),
		"state": s.gameState(connID),
	}))
}

func (s *Session) battleRow(status string, finishedAt *time.Time) *models.TeamBattle {
	row := &models.TeamBattle{
		ID:          s.battleID,
		SessionCode: s.code,
		Status:      status,
		FinishedAt:  finishedAt,
	}
	if len(s.teams) > 0 {
		a := s.teams[0]
		row.CaptainAID = a.CaptainID
		row.TeammateAIDs = teammateJSON(a)
	}
	if len(s.teams) > 1 {
		b := s.teams[1]
		row.CaptainBID = b.CaptainID
		row.TeammateBIDs = teammateJSON(b)
	}
	if s.battle != nil {
		if tally, ok := s.battle.Tallies[s.battle.Sides[0]]; ok {
			row.ScoreA, row.CorrectA, row.IncorrectA = tally.Score, tally.Correct, tally.Incorrect
		}
		if tally, ok := s.battle.Tallies[s.battle.Sides[1]]; ok {
			row.ScoreB, row.CorrectB, row.IncorrectB = tally.Score, tally.Correct, tally.Incorrect
		}
	}
	return row
}

func teammateJSON(t *Team) string {
	var mates []string
	for _, m := range t.Members {
		if m.UserID != t.CaptainID {
			mates = append(mates, m.UserID)
		}
	}
	raw, err := json.Marshal(mates)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
