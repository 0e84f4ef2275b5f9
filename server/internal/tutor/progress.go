package tutor

import "backpack-tutor/server/internal/model"

// 进度视图是纯读取：所有变更都发生在状态机转移里，
// 这里只做计数与快照组装，绝不修改会话。

func completedCount(s *model.Session) int {
	return len(s.CompletedGoalIDs)
}

func remainingCount(s *model.Session) int {
	return len(s.LearningGoals) - len(s.CompletedGoalIDs)
}

// stateView 组装只读进度快照。goal_progress 按快照目标顺序输出，保证确定性。
func stateView(s *model.Session, elapsedSeconds float64) *model.SessionStateView {
	view := &model.SessionStateView{
		SessionID:      s.SessionID,
		ModuleID:       s.ModuleID,
		ModuleName:     s.ModuleName,
		Phase:          s.Phase,
		TotalGoals:     len(s.LearningGoals),
		GoalsCompleted: completedCount(s),
		CurrentGoalID:  s.CurrentGoalID,
		StartedAt:      s.SessionStartedAt,
		ElapsedSeconds: elapsedSeconds,
	}

	if goal, ok := s.FindGoal(s.CurrentGoalID); ok {
		view.CurrentGoalDescription = goal.Description
	}
	if s.CurrentQuestion != nil {
		idx := s.CurrentQuestion.Index
		view.CurrentQuestionIndex = &idx
		view.CurrentQuestionText = s.CurrentQuestion.QuestionText
	}

	for _, g := range s.LearningGoals {
		if p, ok := s.GoalProgress[g.ID]; ok {
			view.GoalProgress = append(view.GoalProgress, *p)
		}
	}
	return view
}

// trajectoryView 组装讲师端轨迹视图：全局轨迹 + 按目标的统计摘要。
func trajectoryView(s *model.Session) *model.TrajectoryView {
	view := &model.TrajectoryView{
		SessionID:  s.SessionID,
		ModuleID:   s.ModuleID,
		ModuleName: s.ModuleName,
		Trajectory: append([]model.UnderstandingPoint(nil), s.UnderstandingTrajectory...),
	}

	for _, g := range s.LearningGoals {
		p, ok := s.GoalProgress[g.ID]
		if !ok {
			continue
		}
		exchanges := 0
		for _, q := range p.StarterQuestions {
			exchanges += q.Exchanges
		}
		view.GoalSummaries = append(view.GoalSummaries, model.GoalSummary{
			GoalID:               g.ID,
			Description:          p.GoalDescription,
			Completed:            p.Completed,
			QuestionsCount:       len(p.StarterQuestions),
			TotalExchanges:       exchanges,
			InitialUnderstanding: p.InitialUnderstanding,
			FinalUnderstanding:   p.FinalUnderstanding,
			DurationSeconds:      p.DurationSeconds(),
		})
	}
	return view
}
