package tutor

import (
	"context"
	"log"

	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/model"
)

// evaluate 让 LLM 给学习者回复打分并提取误解/突破。
//
// 评估失败绝不让整轮失败：调用或解析出错时返回中性结果
// （score=0.5、未解决），对话按“继续追问”路线走下去。
func (e *Engine) evaluate(ctx context.Context, s *model.Session, goal model.LearningGoal, question *model.StarterQuestion, studentMessage string) model.EvaluationResult {
	prompt := buildEvaluationPrompt(goal, question, studentMessage, s.GoalContexts[goal.ID], e.cfg.Tutor.MaxContextPassages)

	content, err := e.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You evaluate learner understanding. Output JSON only."},
		{Role: "user", Content: prompt},
	}, &llm.JSONSchema{Name: "evaluation", Schema: evaluationSchema()}, e.cfg.Tutor.EvaluationMaxTokens, s.ModelOverride)
	if err != nil {
		log.Printf("⚠️ Evaluation call failed, continuing dialogue with neutral score: %v", err)
		return e.neutralEvaluation("evaluation unavailable, continuing the dialogue")
	}

	var parsed struct {
		Score          float64  `json:"score"`
		Notes          string   `json:"notes"`
		Misconceptions []string `json:"misconceptions"`
		Breakthroughs  []string `json:"breakthroughs"`
	}
	if err := llm.ExtractJSON(content, &parsed); err != nil {
		log.Printf("⚠️ Evaluation JSON unparseable, continuing dialogue with neutral score: %v", err)
		return e.neutralEvaluation("evaluation parsing failed, continuing the dialogue")
	}

	score := clampScore(parsed.Score)
	return model.EvaluationResult{
		Score:          score,
		Notes:          parsed.Notes,
		Misconceptions: parsed.Misconceptions,
		Breakthroughs:  parsed.Breakthroughs,
		IsResolved:     score >= e.cfg.Tutor.ResolutionThreshold,
	}
}

// neutralEvaluation 是评估不可用时的降级结果：继续对话，不判定通过。
func (e *Engine) neutralEvaluation(note string) model.EvaluationResult {
	return model.EvaluationResult{
		Score:      0.5,
		Notes:      note,
		IsResolved: false,
	}
}

// applyEvaluation 把一轮评估落到会话状态上：
//   - 全局轨迹和目标内轨迹各追加一条 UnderstandingPoint（只追加）；
//   - 首次评估写入 initial_understanding，final_understanding 每轮覆盖；
//   - 当前问题的 exchanges +1，并同步 current_question 快照。
func (e *Engine) applyEvaluation(s *model.Session, eval model.EvaluationResult, studentMessage string) {
	progress := s.GoalProgress[s.CurrentGoalID]
	if progress == nil || progress.CurrentQuestionIndex >= len(progress.StarterQuestions) {
		return
	}
	q := &progress.StarterQuestions[progress.CurrentQuestionIndex]

	point := model.UnderstandingPoint{
		Timestamp:          e.now(),
		GoalID:             s.CurrentGoalID,
		QuestionIndex:      q.Index,
		ExchangeNumber:     q.Exchanges + 1,
		StudentMessage:     studentMessage,
		UnderstandingScore: eval.Score,
		EvaluationNotes:    eval.Notes,
		Misconceptions:     eval.Misconceptions,
		Breakthroughs:      eval.Breakthroughs,
	}

	s.UnderstandingTrajectory = append(s.UnderstandingTrajectory, point)
	progress.Trajectory = append(progress.Trajectory, point)

	if progress.InitialUnderstanding == nil {
		initial := eval.Score
		progress.InitialUnderstanding = &initial
	}
	final := eval.Score
	progress.FinalUnderstanding = &final

	q.Exchanges++

	snapshot := *q
	s.CurrentQuestion = &snapshot
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
