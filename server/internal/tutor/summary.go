package tutor

import (
	"context"
	"fmt"
	"log"

	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/model"
)

// buildSummary 在全部目标完成后聚合会话统计。
// 均值只统计有值的目标；误解/突破跨全程去重，保留首次出现顺序，各取前 10。
func (e *Engine) buildSummary(s *model.Session) *model.SessionSummary {
	completedAt := e.now()
	summary := &model.SessionSummary{
		SessionID:            s.SessionID,
		ModuleID:             s.ModuleID,
		ModuleName:           s.ModuleName,
		StartedAt:            s.SessionStartedAt,
		CompletedAt:          completedAt,
		TotalDurationSeconds: completedAt.Sub(s.SessionStartedAt).Seconds(),
		TotalGoals:           len(s.LearningGoals),
		GoalsCompleted:       completedCount(s),
	}

	var initialScores, finalScores []float64
	var misconceptions, breakthroughs []string

	for _, g := range s.LearningGoals {
		p, ok := s.GoalProgress[g.ID]
		if !ok {
			continue
		}

		summary.TotalQuestions += len(p.StarterQuestions)
		exchanges := 0
		for _, q := range p.StarterQuestions {
			exchanges += q.Exchanges
		}
		summary.TotalExchanges += exchanges

		if p.InitialUnderstanding != nil {
			initialScores = append(initialScores, *p.InitialUnderstanding)
		}
		if p.FinalUnderstanding != nil {
			finalScores = append(finalScores, *p.FinalUnderstanding)
		}

		for _, tp := range p.Trajectory {
			misconceptions = append(misconceptions, tp.Misconceptions...)
			breakthroughs = append(breakthroughs, tp.Breakthroughs...)
		}

		summary.GoalSummaries = append(summary.GoalSummaries, model.GoalSummary{
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

	summary.AverageInitialUnderstanding = mean(initialScores)
	summary.AverageFinalUnderstanding = mean(finalScores)
	summary.UnderstandingImprovement = summary.AverageFinalUnderstanding - summary.AverageInitialUnderstanding

	summary.KeyMisconceptions = dedupeTop(misconceptions, 10)
	summary.KeyBreakthroughs = dedupeTop(breakthroughs, 10)

	return summary
}

// generateNarrative 用一次 LLM 调用补上叙述性总结。
// prompt 只携带聚合统计，不再回传学习者原文；失败时总结照常返回，叙述留空。
func (e *Engine) generateNarrative(ctx context.Context, s *model.Session, summary *model.SessionSummary) string {
	content, err := e.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You write warm, specific learning summaries."},
		{Role: "user", Content: buildSummaryPrompt(summary)},
	}, nil, e.cfg.Tutor.SummaryMaxTokens, s.ModelOverride)
	if err != nil {
		log.Printf("⚠️ Narrative generation failed, shipping statistics only: %v", err)
		return ""
	}
	return content
}

// finalMessage 是终态的导师消息：叙述 + 统计块。
func finalMessage(summary *model.SessionSummary) string {
	msg := "## Session Complete! 🎉\n\n"
	if summary.Narrative != "" {
		msg += summary.Narrative + "\n\n"
	}
	msg += fmt.Sprintf(`### Summary Statistics
- **Goals Completed**: %d/%d
- **Total Questions Discussed**: %d
- **Total Exchanges**: %d
- **Understanding Improvement**: %+.0f%%
- **Duration**: %.1f minutes`,
		summary.GoalsCompleted, summary.TotalGoals,
		summary.TotalQuestions, summary.TotalExchanges,
		summary.UnderstandingImprovement*100,
		summary.TotalDurationSeconds/60)
	return msg
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// dedupeTop 去重并保留首次出现顺序，最多取 limit 个。
func dedupeTop(values []string, limit int) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, limit)
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
