package tutor

import (
	"fmt"
	"strings"

	"backpack-tutor/server/internal/model"
)

// prompt 构造集中在这里：纯字符串拼接，不做外部调用。
// 约定：所有 prompt 末尾明确要求 JSON 的，schema 由调用方一并传给 LLM。

func renderPassages(passages []model.Passage, limit int) string {
	if len(passages) == 0 {
		return "(no course material available)"
	}
	if limit > 0 && len(passages) > limit {
		passages = passages[:limit]
	}

	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Text)
		if p.SourceRef != "" {
			fmt.Fprintf(&b, " (source: %s)", p.SourceRef)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildQuestionPrompt(moduleName string, goal model.LearningGoal, passages []model.Passage, limit, maxQuestions int) string {
	var b strings.Builder
	b.WriteString("You are a Socratic tutor preparing opening questions for a learning goal.\n\n")
	fmt.Fprintf(&b, "Module: %s\n", moduleName)
	fmt.Fprintf(&b, "Learning goal: %s\n", goal.Description)
	if goal.MasteryCriteria != "" {
		fmt.Fprintf(&b, "Mastery criteria: %s\n", goal.MasteryCriteria)
	}
	b.WriteString("\nCourse material:\n")
	b.WriteString(renderPassages(passages, limit))
	fmt.Fprintf(&b, "\nWrite 2-%d starter questions that probe the learner's understanding of this goal, ", maxQuestions)
	b.WriteString("ordered from easier to harder. Each question targets specific concepts and one expected depth ")
	b.WriteString("(recall, understand, apply, analyze).\n")
	b.WriteString("Respond with JSON: {\"questions\": [{\"question_text\": ..., \"target_concepts\": [...], \"expected_depth\": ...}]}")
	return b.String()
}

func buildEvaluationPrompt(goal model.LearningGoal, question *model.StarterQuestion, studentMessage string, passages []model.Passage, limit int) string {
	var b strings.Builder
	b.WriteString("You are a Socratic tutor evaluating a learner's response.\n\n")
	fmt.Fprintf(&b, "Learning goal: %s\n", goal.Description)
	if goal.MasteryCriteria != "" {
		fmt.Fprintf(&b, "Mastery criteria: %s\n", goal.MasteryCriteria)
	}
	if question != nil {
		fmt.Fprintf(&b, "Question under discussion: %s\n", question.QuestionText)
		if len(question.TargetConcepts) > 0 {
			fmt.Fprintf(&b, "Target concepts: %s\n", strings.Join(question.TargetConcepts, ", "))
		}
	}
	b.WriteString("\nCourse material:\n")
	b.WriteString(renderPassages(passages, limit))
	fmt.Fprintf(&b, "\nLearner's response:\n%s\n", studentMessage)
	b.WriteString("\nScore the understanding shown from 0.0 to 1.0, note the reasoning, and list any ")
	b.WriteString("misconceptions and breakthroughs.\n")
	b.WriteString("Respond with JSON: {\"score\": ..., \"notes\": ..., \"misconceptions\": [...], \"breakthroughs\": [...]}")
	return b.String()
}

func buildSocraticPrompt(goal model.LearningGoal, question *model.StarterQuestion, studentMessage string, eval model.EvaluationResult, passages []model.Passage, limit int) string {
	var b strings.Builder
	b.WriteString("You are a Socratic tutor. The learner has not yet fully understood; ")
	b.WriteString("guide them with questions and hints, never give the answer directly.\n\n")
	fmt.Fprintf(&b, "Learning goal: %s\n", goal.Description)
	if question != nil {
		fmt.Fprintf(&b, "Question under discussion: %s\n", question.QuestionText)
	}
	fmt.Fprintf(&b, "Understanding score: %.2f\n", eval.Score)
	if len(eval.Misconceptions) > 0 {
		fmt.Fprintf(&b, "Misconceptions to address: %s\n", strings.Join(eval.Misconceptions, "; "))
	}
	if len(eval.Breakthroughs) > 0 {
		fmt.Fprintf(&b, "Insights to acknowledge: %s\n", strings.Join(eval.Breakthroughs, "; "))
	}
	b.WriteString("\nCourse material:\n")
	b.WriteString(renderPassages(passages, limit))
	fmt.Fprintf(&b, "\nLearner's last message:\n%s\n", studentMessage)
	b.WriteString("\nReply in a few sentences: acknowledge what is right, then ask one guiding question ")
	b.WriteString("that moves the learner toward the gap in their understanding. Cite course material where helpful.")
	return b.String()
}

// buildSummaryPrompt 只携带聚合统计，不回传任何学习者原文。
func buildSummaryPrompt(summary *model.SessionSummary) string {
	var b strings.Builder
	b.WriteString("Write a short, encouraging narrative (3-5 sentences) of a completed tutoring session ")
	b.WriteString("for the learner, based only on these statistics.\n\n")
	fmt.Fprintf(&b, "Module: %s\n", summary.ModuleName)
	fmt.Fprintf(&b, "Goals completed: %d/%d\n", summary.GoalsCompleted, summary.TotalGoals)
	fmt.Fprintf(&b, "Questions discussed: %d, total exchanges: %d\n", summary.TotalQuestions, summary.TotalExchanges)
	fmt.Fprintf(&b, "Average understanding: %.2f initial, %.2f final (improvement %+.2f)\n",
		summary.AverageInitialUnderstanding, summary.AverageFinalUnderstanding, summary.UnderstandingImprovement)
	if len(summary.KeyMisconceptions) > 0 {
		fmt.Fprintf(&b, "Misconceptions worked through: %s\n", strings.Join(summary.KeyMisconceptions, "; "))
	}
	if len(summary.KeyBreakthroughs) > 0 {
		fmt.Fprintf(&b, "Key breakthroughs: %s\n", strings.Join(summary.KeyBreakthroughs, "; "))
	}
	return b.String()
}

// JSON schema 定义（OpenAI JSON mode 用；Anthropic 走提示词 + 宽松解析）。

func questionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_text":   map[string]any{"type": "string"},
						"target_concepts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"expected_depth":  map[string]any{"type": "string", "enum": []string{"recall", "understand", "apply", "analyze"}},
					},
					"required": []string{"question_text"},
				},
			},
		},
		"required": []string{"questions"},
	}
}

func evaluationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"notes":          map[string]any{"type": "string"},
			"misconceptions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"breakthroughs":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"score"},
	}
}
