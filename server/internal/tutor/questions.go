package tutor

import (
	"context"
	"fmt"
	"log"

	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/model"
)

// generateStarterQuestions 为目标生成 1-N 道开场问题。
//
// 降级链：LLM 调用失败或输出解析失败时，退回由目标描述拼出的
// 单题兜底（index 0）——任何情况下都不允许目标没有问题可问。
func (e *Engine) generateStarterQuestions(ctx context.Context, s *model.Session, goal model.LearningGoal) []model.StarterQuestion {
	maxQuestions := e.cfg.Tutor.MaxStarterQuestions
	prompt := buildQuestionPrompt(s.ModuleName, goal, s.GoalContexts[goal.ID], e.cfg.Tutor.MaxContextPassages, maxQuestions)

	content, err := e.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You design Socratic starter questions. Output JSON only."},
		{Role: "user", Content: prompt},
	}, &llm.JSONSchema{Name: "starter_questions", Schema: questionSchema()}, e.cfg.Tutor.QuestionMaxTokens, s.ModelOverride)
	if err != nil {
		log.Printf("⚠️ Question generation failed for goal %s, using fallback: %v", goal.ID, err)
		return []model.StarterQuestion{fallbackQuestion(goal)}
	}

	// 宽松解析：question_text 缺失时接受 text 别名。
	var parsed struct {
		Questions []struct {
			QuestionText   string   `json:"question_text"`
			Text           string   `json:"text"`
			TargetConcepts []string `json:"target_concepts"`
			ExpectedDepth  string   `json:"expected_depth"`
		} `json:"questions"`
	}
	if err := llm.ExtractJSON(content, &parsed); err != nil {
		log.Printf("⚠️ Question JSON unparseable for goal %s, using fallback: %v", goal.ID, err)
		return []model.StarterQuestion{fallbackQuestion(goal)}
	}

	questions := make([]model.StarterQuestion, 0, maxQuestions)
	for _, q := range parsed.Questions {
		if len(questions) >= maxQuestions {
			break
		}
		text := q.QuestionText
		if text == "" {
			text = q.Text
		}
		if text == "" {
			continue
		}
		depth := q.ExpectedDepth
		if !validDepth(depth) {
			depth = "understand"
		}
		questions = append(questions, model.StarterQuestion{
			Index:          len(questions),
			QuestionText:   text,
			TargetConcepts: q.TargetConcepts,
			ExpectedDepth:  depth,
		})
	}

	if len(questions) == 0 {
		return []model.StarterQuestion{fallbackQuestion(goal)}
	}
	return questions
}

// fallbackQuestion 用目标描述拼一道保底问题。
func fallbackQuestion(goal model.LearningGoal) model.StarterQuestion {
	return model.StarterQuestion{
		Index:         0,
		QuestionText:  fmt.Sprintf("What do you understand about: %s?", goal.Description),
		ExpectedDepth: "understand",
	}
}

func validDepth(depth string) bool {
	switch depth {
	case "recall", "understand", "apply", "analyze":
		return true
	}
	return false
}
