package tutor

import (
	"context"
	"encoding/json"
	"strings"

	"backpack-tutor/server/internal/llm"
)

// MockLLMClient 用于测试的 Mock LLM 客户端。
// 按调用类型分发：开场问题 / 评估走 schema.Name，
// 追问与叙述总结（无 schema）按 system 提示词区分。
type MockLLMClient struct {
	// QuestionTexts 每次问题生成调用返回的问题文本。
	QuestionTexts []string
	// Scores 按顺序消费的评估分数；耗尽后复用最后一个。
	Scores         []float64
	Misconceptions []string
	Breakthroughs  []string
	FollowUpText   string
	NarrativeText  string

	// RawResponses 按调用类型覆盖原始返回内容（构造畸形输出用）。
	// key: "starter_questions" / "evaluation" / "follow_up" / "narrative"。
	RawResponses map[string]string

	// 各类调用的失败开关。
	FailQuestions  bool
	FailEvaluation bool
	FailFollowUp   bool
	FailNarrative  bool

	CallCount   int
	EvalCount   int
	scoreCursor int

	// TokenBudgets 记录每类调用最近一次收到的 maxTokens。
	TokenBudgets map[string]int
}

// NewMockLLMClient 创建 Mock LLM 客户端
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		QuestionTexts: []string{"What is X?", "How does X relate to Y?"},
		Scores:        []float64{0.8},
		FollowUpText:  "Interesting. What leads you to that conclusion?",
		NarrativeText: "You made steady progress through every goal.",
	}
}

// Complete 模拟 LLM Complete 方法
func (m *MockLLMClient) Complete(_ context.Context, messages []llm.Message, schema *llm.JSONSchema, maxTokens int, _ string) (string, error) {
	m.CallCount++

	switch {
	case schema != nil && schema.Name == "starter_questions":
		m.recordBudget("starter_questions", maxTokens)
		if m.FailQuestions {
			return "", context.DeadlineExceeded
		}
		if raw, ok := m.RawResponses["starter_questions"]; ok {
			return raw, nil
		}
		type q struct {
			QuestionText  string `json:"question_text"`
			ExpectedDepth string `json:"expected_depth"`
		}
		out := struct {
			Questions []q `json:"questions"`
		}{}
		for _, text := range m.QuestionTexts {
			out.Questions = append(out.Questions, q{QuestionText: text, ExpectedDepth: "understand"})
		}
		data, _ := json.Marshal(out)
		return string(data), nil

	case schema != nil && schema.Name == "evaluation":
		m.recordBudget("evaluation", maxTokens)
		m.EvalCount++
		if m.FailEvaluation {
			return "", context.DeadlineExceeded
		}
		if raw, ok := m.RawResponses["evaluation"]; ok {
			return raw, nil
		}
		score := 0.8
		if len(m.Scores) > 0 {
			i := m.scoreCursor
			if i >= len(m.Scores) {
				i = len(m.Scores) - 1
			}
			score = m.Scores[i]
			m.scoreCursor++
		}
		data, _ := json.Marshal(map[string]any{
			"score":          score,
			"notes":          "mock evaluation",
			"misconceptions": m.Misconceptions,
			"breakthroughs":  m.Breakthroughs,
		})
		return string(data), nil

	case len(messages) > 0 && strings.Contains(messages[0].Content, "summaries"):
		m.recordBudget("narrative", maxTokens)
		if m.FailNarrative {
			return "", context.DeadlineExceeded
		}
		if raw, ok := m.RawResponses["narrative"]; ok {
			return raw, nil
		}
		return m.NarrativeText, nil

	default:
		m.recordBudget("follow_up", maxTokens)
		if m.FailFollowUp {
			return "", context.DeadlineExceeded
		}
		if raw, ok := m.RawResponses["follow_up"]; ok {
			return raw, nil
		}
		return m.FollowUpText, nil
	}
}

func (m *MockLLMClient) recordBudget(kind string, maxTokens int) {
	if m.TokenBudgets == nil {
		m.TokenBudgets = make(map[string]int)
	}
	m.TokenBudgets[kind] = maxTokens
}
