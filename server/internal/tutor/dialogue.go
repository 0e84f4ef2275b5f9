package tutor

import (
	"context"
	"fmt"
	"log"

	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/model"
)

// 对话驱动：问题呈现与苏格拉底式追问的文案都从这里出。
// 学习者的原始输入不做任何改写，原样进 dialogue_history。

func welcomeMessage(moduleName string) string {
	return fmt.Sprintf("Welcome! Let's work through the learning goals for '%s'. "+
		"I'll guide you through each concept using questions and discussion.", moduleName)
}

func goalIntroMessage(goal model.LearningGoal) string {
	return fmt.Sprintf("Let's focus on this learning goal: **%s**", goal.Description)
}

// presentQuestion 生成问题文案。每个目标的第一道题附上“请展示推理过程”的邀请，
// 后续问题不再重复。
func presentQuestion(q *model.StarterQuestion) string {
	if q.Index == 0 {
		return fmt.Sprintf("**Question %d:** %s\n\nPlease share your thoughts and reasoning.", q.Index+1, q.QuestionText)
	}
	return fmt.Sprintf("**Question %d:** %s", q.Index+1, q.QuestionText)
}

func advanceMessage() string {
	return "Great progress! Let's move on to the next question."
}

func goalCompleteMessage(goal model.LearningGoal) string {
	return fmt.Sprintf("Excellent! You've demonstrated understanding of: **%s**\n\nLet's continue to the next topic.", goal.Description)
}

// socraticFollowUp 在问题未解决时生成引导式追问。
// LLM 不可用时退回固定话术，保证这一轮仍然能推进对话。
func (e *Engine) socraticFollowUp(ctx context.Context, s *model.Session, goal model.LearningGoal, question *model.StarterQuestion, studentMessage string, eval model.EvaluationResult) string {
	prompt := buildSocraticPrompt(goal, question, studentMessage, eval, s.GoalContexts[goal.ID], e.cfg.Tutor.MaxContextPassages)

	content, err := e.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are a patient Socratic tutor. Guide, never lecture."},
		{Role: "user", Content: prompt},
	}, nil, e.cfg.Tutor.DialogueMaxTokens, s.ModelOverride)
	if err != nil || content == "" {
		log.Printf("⚠️ Socratic follow-up generation failed, using canned prompt: %v", err)
		return "That's a start. What makes you say that? Try walking me through your reasoning step by step."
	}
	return content
}
