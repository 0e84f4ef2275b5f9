package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"backpack-tutor/server/internal/catalog"
	"backpack-tutor/server/internal/config"
	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/model"
	"backpack-tutor/server/internal/retriever"
	"backpack-tutor/server/internal/session"
	"backpack-tutor/server/internal/timeline"
)

// Engine 是苏格拉底辅导会话的状态机。
//
// 控制流约定：
//   - create/respond 都是短生命周期的同步调用，从当前状态一路推进到
//     下一个挂起点（等待学习者回复）或终态，中途不归还控制权。
//   - “挂起”不是线程阻塞：完整状态持久化后调用即返回，期间不占用
//     任何进程内资源；学习者隔多久回来都可以 respond 继续。
//   - 每次调用对会话的全部变更一次性落库（CAS），失败则上一份持久化
//     状态原封不动，安全重试。
//   - 同一 session 的并发 respond 由存储版本检查线性化，输掉的一方
//     收到 session.ErrVersionConflict；不同 session 完全并行。
type Engine struct {
	cfg       *config.Config
	store     session.Store
	timeline  timeline.Store
	catalog   *catalog.Catalog
	llm       llm.Client
	retriever retriever.Retriever
	now       func() time.Time
}

func New(cfg *config.Config, store session.Store, tl timeline.Store, cat *catalog.Catalog, llmClient llm.Client, retr retriever.Retriever, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		timeline:  tl,
		catalog:   cat,
		llm:       llmClient,
		retriever: retr,
		now:       now,
	}
}

// CreateSession 校验模块、初始化会话，并同步推进到第一个挂起点：
// 选目标 → 生成开场问题 → 呈现问题 1。成功后才持久化；
// 模块不存在或没有学习目标时直接失败，不留下任何会话。
func (e *Engine) CreateSession(ctx context.Context, moduleID, modelOverride string) (*model.CreateSessionResponse, error) {
	mod, err := e.catalog.GetModule(moduleID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("module %s: %w", moduleID, ErrModuleNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(mod.Goals) == 0 {
		return nil, fmt.Errorf("module %s: %w", moduleID, ErrNoGoals)
	}

	now := e.now()
	s := &model.Session{
		SessionID:        uuid.NewString(),
		ModuleID:         mod.ModuleID,
		ModuleName:       mod.Name,
		LearningGoals:    append([]model.LearningGoal(nil), mod.Goals...),
		GoalProgress:     make(map[string]*model.GoalProgress, len(mod.Goals)),
		GoalContexts:     make(map[string][]model.Passage, len(mod.Goals)),
		SessionStartedAt: now,
		ModelOverride:    modelOverride,
		Phase:            model.PhaseAwaitingResponse,
	}

	for _, g := range mod.Goals {
		s.GoalProgress[g.ID] = &model.GoalProgress{
			GoalID:          g.ID,
			GoalDescription: g.Description,
		}
		// 上下文预取是 best-effort：检索挂了就按空上下文继续。
		passages, err := e.retriever.Retrieve(ctx, mod.ModuleID, g.Description, e.cfg.Retriever.MaxResults)
		if err != nil {
			log.Printf("⚠️ Context retrieval failed for goal %s, continuing without: %v", g.ID, err)
			continue
		}
		s.GoalContexts[g.ID] = passages
	}

	var events []model.Event
	intro := e.startNextGoal(ctx, s, &events)
	firstMessage := welcomeMessage(mod.Name) + "\n\n" + intro
	e.appendTutorTurn(s, firstMessage, &events)

	if err := e.store.Save(ctx, s, 0); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	e.flushEvents(ctx, s.SessionID, events)

	resp := &model.CreateSessionResponse{
		SessionID:     s.SessionID,
		ModuleID:      s.ModuleID,
		ModuleName:    s.ModuleName,
		FirstMessage:  firstMessage,
		CurrentGoalID: s.CurrentGoalID,
		TotalGoals:    len(s.LearningGoals),
	}
	if goal, ok := s.FindGoal(s.CurrentGoalID); ok {
		resp.CurrentGoalDescription = goal.Description
	}
	return resp, nil
}

// Respond 恢复挂起的会话：评估学习者回复，按路由规则推进到
// 下一个挂起点或终态，然后整体落库。
//
// 路由优先级（EVALUATING 之后）：
//  1. 未解决 → 同一问题上继续苏格拉底追问；
//  2. 已解决且目标还有问题 → 推进到下一题；
//  3. 已解决且是最后一题 → 目标完成；还有目标则开下一个，
//     否则生成总结进入终态。
func (e *Engine) Respond(ctx context.Context, sessionID, message string) (*model.TurnResult, error) {
	s, version, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	if s.Phase != model.PhaseAwaitingResponse || s.CurrentQuestion == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionComplete)
	}

	goal, ok := s.FindGoal(s.CurrentGoalID)
	if !ok {
		return nil, fmt.Errorf("session %s references unknown goal %s", sessionID, s.CurrentGoalID)
	}
	progress := s.GoalProgress[s.CurrentGoalID]

	var events []model.Event
	e.appendLearnerTurn(s, message, &events)

	eval := e.evaluate(ctx, s, goal, s.CurrentQuestion, message)
	e.applyEvaluation(s, eval, message)
	score := eval.Score
	events = append(events, model.Event{
		Type:          "evaluation",
		GoalID:        goal.ID,
		QuestionIndex: s.CurrentQuestion.Index,
		Score:         &score,
		Text:          eval.Notes,
	})

	var tutorMessage string
	phase := model.TurnPhaseInProgress

	switch {
	case !eval.IsResolved:
		// 不推进 current_question_index，继续在同一题上对话。
		tutorMessage = e.socraticFollowUp(ctx, s, goal, s.CurrentQuestion, message, eval)

	case progress.HasMoreQuestions():
		progress.StarterQuestions[progress.CurrentQuestionIndex].Resolved = true
		progress.CurrentQuestionIndex++
		next := progress.StarterQuestions[progress.CurrentQuestionIndex]
		s.CurrentQuestion = &next
		tutorMessage = advanceMessage() + "\n\n" + presentQuestion(&next)

	default:
		e.completeCurrentGoal(s, progress, &events)
		if selectNextGoal(s) != nil {
			phase = model.TurnPhaseGoalComplete
			tutorMessage = goalCompleteMessage(goal) + "\n\n" + e.startNextGoal(ctx, s, &events)
		} else {
			phase = model.TurnPhaseSessionComplete
			tutorMessage = e.finishSession(ctx, s, &events)
		}
	}

	e.appendTutorTurn(s, tutorMessage, &events)

	if err := e.store.Save(ctx, s, version); err != nil {
		// 版本冲突原样上抛：可重试，且已持久化的状态未被触碰。
		return nil, err
	}
	e.flushEvents(ctx, sessionID, events)

	result := &model.TurnResult{
		SessionID:                s.SessionID,
		Phase:                    phase,
		CurrentGoalID:            s.CurrentGoalID,
		TutorMessage:             tutorMessage,
		LatestUnderstandingScore: &score,
		GoalsCompleted:           completedCount(s),
		GoalsRemaining:           remainingCount(s),
	}
	if g, ok := s.FindGoal(s.CurrentGoalID); ok {
		result.CurrentGoalDescription = g.Description
	}
	if s.CurrentQuestion != nil {
		idx := s.CurrentQuestion.Index
		result.CurrentQuestionIndex = &idx
		result.CurrentQuestionText = s.CurrentQuestion.QuestionText
	}
	return result, nil
}

// startNextGoal 执行 SELECTING_GOAL → GENERATING_QUESTIONS → 呈现问题 1。
// 调用方保证还有未完成目标。返回目标介绍 + 第一道问题的文案。
func (e *Engine) startNextGoal(ctx context.Context, s *model.Session, events *[]model.Event) string {
	goal := selectNextGoal(s)
	if goal == nil {
		return ""
	}

	now := e.now()
	progress := s.GoalProgress[goal.ID]
	progress.StartedAt = &now
	s.CurrentGoalID = goal.ID

	questions := e.generateStarterQuestions(ctx, s, *goal)
	progress.StarterQuestions = questions
	progress.CurrentQuestionIndex = 0

	first := questions[0]
	s.CurrentQuestion = &first

	*events = append(*events, model.Event{
		Type:   "goal_started",
		GoalID: goal.ID,
		Text:   goal.Description,
	})

	return goalIntroMessage(*goal) + "\n\n" + presentQuestion(&first)
}

// completeCurrentGoal 执行 GOAL_COMPLETE：标记问题与目标完成，
// 维护 completed_goal_ids 与 goal_progress.completed 的一致性，清空当前目标。
func (e *Engine) completeCurrentGoal(s *model.Session, progress *model.GoalProgress, events *[]model.Event) {
	if progress.CurrentQuestionIndex < len(progress.StarterQuestions) {
		progress.StarterQuestions[progress.CurrentQuestionIndex].Resolved = true
	}

	now := e.now()
	progress.Completed = true
	progress.CompletedAt = &now

	already := false
	for _, id := range s.CompletedGoalIDs {
		if id == progress.GoalID {
			already = true
			break
		}
	}
	if !already {
		s.CompletedGoalIDs = append(s.CompletedGoalIDs, progress.GoalID)
	}

	*events = append(*events, model.Event{
		Type:   "goal_complete",
		GoalID: progress.GoalID,
	})

	s.CurrentGoalID = ""
	s.CurrentQuestion = nil
}

// finishSession 执行 SUMMARIZING → DONE：聚合统计、生成叙述、写入终态。
func (e *Engine) finishSession(ctx context.Context, s *model.Session, events *[]model.Event) string {
	summary := e.buildSummary(s)
	summary.Narrative = e.generateNarrative(ctx, s, summary)
	s.Summary = summary
	s.Phase = model.PhaseComplete
	completedAt := summary.CompletedAt
	s.CompletedAt = &completedAt

	*events = append(*events, model.Event{Type: "session_complete"})

	return finalMessage(summary)
}

// ==========================================================================
// 只读查询（不触发任何转移，不修改会话）
// ==========================================================================

// GetState 返回完整的进度快照。
func (e *Engine) GetState(ctx context.Context, sessionID string) (*model.SessionStateView, error) {
	s, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return stateView(s, e.now().Sub(s.SessionStartedAt).Seconds()), nil
}

// GetTrajectory 返回讲师端的理解轨迹视图。
func (e *Engine) GetTrajectory(ctx context.Context, sessionID string) (*model.TrajectoryView, error) {
	s, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return trajectoryView(s), nil
}

// GetSummary 返回已完成会话的总结；会话未完成时失败且无任何副作用。
func (e *Engine) GetSummary(ctx context.Context, sessionID string) (*model.SessionSummary, error) {
	s, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Summary == nil || remainingCount(s) > 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotComplete)
	}
	return s.Summary, nil
}

// Events 返回会话的 timeline 事件（回放与实时流用）。
func (e *Engine) Events(ctx context.Context, sessionID string) ([]model.Event, error) {
	if _, err := e.load(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.timeline.List(ctx, sessionID)
}

func (e *Engine) load(ctx context.Context, sessionID string) (*model.Session, error) {
	s, _, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ==========================================================================
// 对话历史与 timeline
// ==========================================================================

// appendLearnerTurn 把学习者输入原样追加进对话历史，不截断、不清洗。
func (e *Engine) appendLearnerTurn(s *model.Session, text string, events *[]model.Event) {
	s.DialogueHistory = append(s.DialogueHistory, model.Turn{Role: "learner", Text: text, TS: e.now()})
	*events = append(*events, model.Event{Type: "learner_message", Text: text})
}

func (e *Engine) appendTutorTurn(s *model.Session, text string, events *[]model.Event) {
	s.DialogueHistory = append(s.DialogueHistory, model.Turn{Role: "tutor", Text: text, TS: e.now()})
	*events = append(*events, model.Event{Type: "tutor_message", Text: text})
}

// flushEvents 在会话成功落库之后才写 timeline，保证失败的调用不留事件。
// timeline 是观测面，写入失败只记日志，不影响已完成的转移。
func (e *Engine) flushEvents(ctx context.Context, sessionID string, events []model.Event) {
	now := e.now()
	for i := range events {
		events[i].EventID = uuid.NewString()
		events[i].ServerTS = now
		if _, err := e.timeline.Append(ctx, sessionID, &events[i]); err != nil {
			log.Printf("⚠️ Timeline append failed for session %s: %v", sessionID, err)
		}
	}
}
