package model

import "time"

// LearningGoal 是会话创建时从模块快照下来的学习目标。
// 快照之后即不可变：即使源模块后续被修改，本次会话仍按创建时的目标走完。
type LearningGoal struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	MasteryCriteria string `json:"mastery_criteria"`
	Order           int    `json:"order"`
}

// Passage 是检索到的一段支撑材料。
type Passage struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"`
}

// StarterQuestion 表示某个学习目标下的一道开场问题。
type StarterQuestion struct {
	// Index 是问题在目标内的下标（0-based）。
	Index int `json:"index"`
	// QuestionText 是展示给学习者的问题文本。
	QuestionText string `json:"question_text"`
	// TargetConcepts 是该问题考察的概念集合。
	TargetConcepts []string `json:"target_concepts"`
	// ExpectedDepth 取值：recall / understand / apply / analyze。
	ExpectedDepth string `json:"expected_depth"`
	// Resolved 在理解分达到阈值后置 true。
	Resolved bool `json:"resolved"`
	// Exchanges 记录针对这道题做过多少轮评估。
	Exchanges int `json:"exchanges"`
}

// UnderstandingPoint 是理解轨迹上的一个点。
// 每轮评估追加一条，只追加、不修改，供讲师端做学习过程分析。
type UnderstandingPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	GoalID        string    `json:"goal_id"`
	QuestionIndex int       `json:"question_index"`
	// ExchangeNumber 在同一道问题内从 1 开始递增。
	ExchangeNumber     int      `json:"exchange_number"`
	StudentMessage     string   `json:"student_message"`
	UnderstandingScore float64  `json:"understanding_score"`
	EvaluationNotes    string   `json:"evaluation_notes"`
	Misconceptions     []string `json:"misconceptions"`
	Breakthroughs      []string `json:"breakthroughs"`
}

// GoalProgress 跟踪单个学习目标的进度。
type GoalProgress struct {
	GoalID          string     `json:"goal_id"`
	GoalDescription string     `json:"goal_description"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Completed       bool       `json:"completed"`

	StarterQuestions     []StarterQuestion `json:"starter_questions"`
	CurrentQuestionIndex int               `json:"current_question_index"`

	// InitialUnderstanding 只在该目标第一次评估时写入一次；
	// FinalUnderstanding 每次评估都会被覆盖。
	InitialUnderstanding *float64             `json:"initial_understanding,omitempty"`
	FinalUnderstanding   *float64             `json:"final_understanding,omitempty"`
	Trajectory           []UnderstandingPoint `json:"trajectory"`
}

// HasMoreQuestions 判断当前目标是否还有未讨论的开场问题。
func (p *GoalProgress) HasMoreQuestions() bool {
	return p.CurrentQuestionIndex < len(p.StarterQuestions)-1
}

// DurationSeconds 返回该目标从开始到完成的耗时（秒）。未完成时返回 0。
func (p *GoalProgress) DurationSeconds() float64 {
	if p.StartedAt == nil || p.CompletedAt == nil {
		return 0
	}
	return p.CompletedAt.Sub(*p.StartedAt).Seconds()
}

// EvaluationResult 是一轮评估的临时结果，不单独持久化。
type EvaluationResult struct {
	Score          float64  `json:"score"`
	Notes          string   `json:"notes"`
	Misconceptions []string `json:"misconceptions"`
	Breakthroughs  []string `json:"breakthroughs"`
	// IsResolved 由 score >= 阈值（默认 0.7）推导。
	IsResolved bool `json:"is_resolved"`
}

// Turn 表示对话中的一个轮次。
type Turn struct {
	Role string    `json:"role"` // "tutor" or "learner"
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// 会话阶段常量。持久化状态只会停在 PhaseAwaitingResponse（挂起点）
// 或 PhaseComplete（终态）；中间状态在一次 create/respond 调用内同步走完。
const (
	PhaseAwaitingResponse = "awaiting_response"
	PhaseComplete         = "complete"
)

// Session 是持久化与恢复的基本单元。
// 只能由状态机驱动变更，外部不允许写入部分字段。
type Session struct {
	SessionID  string `json:"session_id"`
	ModuleID   string `json:"module_id"`
	ModuleName string `json:"module_name"`

	// LearningGoals 按快照时的顺序保存；goal_progress 的遍历
	// 必须以它为准，保证确定性。
	LearningGoals []LearningGoal           `json:"learning_goals"`
	GoalProgress  map[string]*GoalProgress `json:"goal_progress"`

	// CompletedGoalIDs 只追加、写入前查重、不删除。
	CompletedGoalIDs []string `json:"completed_goal_ids"`
	// CurrentGoalID 为空当且仅当没有目标在进行（尚未开始或全部完成）。
	CurrentGoalID   string           `json:"current_goal_id,omitempty"`
	CurrentQuestion *StarterQuestion `json:"current_question,omitempty"`

	// UnderstandingTrajectory 跨目标的全局轨迹，只追加。
	UnderstandingTrajectory []UnderstandingPoint `json:"understanding_trajectory"`
	DialogueHistory         []Turn               `json:"dialogue_history"`

	// GoalContexts 缓存每个目标预取的支撑材料，best-effort，可为空。
	GoalContexts map[string][]Passage `json:"goal_contexts,omitempty"`

	SessionStartedAt time.Time  `json:"session_started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ModelOverride    string     `json:"model_override,omitempty"`

	Phase string `json:"phase"`

	// Summary 在全部目标完成、SUMMARIZING 转移时写入一次。
	Summary *SessionSummary `json:"summary,omitempty"`
}

// FindGoal 按 ID 在快照目标里查找。
func (s *Session) FindGoal(goalID string) (LearningGoal, bool) {
	for _, g := range s.LearningGoals {
		if g.ID == goalID {
			return g, true
		}
	}
	return LearningGoal{}, false
}

// GoalSummary 是 SessionSummary 里每个目标的统计条目。
type GoalSummary struct {
	GoalID               string   `json:"goal_id"`
	Description          string   `json:"description"`
	Completed            bool     `json:"completed"`
	QuestionsCount       int      `json:"questions_count"`
	TotalExchanges       int      `json:"total_exchanges"`
	InitialUnderstanding *float64 `json:"initial_understanding,omitempty"`
	FinalUnderstanding   *float64 `json:"final_understanding,omitempty"`
	DurationSeconds      float64  `json:"duration_seconds"`
}

// SessionSummary 是会话完成后的汇总结果。
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	ModuleID   string `json:"module_id"`
	ModuleName string `json:"module_name"`

	StartedAt            time.Time `json:"started_at"`
	CompletedAt          time.Time `json:"completed_at"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`

	TotalGoals     int `json:"total_goals"`
	GoalsCompleted int `json:"goals_completed"`
	TotalQuestions int `json:"total_questions"`
	TotalExchanges int `json:"total_exchanges"`

	GoalSummaries []GoalSummary `json:"goal_summaries"`

	// 均值只统计有值的目标，空值不按 0 计入。
	AverageInitialUnderstanding float64 `json:"average_initial_understanding"`
	AverageFinalUnderstanding   float64 `json:"average_final_understanding"`
	UnderstandingImprovement    float64 `json:"understanding_improvement"`

	// 去重后的 top-10，保留首次出现的顺序。
	KeyMisconceptions []string `json:"key_misconceptions"`
	KeyBreakthroughs  []string `json:"key_breakthroughs"`

	Narrative string `json:"narrative"`
}

// Event 表示时间线中的一个事件，供回放与讲师端实时流使用。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由引擎补齐，客户端不传。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`

	// Type 取值：learner_message / tutor_message / evaluation /
	// goal_started / goal_complete / session_complete。
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	GoalID        string   `json:"goal_id,omitempty"`
	QuestionIndex int      `json:"question_index,omitempty"`
	Score         *float64 `json:"score,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}

// ==========================================================================
// API 请求/响应
// ==========================================================================

// 对外阶段取值（面向客户端语义，与内部挂起状态区分开）。
const (
	TurnPhaseInProgress      = "in_progress"
	TurnPhaseGoalComplete    = "goal_complete"
	TurnPhaseSessionComplete = "session_complete"
)

// CreateSessionRequest 创建会话请求。
type CreateSessionRequest struct {
	ModuleID      string `json:"module_id"`
	ModelOverride string `json:"model_override,omitempty"`
}

// CreateSessionResponse 创建会话响应。
type CreateSessionResponse struct {
	SessionID              string `json:"session_id"`
	ModuleID               string `json:"module_id"`
	ModuleName             string `json:"module_name"`
	FirstMessage           string `json:"first_message"`
	CurrentGoalID          string `json:"current_goal_id,omitempty"`
	CurrentGoalDescription string `json:"current_goal_description,omitempty"`
	TotalGoals             int    `json:"total_goals"`
}

// RespondRequest 学习者回复请求。
type RespondRequest struct {
	Message string `json:"message"`
}

// TurnResult 是一次 respond 调用的结果。
type TurnResult struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`

	CurrentGoalID          string `json:"current_goal_id,omitempty"`
	CurrentGoalDescription string `json:"current_goal_description,omitempty"`
	CurrentQuestionIndex   *int   `json:"current_question_index,omitempty"`
	CurrentQuestionText    string `json:"current_question_text,omitempty"`

	TutorMessage string `json:"tutor_message"`

	LatestUnderstandingScore *float64 `json:"latest_understanding_score,omitempty"`

	GoalsCompleted int `json:"goals_completed"`
	GoalsRemaining int `json:"goals_remaining"`
}

// SessionStateView 是只读的会话进度快照。
type SessionStateView struct {
	SessionID  string `json:"session_id"`
	ModuleID   string `json:"module_id"`
	ModuleName string `json:"module_name"`
	Phase      string `json:"phase"`

	TotalGoals             int    `json:"total_goals"`
	GoalsCompleted         int    `json:"goals_completed"`
	CurrentGoalID          string `json:"current_goal_id,omitempty"`
	CurrentGoalDescription string `json:"current_goal_description,omitempty"`
	CurrentQuestionIndex   *int   `json:"current_question_index,omitempty"`
	CurrentQuestionText    string `json:"current_question_text,omitempty"`

	GoalProgress []GoalProgress `json:"goal_progress"`

	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// TrajectoryView 是讲师端的轨迹视图。
type TrajectoryView struct {
	SessionID     string               `json:"session_id"`
	ModuleID      string               `json:"module_id"`
	ModuleName    string               `json:"module_name"`
	Trajectory    []UnderstandingPoint `json:"trajectory"`
	GoalSummaries []GoalSummary        `json:"goal_summaries"`
}
