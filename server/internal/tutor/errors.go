package tutor

import "errors"

// 引擎对外错误分类。API 层按此映射状态码：
// 找不到 → 404；前置条件不满足 → 409；存储版本冲突见 session.ErrVersionConflict。
var (
	ErrModuleNotFound = errors.New("module not found")
	ErrNoGoals        = errors.New("module has no learning goals")

	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionComplete 表示 respond 打到了已终结的会话（没有待恢复的挂起点）。
	ErrSessionComplete = errors.New("session already complete")
	// ErrSessionNotComplete 表示在还有未完成目标时请求了总结。
	ErrSessionNotComplete = errors.New("session not complete")
)
