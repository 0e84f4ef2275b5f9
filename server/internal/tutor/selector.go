package tutor

import "backpack-tutor/server/internal/model"

// selectNextGoal 选出下一个未完成的学习目标：
// order 最小者优先，order 相同按快照顺序。全部完成时返回 nil。
//
// 按主题相似度排序是可能的演进方向，留作此函数的替换点；
// 当前保持按 order 的确定性策略。
func selectNextGoal(s *model.Session) *model.LearningGoal {
	completed := make(map[string]bool, len(s.CompletedGoalIDs))
	for _, id := range s.CompletedGoalIDs {
		completed[id] = true
	}

	var best *model.LearningGoal
	for i := range s.LearningGoals {
		g := &s.LearningGoals[i]
		if completed[g.ID] {
			continue
		}
		if best == nil || g.Order < best.Order {
			best = g
		}
	}
	return best
}
