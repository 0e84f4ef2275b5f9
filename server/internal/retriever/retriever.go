package retriever

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"backpack-tutor/server/internal/catalog"
	"backpack-tutor/server/internal/model"
)

// Retriever 根据目标描述返回排好序的支撑材料。
// 这是一个注入能力：引擎只依赖这个接口，失败时按空上下文继续，
// 不会让整轮对话失败。
type Retriever interface {
	Retrieve(ctx context.Context, moduleID, query string, maxResults int) ([]model.Passage, error)
}

// KeywordRetriever 用词面重合度在模块的材料片段里打分排序。
// 真正的向量检索是外部能力，这里只提供一个本地可跑的实现，
// 接口不变，换成向量检索不影响引擎。
type KeywordRetriever struct {
	catalog *catalog.Catalog
}

func NewKeywordRetriever(c *catalog.Catalog) *KeywordRetriever {
	return &KeywordRetriever{catalog: c}
}

// Retrieve 返回与 query 词面重合度最高的片段，按得分降序，得分相同保持原始顺序。
func (r *KeywordRetriever) Retrieve(_ context.Context, moduleID, query string, maxResults int) ([]model.Passage, error) {
	mod, err := r.catalog.GetModule(moduleID)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 || len(mod.Passages) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	type scored struct {
		passage model.Passage
		score   int
		pos     int
	}

	candidates := make([]scored, 0, len(mod.Passages))
	for i, p := range mod.Passages {
		s := overlap(queryTokens, tokenize(p.Text))
		if s > 0 {
			candidates = append(candidates, scored{passage: p, score: s, pos: i})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	out := make([]model.Passage, len(candidates))
	for i, c := range candidates {
		out[i] = c.passage
	}
	return out, nil
}

// tokenize 切词并过滤过短的词，全部小写。
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
