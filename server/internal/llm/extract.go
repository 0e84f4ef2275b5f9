package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON 从模型输出中提取并解析一个 JSON 对象/数组。
//
// 即使开了 JSON mode，模型输出也不保证干净：可能带 markdown 代码块、
// 前后缀说明文字。这里按固定顺序做宽松提取，而不是异常驱动的重试：
//  1. 原文直接解析；
//  2. markdown 代码块（```json ... ``` 或 ``` ... ```）内的内容；
//  3. 第一个 '{' 到最后一个 '}'（或 '[' 到 ']'）之间的片段。
//
// 全部失败时返回错误，由调用方走各自文档化的降级路径。
func ExtractJSON(content string, v any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("empty content")
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if fenced, ok := extractFenced(trimmed); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}

	if inner, ok := extractDelimited(trimmed, "{", "}"); ok {
		if err := json.Unmarshal([]byte(inner), v); err == nil {
			return nil
		}
	}
	if inner, ok := extractDelimited(trimmed, "[", "]"); ok {
		if err := json.Unmarshal([]byte(inner), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON in content (%d chars)", len(content))
}

// extractFenced 取第一个 markdown 代码块的内容。
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	// 跳过语言标记行（```json 等）
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractDelimited 取第一个 open 到最后一个 closing 之间的片段（含边界）。
func extractDelimited(s, open, closing string) (string, bool) {
	start := strings.Index(s, open)
	end := strings.LastIndex(s, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
