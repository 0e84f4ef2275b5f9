package llm

import "testing"

type evalPayload struct {
	Score float64 `json:"score"`
	Notes string  `json:"notes"`
}

func TestExtractJSONRaw(t *testing.T) {
	var v evalPayload
	if err := ExtractJSON(`{"score": 0.8, "notes": "good"}`, &v); err != nil {
		t.Fatalf("raw JSON: %v", err)
	}
	if v.Score != 0.8 || v.Notes != "good" {
		t.Errorf("got %+v", v)
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	content := "Here is my evaluation:\n```json\n{\"score\": 0.6, \"notes\": \"partial\"}\n```\nHope that helps!"
	var v evalPayload
	if err := ExtractJSON(content, &v); err != nil {
		t.Fatalf("fenced JSON: %v", err)
	}
	if v.Score != 0.6 {
		t.Errorf("got %+v", v)
	}
}

func TestExtractJSONFencedWithoutLanguage(t *testing.T) {
	content := "```\n{\"score\": 0.5}\n```"
	var v evalPayload
	if err := ExtractJSON(content, &v); err != nil {
		t.Fatalf("fenced without language: %v", err)
	}
	if v.Score != 0.5 {
		t.Errorf("got %+v", v)
	}
}

// 前后都有说明文字：回退到首 '{' 尾 '}' 的片段扫描。
func TestExtractJSONEmbeddedObject(t *testing.T) {
	content := `Sure. The result is {"score": 0.9, "notes": "strong"} as requested.`
	var v evalPayload
	if err := ExtractJSON(content, &v); err != nil {
		t.Fatalf("embedded object: %v", err)
	}
	if v.Score != 0.9 {
		t.Errorf("got %+v", v)
	}
}

func TestExtractJSONEmbeddedArray(t *testing.T) {
	content := `The list: ["a", "b"] done.`
	var v []string
	if err := ExtractJSON(content, &v); err != nil {
		t.Fatalf("embedded array: %v", err)
	}
	if len(v) != 2 || v[0] != "a" {
		t.Errorf("got %v", v)
	}
}

func TestExtractJSONFailures(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"whitespace":  "   \n ",
		"prose":       "I could not produce a score this time.",
		"broken json": `{"score": 0.8,`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			var v evalPayload
			if err := ExtractJSON(content, &v); err == nil {
				t.Errorf("expected error for %q", content)
			}
		})
	}
}
