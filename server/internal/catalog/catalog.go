package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"backpack-tutor/server/internal/model"
)

var ErrNotFound = errors.New("module not found")

// Module 是目录文件里的一个可辅导模块：
// 名称、学习目标，以及供检索的课程材料片段。
type Module struct {
	ModuleID    string               `json:"module_id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Goals       []model.LearningGoal `json:"goals"`
	Passages    []model.Passage      `json:"passages"`
}

// Catalog 是只读的模块目录。
// 模块/目标的增删改由外部系统负责，这里只消费快照文件。
type Catalog struct {
	modules []Module
	byID    map[string]int
}

// Load 从指定路径加载模块目录。
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read modules: %w", err)
	}

	var modules []Module
	if err := json.Unmarshal(data, &modules); err != nil {
		return nil, fmt.Errorf("parse modules: %w", err)
	}

	return New(modules), nil
}

// New 从内存数据构建目录（测试用）。
func New(modules []Module) *Catalog {
	c := &Catalog{
		modules: modules,
		byID:    make(map[string]int, len(modules)),
	}
	for i := range c.modules {
		// 目标按 order 升序排好，order 相同保持文件顺序。
		sort.SliceStable(c.modules[i].Goals, func(a, b int) bool {
			return c.modules[i].Goals[a].Order < c.modules[i].Goals[b].Order
		})
		c.byID[c.modules[i].ModuleID] = i
	}
	return c
}

// GetModule 按 ID 查找模块。
func (c *Catalog) GetModule(moduleID string) (Module, error) {
	i, ok := c.byID[moduleID]
	if !ok {
		return Module{}, ErrNotFound
	}
	return c.modules[i], nil
}

// List 返回全部模块（文件顺序）。
func (c *Catalog) List() []Module {
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}
