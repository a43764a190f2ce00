// Package fsm 状态机流转表
package fsm

import (
	"sort"

	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
)

// Event 流转事件
type Event string

// Edge 一条流转：From 中任一状态经 Event 到达 To
type Edge[S ~string] struct {
	From  []S
	Event Event
	To    S
}

// Table 单个实体的流转表
type Table[S ~string] struct {
	entity string
	edges  map[S]map[Event]S
}

// New 构造流转表，同一 (from, event) 重复定义会 panic
func New[S ~string](entity string, edges ...Edge[S]) *Table[S] {
	t := &Table[S]{entity: entity, edges: make(map[S]map[Event]S)}
	for _, e := range edges {
		for _, from := range e.From {
			m, ok := t.edges[from]
			if !ok {
				m = make(map[Event]S)
				t.edges[from] = m
			}
			if _, dup := m[e.Event]; dup {
				panic("fsm: duplicate edge " + string(from) + " --" + string(e.Event) + "-->")
			}
			m[e.Event] = e.To
		}
	}
	return t
}

// Entity 实体名
func (t *Table[S]) Entity() string { return t.entity }

// Fire 计算目标状态；非法流转返回 InvalidTransition 错误
func (t *Table[S]) Fire(current S, ev Event) (S, error) {
	if to, ok := t.edges[current][ev]; ok {
		return to, nil
	}
	return current, apperr.InvalidTransition(t.entity, string(ev), string(current))
}

// Can 是否允许流转
func (t *Table[S]) Can(current S, ev Event) bool {
	_, ok := t.edges[current][ev]
	return ok
}

// Events 当前状态下允许的事件（按名称排序）
func (t *Table[S]) Events(current S) []Event {
	out := make([]Event, 0, len(t.edges[current]))
	for ev := range t.edges[current] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sources 能经 ev 流转的所有源状态
func (t *Table[S]) Sources(ev Event) []S {
	var out []S
	for from, m := range t.edges {
		if _, ok := m[ev]; ok {
			out = append(out, from)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Terminal 没有出边的状态
func (t *Table[S]) Terminal(s S) bool {
	return len(t.edges[s]) == 0
}
