package tenant

import (
	"strings"
	"unicode"
)

// MatchStrategy 名称匹配使用的策略
type MatchStrategy int

const (
	MatchNone MatchStrategy = iota
	// MatchExact 去除首尾空白后完全相等
	MatchExact
	// MatchCompact 去除全部空白后相等
	MatchCompact
	// MatchSubstring 任一方包含另一方
	MatchSubstring
)

func (s MatchStrategy) String() string {
	switch s {
	case MatchExact:
		return "exact"
	case MatchCompact:
		return "compact"
	case MatchSubstring:
		return "substring"
	default:
		return "none"
	}
}

// NormalizeName 角色名规范形式：去除首尾空白
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

func compactName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

// MatchName 在 names 中查找 query
// 按策略优先：先对所有候选尝试精确匹配，再尝试去空白匹配，最后尝试包含匹配；
// 同一策略内取第一个命中项。未命中返回 (-1, MatchNone)。
func MatchName(names []string, query string) (int, MatchStrategy) {
	q := NormalizeName(query)
	if q == "" {
		return -1, MatchNone
	}

	for i, name := range names {
		if NormalizeName(name) == q {
			return i, MatchExact
		}
	}

	qc := compactName(q)
	for i, name := range names {
		if c := compactName(name); c != "" && c == qc {
			return i, MatchCompact
		}
	}

	for i, name := range names {
		n := NormalizeName(name)
		if n == "" {
			continue
		}
		if strings.Contains(n, q) || strings.Contains(q, n) {
			return i, MatchSubstring
		}
	}
	return -1, MatchNone
}
