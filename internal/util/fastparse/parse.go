// Package fastparse 提供数值字段解析函数。
// 数据源的元组字段可能是 JSON 数字，也可能是带引号的数字字符串。
package fastparse

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNotFinite 数值为 NaN 或 Inf
var ErrNotFinite = errors.New("数值不是有限数")

// ParseFloat 解析浮点数字符串，拒绝 NaN 与 Inf
// 参数 s: 待解析的字符串，如 "0.0002"
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}

// ParseInt 解析十进制整数字符串
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// JSONFloat 解析单个 JSON 值为浮点数
// 接受数字字面量或数字字符串；null、布尔、对象等均返回错误。
func JSONFloat(raw []byte) (float64, error) {
	s, err := scalar(raw)
	if err != nil {
		return 0, err
	}
	return ParseFloat(s)
}

// JSONInt 解析单个 JSON 值为整数
// 允许 "2" 或 2.0 这类可无损表示为整数的值。
func JSONInt(raw []byte) (int, error) {
	s, err := scalar(raw)
	if err != nil {
		return 0, err
	}
	if v, err := ParseInt(s); err == nil {
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("整数越界: %d", v)
		}
		return int(v), nil
	}
	f, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("不是整数: %s", s)
	}
	return int(f), nil
}

// scalar 去除空白和字符串引号，返回数值文本
func scalar(raw []byte) (string, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return "", errors.New("空值")
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return "", fmt.Errorf("非法字符串: %w", err)
		}
		return s, nil
	}
	switch b[0] {
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(b), nil
	}
	return "", fmt.Errorf("不是数值: %s", b)
}
