package tools

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// ToggleOn 开关默认开启，只有 false/0/no 关闭
func ToggleOn(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no":
		return false
	}
	return true
}

// Snippet 日志用的短样本
func Snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func RandMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
