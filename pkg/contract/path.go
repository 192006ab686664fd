package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：正斜杠分隔；清理多余分隔符与 . / ..；保留相对/绝对语义。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// Stem 返回 FileID 的基名（去扩展名），用于日志与 mock 夹具查找。
func (id FileID) Stem() string {
	base := path.Base(string(id))
	return strings.TrimSuffix(base, path.Ext(base))
}
