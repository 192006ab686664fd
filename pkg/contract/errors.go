package contract

import "errors"

// 扫描/写出相关最小错误分类。
var (
	// ErrNoContract: 源文本中未找到合约声明（structural-miss，非致命，跳过该文件）。
	ErrNoContract = errors.New("no contract declaration")
	// ErrNoContent: 标注方未返回可用内容（boundary-failure，回退为最小文档）。
	ErrNoContent = errors.New("no content")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
