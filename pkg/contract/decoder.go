package contract

import "context"

// Candidates: 每个变体一份未经修复的候选文本；缺失键等价于空候选。
type Candidates map[Variant]string

// Decoder: 将 Raw 拆分为各变体的候选文本；分节标记/回退策略由具体实现自决。
// 约束：
//  1. 只返回 variants 中请求的键；
//  2. 不做协议修复（由 normalizer 负责）；
//  3. 无法识别任何内容时返回 ErrResponseInvalid。
type Decoder interface {
	Decode(ctx context.Context, raw Raw, variants []Variant) (Candidates, error)
}
