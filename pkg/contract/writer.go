package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识，如 "Vault_types.txt"；与 FileID 共用表示。
type ArtifactID = FileID

// Writer: 将标注文档持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 按字节透传，不修改文档内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
