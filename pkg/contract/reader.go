package contract

import (
	"context"
	"io"
)

// Reader: 合约源输入抽象（单个 .sol 文件或目录树）。
// 约束：
// 1) 按文件维度回调，顺序稳定（字典序）；
// 2) FileID 去平台差异化；
// 3) 只提供字节流，不做扫描；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
