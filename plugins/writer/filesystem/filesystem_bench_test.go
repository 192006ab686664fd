package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"autosctype/pkg/contract"
)

// BenchmarkWrite 不同文档尺寸下的写入性能（关闭内容比较）。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{1024, 256 * 1024} {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := bytes.Repeat([]byte("[t], Vault, fee, 1, 1, 18, 'u'\n"), sz/32)
			off := false
			w, err := New(&Options{OutputDir: b.TempDir(), SkipUnchanged: &off})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactName("Vault", contract.VariantToken)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
