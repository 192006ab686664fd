package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"autosctype/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		if _, err := Reader["fs"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("reader: %v", err)
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
		if _, err := Reader["fs"](json.RawMessage(`{"include":["[bad"]}`)); err == nil {
			t.Fatalf("reader 未对非法 glob 报错")
		}
	})
	t.Run("prompt", func(t *testing.T) {
		if _, err := PromptBuilder["annotate"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("prompt: %v", err)
		}
		if _, err := PromptBuilder["annotate"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("prompt 未对未知字段报错")
		}
	})
	t.Run("decoder", func(t *testing.T) {
		if _, err := Decoder["sections"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("decoder: %v", err)
		}
		if _, err := Decoder["sections"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("decoder 未对未知字段报错")
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, tmp))
		if _, err := Writer["fs"](raw); err != nil {
			t.Fatalf("writer: %v", err)
		}
		bad := json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp))
		if _, err := Writer["fs"](bad); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
		if _, err := Writer["fs"](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("writer 缺少 output_dir 应报错: %v", err)
		}
	})
	t.Run("llm-mock", func(t *testing.T) {
		if _, err := LLMClient["mock"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("mock: %v", err)
		}
		if _, err := LLMClient["flaky"](nil); err != nil {
			t.Fatalf("flaky: %v", err)
		}
	})
	for _, name := range []string{"openai", "deepseek", "gemini"} {
		t.Run("llm-"+name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("DEEPSEEK_API_KEY", "")
			t.Setenv("GEMINI_API_KEY", "")
			if _, err := LLMClient[name](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
				t.Fatalf("%s 未按预期报错: %v", name, err)
			}
		})
	}
	t.Run("names", func(t *testing.T) {
		for _, n := range LLMNames() {
			if LLMClient[n] == nil {
				t.Fatalf("LLMNames 含未注册项 %q", n)
			}
		}
		if len(LLMNames()) != len(LLMClient) {
			t.Fatalf("LLMNames 与注册表不一致")
		}
	})
}
