package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// mockKey: mock/flaky 客户端未提供 api_key 时使用的固定分组。
const mockKey = "MOCK_DEBUG_KEY"

// DeriveKeyFromProviderOptions 从 LLM 客户端名与其原样 Options JSON 中提取 API Key，
// 返回 client+sha256(key) 形式的限流分组键；同一 key 的多个客户端（如缓存包装）共享额度。
// 解析键名 "api_key" 与 "api_key_env"；离线客户端无 key 时使用固定分组。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var opts struct {
		APIKey    string `json:"api_key"`
		APIKeyEnv string `json:"api_key_env"`
	}
	if len(raw) > 0 {
		// 未知字段由插件自身严格校验，这里只取需要的两个键
		_ = json.Unmarshal(raw, &opts)
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		switch client {
		case "mock", "flaky":
			key = mockKey
		default:
			return "", fmt.Errorf("rate: missing api key for client %s", client)
		}
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
