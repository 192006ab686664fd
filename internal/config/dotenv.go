package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv 读取 .env 并写入进程环境；文件不存在时忽略。
// 已存在的环境变量不被覆盖（ENV 优先于 .env）。
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, val, ok := parseDotEnvLine(s.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("dotenv %s: %w", key, err)
		}
	}
	return s.Err()
}

// parseDotEnvLine: KEY=VALUE，允许 export 前缀与成对引号；注释与空行返回 ok=false。
func parseDotEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:eq])
	val := strings.TrimSpace(line[eq+1:])
	if key == "" {
		return "", "", false
	}
	if n := len(val); n >= 2 {
		switch {
		case val[0] == '\'' && val[n-1] == '\'':
			val = val[1 : n-1]
		case val[0] == '"' && val[n-1] == '"':
			val = unescapeDouble(val[1 : n-1])
		}
	}
	return key, val, true
}

// unescapeDouble: 双引号内的最小转义集合。
func unescapeDouble(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// dotEnvProviders: 模板中列出覆盖项的 provider。
var dotEnvProviders = []string{"deepseek", "openai", "gemini"}

// WriteDotEnvTemplate 生成 .env 模板；文件已存在时跳过（不覆盖，不合并）。
func WriteDotEnvTemplate(path string) error {
	var b strings.Builder
	line := func(keys ...string) {
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString("=\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("# autosctype .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON；空值表示未设置。\n\n")

	b.WriteString("# 配置来源（二选一）\n")
	line(EnvPrefix+"CONFIG_FILE", EnvPrefix+"CONFIG_JSON")

	b.WriteString("# 运行参数覆盖\n")
	line(EnvPrefix+"INPUTS", EnvPrefix+"CONCURRENCY", EnvPrefix+"MAX_TOKENS", EnvPrefix+"MAX_RETRIES",
		EnvPrefix+"SOURCE_BUDGET", EnvPrefix+"CALL_MODE", EnvPrefix+"EMIT_SUMMARY", EnvPrefix+"TABLES_PATH",
		EnvPrefix+"LLM")

	b.WriteString("# 日志 / 指标 / 缓存\n")
	line(EnvPrefix+"LOG_LEVEL", EnvPrefix+"LOG_DIR", EnvPrefix+"METRICS_PATH", EnvPrefix+"CACHE_PATH")

	b.WriteString("# 组件选择\n")
	line(EnvPrefix+"COMPONENTS_READER", EnvPrefix+"COMPONENTS_WRITER",
		EnvPrefix+"COMPONENTS_PROMPT_BUILDER", EnvPrefix+"COMPONENTS_DECODER")

	for _, p := range dotEnvProviders {
		fmt.Fprintf(&b, "# Provider 覆盖（%s）\n", p)
		pre := EnvPrefix + "PROVIDER__" + p + "__"
		line(pre+"CLIENT", pre+"LIMITS_RPM", pre+"LIMITS_TPM", pre+"LIMITS_MAX_TOKENS_PER_REQ", pre+"OPTIONS_JSON")
	}

	// 由 Provider 客户端直接读取，不带前缀
	b.WriteString("# 供应商 API Key\n")
	line("DEEPSEEK_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
