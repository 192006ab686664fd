package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "autosctype/internal/config"
	"autosctype/internal/diag"
	"autosctype/internal/pipeline"
	"autosctype/pkg/registry"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// exitError 携带退出码；其余错误（如旗标解析）按配置错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

// cliFlags: 根命令与 watch 共用的覆盖旗标。
type cliFlags struct {
	config      string
	llm         string
	apiKey      string
	outputDir   string
	callMode    string
	metricsOut  string
	concurrency int
	maxRetries  int
	debug       bool
	status      bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = cfgpkg.LoadDotEnv(".env")
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "%v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "%v\n", err)
	return exitConfig
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f cliFlags
	cmd := &cobra.Command{
		Use:   "autosctype [paths...]",
		Short: "为 Solidity 合约生成 token 流向与金融类型标注",
		Long: "扫描 .sol 文件（目录递归或单文件，\"-\" 表示 STDIN），对每个合约请求 LLM 生成边界标注，\n" +
			"规范化后写出 <Contract>_types.txt 与 <Contract>_ftypes.txt。\n" +
			"配置优先级：CLI > ENV(.env) > JSON。",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(cmd.Context(), f, args, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	bindFlags(cmd, &f)
	cmd.AddCommand(newInitConfigCmd(stdout, stderr))
	cmd.AddCommand(newWatchCmd(&f, stderr))
	return cmd
}

func bindFlags(cmd *cobra.Command, f *cliFlags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&f.llm, "llm", "", "provider 名称（覆盖配置）；内置客户端: "+strings.Join(registry.LLMNames(), ", "))
	pf.StringVar(&f.apiKey, "api-key", "", "写入所选 provider options.api_key（覆盖配置）")
	pf.StringVar(&f.outputDir, "output-dir", "", "写入 writer options.output_dir（覆盖配置）")
	pf.StringVar(&f.callMode, "call-mode", "", "combined | split（覆盖配置）")
	pf.StringVar(&f.metricsOut, "metrics-out", "", "运行结束写出 textfile 指标（覆盖 metrics.path）")
	pf.IntVar(&f.concurrency, "concurrency", 0, "并发度（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	pf.IntVar(&f.maxRetries, "max-retries", -1, "边界调用最大重试次数（覆盖配置；0 表示不重试）")
	pf.BoolVar(&f.debug, "debug", false, "强制 debug 日志级别")
	pf.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

// loadConfig: Defaults -> JSON（文件或 AUTOSCTYPE_CONFIG_JSON）-> ENV -> CLI，随后校验。
func loadConfig(f cliFlags, roots []string, stderr io.Writer) (cfgpkg.Config, error) {
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	// 默认读取工作目录下 config.json（若存在）
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(path, cfgJSON)
		if err != nil {
			return cfg, configErr("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, configErr("环境变量解析失败: %w", err)
	}
	// provider 先逐字段合并，避免 ENV 的部分字段清空 JSON 中的定义
	cfg.Provider = cfgpkg.MergeProviderPartial(cfg.Provider, overEnv.Provider)
	overEnv.Provider = nil
	cfg = cfgpkg.Merge(cfg, overEnv)

	overCLI := cfgpkg.Config{MaxRetries: f.maxRetries, LLM: f.llm, CallMode: f.callMode, Inputs: roots}
	if f.concurrency > 0 {
		overCLI.Concurrency = f.concurrency
	}
	if f.metricsOut != "" {
		overCLI.Metrics.Path = f.metricsOut
	}
	if f.debug {
		overCLI.Logging.Level = "debug"
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if f.outputDir != "" {
		raw, err := setOption(cfg.Options.Writer, "output_dir", f.outputDir)
		if err != nil {
			return cfg, configErr("writer options: %w", err)
		}
		cfg.Options.Writer = raw
	}
	if f.apiKey != "" {
		p, ok := cfg.Provider[cfg.LLM]
		if !ok {
			return cfg, configErr("--api-key: provider %q not found", cfg.LLM)
		}
		raw, err := setOption(p.Options, "api_key", f.apiKey)
		if err != nil {
			return cfg, configErr("provider options: %w", err)
		}
		p.Options = raw
		provs := make(map[string]cfgpkg.Provider, len(cfg.Provider))
		for k, v := range cfg.Provider {
			provs[k] = v
		}
		provs[cfg.LLM] = p
		cfg.Provider = provs
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(stderr, cfg)
		return cfg, configErr("配置校验失败: %w", err)
	}
	return cfg, nil
}

// setOption 在原样 JSON 对象中设置单个键（其余键保持不变）。
func setOption(raw json.RawMessage, key, val string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	v, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	m[key] = v
	return json.Marshal(m)
}

func newLogger(cfg cfgpkg.Config) *diag.Logger {
	level := strings.TrimSpace(cfg.Logging.Level)
	if level == "" {
		level = "info"
	}
	return diag.NewLogger(uuid.NewString(), level, cfg.Logging.Dir)
}

func runAnnotate(ctx context.Context, f cliFlags, roots []string, stderr io.Writer) error {
	start := time.Now()
	cfg, err := loadConfig(f, roots, stderr)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	// 预检：若使用文件系统 Writer，检查输出目录的可写性
	if err := preflightCheckOutputDir(cfg); err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr("输出目录不可写或无法创建: %w", err)
	}
	asm, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr("装配失败: %w", err)
	}
	defer asm.Close()

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.LLM)
	logEffective(logger, cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.Start("pipeline", "run")
	st, err := pipelineRun(ctx, asm.Components, asm.Settings, logger)
	defer writeMetrics(cfg, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		term.RunFinish(false, time.Since(start))
		return &exitError{code: exitRuntime, err: fmt.Errorf("运行失败: %w", err)}
	}
	t.FinishKV("run", int64(st.Files), statsKV(st))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return nil
}

func statsKV(st pipeline.Stats) map[string]string {
	return map[string]string{
		"files":             fmt.Sprint(st.Files),
		"skipped":           fmt.Sprint(st.Skipped),
		"contracts":         fmt.Sprint(st.Contracts),
		"fallbacks":         fmt.Sprint(st.Fallbacks),
		"boundary_failures": fmt.Sprint(st.BoundaryFailures),
	}
}

func writeMetrics(cfg cfgpkg.Config, logger *diag.Logger) {
	p := strings.TrimSpace(cfg.Metrics.Path)
	if p == "" {
		return
	}
	if err := diag.WriteTextfile(p); err != nil {
		logger.Warn("metrics", string(diag.Classify(err)), "write textfile failed", "", "", map[string]string{"path": p, "err": err.Error()})
	}
}

// logEffective: debug 输出运行时配置（不含密钥）。
func logEffective(logger *diag.Logger, cfg cfgpkg.Config) {
	kv := map[string]string{
		"inputs_count":   fmt.Sprint(len(cfg.Inputs)),
		"concurrency":    fmt.Sprint(cfg.Concurrency),
		"max_tokens":     fmt.Sprint(cfg.MaxTokens),
		"call_mode":      cfg.CallMode,
		"llm":            cfg.LLM,
		"reader":         cfg.Components.Reader,
		"prompt_builder": cfg.Components.PromptBuilder,
		"decoder":        cfg.Components.Decoder,
		"writer":         cfg.Components.Writer,
	}
	if cfg.Cache.Path != "" {
		kv["cache"] = cfg.Cache.Path
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	logger.DebugStart("config", "effective", "", "", kv)
}

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

func newInitConfigCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成默认 config.json 与 .env 模板（已存在则跳过）；dir 为 - 时配置写到 stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			return initConfig(dir, stdout, stderr)
		},
	}
}

func initConfig(dir string, stdout, stderr io.Writer) error {
	cfg := cfgpkg.DefaultTemplateConfig()
	if dir == "-" {
		if err := writeConfig(stdout, "-", cfg); err != nil {
			return configErr("生成默认配置失败: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return configErr("生成默认配置失败: %w", err)
	}
	cfgPath := filepath.Join(dir, "config.json")
	if err := writeConfig(stdout, cfgPath, cfg); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return configErr("生成默认配置失败: %w", err)
		}
		fmt.Fprintf(stderr, "已存在，跳过: %s\n", cfgPath)
	}
	// .env 生成失败不影响退出码
	if err := cfgpkg.WriteDotEnvTemplate(filepath.Join(dir, ".env")); err != nil {
		fmt.Fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

// writeConfig: path 为 "-" 时写 stdout；否则创建新文件（不覆盖已存在文件）。
func writeConfig(stdout io.Writer, path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录可写。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 未指定时无法可靠检查，让装配阶段按实现自行报错
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	parent := filepath.Dir(dir)
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
