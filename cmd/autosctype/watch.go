package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "autosctype/internal/config"
	"autosctype/internal/diag"
	"autosctype/internal/watch"
)

func newWatchCmd(f *cliFlags, stderr io.Writer) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "先完整运行一次，之后在 .sol 变更时仅对变更文件重新标注（Ctrl-C 退出）",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *f, args, debounce, stderr)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "合并连续变更的静默期")
	return cmd
}

func runWatch(ctx context.Context, f cliFlags, roots []string, debounce time.Duration, stderr io.Writer) error {
	cfg, err := loadConfig(f, roots, stderr)
	if err != nil {
		return err
	}
	if len(cfg.Inputs) == 1 && cfg.Inputs[0] == "-" {
		return configErr("watch: STDIN 输入无法监听")
	}
	logger := newLogger(cfg)
	defer logger.Sync()
	if err := preflightCheckOutputDir(cfg); err != nil {
		return configErr("输出目录不可写或无法创建: %w", err)
	}
	asm, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return configErr("装配失败: %w", err)
	}
	defer asm.Close()

	// 与 reader 保持一致的扩展名与排除目录
	var ropts struct {
		Extensions      []string `json:"extensions"`
		ExcludeDirNames []string `json:"exclude_dir_names"`
	}
	_ = json.Unmarshal(cfg.Options.Reader, &ropts)

	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	rerun := func(ctx context.Context, inputs []string) error {
		set := asm.Settings
		set.Inputs = inputs
		start := time.Now()
		term.RunStart(cfg.Concurrency, cfg.LLM)
		st, err := pipelineRun(ctx, asm.Components, set, logger)
		writeMetrics(cfg, logger)
		term.RunFinish(err == nil, time.Since(start))
		if err == nil {
			logger.InfoFinish("pipeline", "run", start, int64(st.Files))
		}
		return err
	}
	w, err := watch.New(watch.Options{
		Roots:           cfg.Inputs,
		Extensions:      ropts.Extensions,
		ExcludeDirNames: ropts.ExcludeDirNames,
		Debounce:        debounce,
		Initial:         true,
	}, rerun, logger)
	if err != nil {
		return configErr("%w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logEffective(logger, cfg)
	if err := w.Run(ctx); err != nil {
		return &exitError{code: exitRuntime, err: err}
	}
	return nil
}
