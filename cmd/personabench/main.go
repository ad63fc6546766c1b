package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"personabench/internal/chat"
	"personabench/internal/chat/deepseek"
	"personabench/internal/chat/gemini"
	"personabench/internal/chat/openai"
	"personabench/internal/config"
	"personabench/internal/dataset"
	"personabench/internal/eval"
	"personabench/internal/judge"
	"personabench/internal/logging"
	"personabench/internal/notify"
	"personabench/internal/persona"
	"personabench/internal/store"
	"personabench/internal/translate"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("run failed", "err", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	rt := chat.NewRuntime()
	defer rt.Shutdown()

	if cfg.FreeAnswers != "" {
		return runFreeAnswers(ctx, cfg, log, rt)
	}

	primary, err := rt.Activate(chat.SlotPrimary, engineConstruct(cfg, cfg.Backend, cfg.Model))
	if err != nil {
		return err
	}
	log.Info("engine ready", "backend", primary.Name(), "model", primary.Model())

	var st store.Store
	if cfg.StoreBackend == "postgres" {
		st, err = store.OpenPostgres(cfg.PostgresDSN)
	} else {
		st, err = store.OpenSQLite(cfg.StorePath())
	}
	if err != nil {
		return err
	}
	defer st.Close()

	ds, err := loadDataset(cfg)
	if err != nil {
		return err
	}

	var tr *translate.Gateway
	if cfg.Mode.Translates() {
		tr = translate.New(cfg.TranslateURL, cfg.TranslateAPIKey)
	}

	runID := uuid.NewString()
	log.Info("run starting",
		"run_id", runID,
		"mode", cfg.Mode.String(),
		"difficulty", string(cfg.Difficulty),
		"iterations", cfg.NumIterations,
		"resume", cfg.Resume,
		"questions", len(ds.Easy)+len(ds.HardGroups))

	orch := &eval.Orchestrator{
		Personas: persona.NewEngine(primary, tr, log),
		Evaluator: &eval.Evaluator{
			LLM:            primary,
			Log:            log,
			Temperature:    cfg.Temperature,
			EnableThinking: cfg.EnableThinking,
		},
		Store: st,
		Log:   log,
		RunID: runID,
	}

	var tg *notify.Telegram
	if cfg.TelegramToken != "" {
		tg, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID,
			fmt.Sprintf("[%s/%s]", cfg.Mode, cfg.Difficulty), log)
		if err != nil {
			return err
		}
		orch.Notifier = tg
	}

	accs, err := orch.Run(ctx, ds, cfg.Mode, cfg.NumIterations, cfg.Resume)
	if err != nil {
		return err
	}
	tg.RunDone(accs)

	if cfg.BestOfN {
		// Swap the answer engine out for the judge before selection.
		judgeEngine, err := rt.Activate(chat.SlotJudge, engineConstruct(cfg, cfg.JudgeBackend, cfg.JudgeModel))
		if err != nil {
			return err
		}
		log.Info("judge ready", "backend", judgeEngine.Name(), "model", judgeEngine.Model())

		j := &judge.Judge{LLM: judgeEngine, Log: log}
		acc, err := judge.RunBestOfN(ctx, j, st, cfg.Difficulty, cfg.Mode, runID)
		if err != nil {
			return err
		}
		fmt.Printf("best-of-n: %d/%d = %.4f\n", acc.Correct, acc.Total, acc.Accuracy)
	}

	fmt.Print("accuracy by iteration:")
	for _, a := range accs {
		fmt.Printf(" %.4f", a.Accuracy)
	}
	fmt.Println()
	return nil
}

func runFreeAnswers(ctx context.Context, cfg *config.Config, log *logging.Logger, rt *chat.Runtime) error {
	judgeEngine, err := rt.Activate(chat.SlotJudge, engineConstruct(cfg, cfg.JudgeBackend, cfg.JudgeModel))
	if err != nil {
		return err
	}
	log.Info("judge ready", "backend", judgeEngine.Name(), "model", judgeEngine.Model())

	items, err := dataset.LoadFreeAnswers(cfg.FreeAnswers)
	if err != nil {
		return err
	}
	j := &judge.Judge{LLM: judgeEngine, Log: log}
	rep, err := j.GradeFreeAnswers(ctx, items)
	if err != nil {
		return err
	}
	fmt.Printf("free answers: %d/%d = %.4f (skipped %d, failed %d)\n",
		rep.Correct, rep.Total, rep.Accuracy(), rep.Skipped, rep.Failed)
	return nil
}

func engineConstruct(cfg *config.Config, backend, model string) func() (chat.Engine, error) {
	return func() (chat.Engine, error) {
		switch backend {
		case "openai":
			return openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, model), nil
		case "gemini":
			return gemini.New(cfg.GeminiAPIKey, model), nil
		case "deepseek":
			return deepseek.New(cfg.DeepSeekAPIKey, model), nil
		}
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func loadDataset(cfg *config.Config) (eval.Dataset, error) {
	ds := eval.Dataset{Difficulty: cfg.Difficulty}
	var err error
	if cfg.Difficulty == dataset.Easy {
		ds.Easy, err = dataset.LoadEasy(cfg.Dataset)
	} else {
		ds.HardGroups, err = dataset.LoadHard(cfg.Dataset)
	}
	return ds, err
}
