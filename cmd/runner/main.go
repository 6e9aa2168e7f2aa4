package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/simstudio/runner/cmd/runner/condition"
	"github.com/simstudio/runner/cmd/runner/executor"
	"github.com/simstudio/runner/cmd/runner/handlers"
	"github.com/simstudio/runner/cmd/runner/providers"
	"github.com/simstudio/runner/cmd/runner/routes"
	"github.com/simstudio/runner/cmd/runner/sandbox"
	"github.com/simstudio/runner/cmd/runner/security"
	"github.com/simstudio/runner/cmd/runner/tools"
	"github.com/simstudio/runner/common/bootstrap"
	"github.com/simstudio/runner/common/cache"
	"github.com/simstudio/runner/common/ratelimit"
	"github.com/simstudio/runner/common/repository"
	"github.com/simstudio/runner/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config
	log := components.Logger

	secrets, err := repository.NewSecretBox(cfg.Execution.SecretsKey)
	if err != nil {
		log.Error("secrets configuration invalid", "error", err)
		os.Exit(1)
	}

	store := cache.New()
	defer store.Close()

	workflowRepo := repository.NewWorkflowRepository(components.DB.Pool).
		WithCache(store, cfg.Execution.WorkflowCacheTTL)
	envVarRepo := repository.NewEnvVarRepository(components.DB.Pool, secrets)
	logRepo := repository.NewExecutionLogRepository(components.DB.Pool)
	userRepo := repository.NewUserRepository(components.DB.Pool)

	limiter := ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)

	providerRegistry := providers.NewRegistry()
	providerRegistry.Register("openai", providers.NewOpenAIProvider(
		cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIBaseURL, log))

	validator := security.NewURLValidator()
	httpExecutor := tools.NewHTTPExecutor(cfg.Execution.ToolHTTPTimeout, validator, log)
	toolRegistry := tools.NewRegistry(httpExecutor, log)
	tools.RegisterBuiltins(toolRegistry)

	exec := executor.New(executor.Opts{
		Workflows: workflowRepo,
		EnvVars:   envVarRepo,
		Logs:      logRepo,
		Redis:     components.Redis,
		Providers: providerRegistry,
		Tools:     toolRegistry,
		Sandbox:   sandbox.New(cfg.Execution.SandboxTimeout, log),
		Evaluator: condition.NewEvaluator(),
		Config:    cfg,
		Logger:    log,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	routes.Register(e, routes.Deps{
		Components: components,
		Users:      userRepo,
		Limiter:    limiter,
		Execute:    handlers.NewExecuteHandler(exec, log),
		Workflows:  handlers.NewWorkflowHandler(workflowRepo, log),
		Env:        handlers.NewEnvironmentHandler(envVarRepo, log),
	})

	srv := server.New("runner", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
