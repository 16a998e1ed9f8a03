// Command pipelined is the pipeline daemon: it hosts the operator API, watches
// the bucket for aggregated data arrivals, and runs workflow executions through
// train → register → configure → deploy.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayml-labs/relayml-go/internal/chain"
	"github.com/relayml-labs/relayml-go/internal/domain"
	"github.com/relayml-labs/relayml-go/internal/hosting"
	"github.com/relayml-labs/relayml-go/internal/jobexec"
	"github.com/relayml-labs/relayml-go/internal/pipeline"
	"github.com/relayml-labs/relayml-go/internal/platform/auditlog"
	"github.com/relayml-labs/relayml-go/internal/platform/auth"
	"github.com/relayml-labs/relayml-go/internal/platform/env"
	"github.com/relayml-labs/relayml-go/internal/platform/eventlog"
	"github.com/relayml-labs/relayml-go/internal/platform/httpserver"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
	"github.com/relayml-labs/relayml-go/internal/platform/postgres"
	"github.com/relayml-labs/relayml-go/internal/registry"
	"github.com/relayml-labs/relayml-go/internal/training"
	"github.com/relayml-labs/relayml-go/internal/transform"
	"github.com/relayml-labs/relayml-go/internal/watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RELAYML_PIPELINED_HTTP_ADDR", ":8081")
	shutdownTimeout, err := env.Duration("RELAYML_PIPELINED_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	// The template ships the step graph as data; startup refuses to run with a
	// template that disagrees with the state machine.
	template, err := pipeline.LoadTemplateFile(env.String("RELAYML_PIPELINE_TEMPLATE", ""))
	if err != nil {
		logger.Error("invalid pipeline template", "error", err)
		os.Exit(2)
	}
	logger.Info("pipeline template loaded", "name", template.Name, "steps", len(template.Steps))

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	store, err := objectstore.NewMinioStoreWithClient(storeClient, storeCfg.Bucket)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	internalAuthSecret := env.String("RELAYML_INTERNAL_AUTH_SECRET", "")
	headersAuth, err := auth.NewGatewayHeadersAuthenticator(internalAuthSecret)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}
	authorizer := auth.MethodRoleAuthorizer()

	executor, err := jobexec.NewDockerExecutor(env.String("RELAYML_DOCKER_BIN", "docker"))
	if err != nil {
		logger.Error("job executor init failed", "error", err)
		os.Exit(2)
	}

	trainCfg, err := training.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid training config", "error", err)
		os.Exit(2)
	}
	trainRunner, err := training.NewRunner(trainCfg, executor, store, logger)
	if err != nil {
		logger.Error("training runner init failed", "error", err)
		os.Exit(2)
	}

	hostCfg, err := hosting.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid hosting config", "error", err)
		os.Exit(2)
	}
	serveController, err := hosting.NewContainerServeController(executor, hostCfg.ServingImage, logger)
	if err != nil {
		logger.Error("serve controller init failed", "error", err)
		os.Exit(2)
	}

	executionStore := pipeline.NewExecutionStore(db)
	modelStore := registry.NewModelStore(db)
	hostingStore := registry.NewHostingConfigStore(db)
	endpointStore := registry.NewEndpointStore(db)

	deployer, err := hosting.NewDeployer(hostCfg, endpointStore, serveController, logger)
	if err != nil {
		logger.Error("deployer init failed", "error", err)
		os.Exit(2)
	}

	instanceType := env.String("RELAYML_HOSTING_INSTANCE_TYPE", "local.small")

	steps := pipeline.Steps{
		Train: func(ctx context.Context, executionID string) (pipeline.TrainOutput, error) {
			logStepEvent(ctx, db, logger, eventlog.KindStepStarted, executionID, domain.StateTrain, nil)
			out, err := trainRunner.Run(ctx, executionID)
			if err != nil {
				return pipeline.TrainOutput{}, err
			}
			logStepEvent(ctx, db, logger, eventlog.KindStepCompleted, executionID, domain.StateTrain, map[string]any{
				"artifact_key": out.ArtifactKey,
			})
			return pipeline.TrainOutput{ArtifactKey: out.ArtifactKey, TrainingJobID: out.TrainingJobID}, nil
		},
		RegisterModel: func(ctx context.Context, executionID string, train pipeline.TrainOutput) (string, error) {
			logStepEvent(ctx, db, logger, eventlog.KindStepStarted, executionID, domain.StateRegisterModel, nil)
			model, err := modelStore.Register(ctx, domain.Model{
				Name:          "relayml-" + executionID,
				ArtifactKey:   train.ArtifactKey,
				TrainingJobID: train.TrainingJobID,
				CreatedBy:     "pipelined",
			})
			if err != nil {
				return "", err
			}
			logStepEvent(ctx, db, logger, eventlog.KindStepCompleted, executionID, domain.StateRegisterModel, map[string]any{
				"model_id": model.ID,
			})
			return model.ID, nil
		},
		ConfigureHosting: func(ctx context.Context, executionID string, modelID string) (string, error) {
			logStepEvent(ctx, db, logger, eventlog.KindStepStarted, executionID, domain.StateConfigureHosting, nil)
			cfg, err := hostingStore.Create(ctx, domain.HostingConfig{
				ModelID:      modelID,
				InstanceType: instanceType,
			})
			if err != nil {
				return "", err
			}
			logStepEvent(ctx, db, logger, eventlog.KindStepCompleted, executionID, domain.StateConfigureHosting, map[string]any{
				"hosting_config_id": cfg.ID,
			})
			return cfg.ID, nil
		},
		DeployEndpoint: func(ctx context.Context, executionID string, hostingConfigID string) (string, error) {
			logStepEvent(ctx, db, logger, eventlog.KindStepStarted, executionID, domain.StateDeployEndpoint, nil)
			name, err := deployer.Deploy(ctx, executionID, hostingConfigID)
			if err != nil {
				return "", err
			}
			logStepEvent(ctx, db, logger, eventlog.KindStepCompleted, executionID, domain.StateDeployEndpoint, map[string]any{
				"endpoint_name": name,
			})
			return name, nil
		},
	}

	orchestrator, err := pipeline.NewOrchestrator(executionStore, steps, logger)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}
	orchestrator.OnTerminal = func(ctx context.Context, exec domain.Execution) {
		detail := map[string]any{"state": string(exec.State)}
		if exec.FailureReason != "" {
			detail["failure_reason"] = exec.FailureReason
		}
		insertEvent(ctx, db, logger, eventlog.Event{
			Kind:        eventlog.KindStateChanged,
			SubjectType: "pipeline_execution",
			SubjectID:   exec.ID,
			Detail:      detail,
		})
		if exec.State == domain.StateSucceeded {
			insertEvent(ctx, db, logger, eventlog.Event{
				Kind:        eventlog.KindEndpointUpdated,
				SubjectType: "endpoint",
				SubjectID:   exec.EndpointName,
				Detail:      map[string]any{"hosting_config_id": exec.HostingConfigID, "execution_id": exec.ID},
			})
		}
	}

	trigger, err := chain.NewTrigger(func(ctx context.Context, runID string) error {
		job := transform.AggregateJob{
			Store:  store,
			Input:  objectstore.PrefixClean,
			Output: objectstore.PrefixAggregated,
			Logger: logger,
		}
		insertEvent(ctx, db, logger, eventlog.Event{
			Kind:        eventlog.KindTriggerFired,
			SubjectType: "clean_run",
			SubjectID:   runID,
			Detail:      map[string]any{"downstream": "aggregate"},
		})
		_, err := job.Run(ctx)
		return err
	}, logger)
	if err != nil {
		logger.Error("chain trigger init failed", "error", err)
		os.Exit(2)
	}

	api := &pipelineAPI{
		logger:       logger,
		db:           db,
		store:        store,
		executions:   executionStore,
		models:       modelStore,
		endpoints:    endpointStore,
		orchestrator: orchestrator,
		trigger:      trigger,
		bucket:       storeCfg.Bucket,
		endpointName: hostCfg.EndpointName,
		runCtx:       ctx,
	}

	notifier, err := watch.NewNotifier(storeClient, storeCfg.Bucket, logger)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(2)
	}
	signals := make(chan watch.StartSignal, 16)
	go watchLoop(ctx, logger, notifier, signals)
	go consumeSignals(ctx, logger, db, orchestrator, signals)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("pipelined"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"pipelined",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: headersAuth,
		Authorize:     authorizer,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "pipelined", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "pipelined",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "pipelined", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// watchLoop keeps the notification stream alive; the stream drops on network
// hiccups and MinIO restarts, so it reconnects until shutdown.
func watchLoop(ctx context.Context, logger *slog.Logger, notifier *watch.Notifier, signals chan<- watch.StartSignal) {
	for {
		err := notifier.Watch(ctx, signals)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("notification stream interrupted", "error", err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// consumeSignals starts one workflow execution per aggregated-data arrival.
// Executions run one at a time here; manual API starts are independent.
func consumeSignals(ctx context.Context, logger *slog.Logger, db *sql.DB, orchestrator *pipeline.Orchestrator, signals <-chan watch.StartSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-signals:
			if !ok {
				return
			}
			insertEvent(ctx, db, logger, eventlog.Event{
				Kind:        eventlog.KindObjectCreated,
				SubjectType: "object",
				SubjectID:   signal.Key,
				Detail:      map[string]any{"prefix": objectstore.PrefixAggregated},
			})
			exec, err := orchestrator.Start(ctx)
			if err != nil {
				logger.Error("execution start failed", "key", signal.Key, "error", err.Error())
				continue
			}
			logger.Info("execution finished",
				"execution_id", exec.ID,
				"state", string(exec.State),
				"trigger_key", signal.Key,
			)
		}
	}
}

func insertEvent(ctx context.Context, db *sql.DB, logger *slog.Logger, event eventlog.Event) {
	event.OccurredAt = time.Now().UTC()
	event.Source = "pipelined"
	if _, err := eventlog.Insert(ctx, db, event); err != nil && logger != nil {
		logger.Warn("event log write failed", "kind", event.Kind, "error", err.Error())
	}
}

func logStepEvent(ctx context.Context, db *sql.DB, logger *slog.Logger, kind, executionID string, step domain.ExecutionState, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["step"] = string(step)
	insertEvent(ctx, db, logger, eventlog.Event{
		Kind:        kind,
		SubjectType: "pipeline_execution",
		SubjectID:   executionID,
		Detail:      detail,
	})
}
