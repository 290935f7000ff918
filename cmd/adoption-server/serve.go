package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adoption-workflow/internal/adoption"
	"adoption-workflow/internal/api"
	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/cache"
	"adoption-workflow/internal/common/auth"
	awsclients "adoption-workflow/internal/common/aws"
	"adoption-workflow/internal/common/camunda"
	"adoption-workflow/internal/common/config"
	"adoption-workflow/internal/common/database"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/observability"
	"adoption-workflow/internal/common/retry"
	"adoption-workflow/internal/store"
	sir "adoption-workflow/internal/workers/interviews/send-interview-reminders"
	dn "adoption-workflow/internal/workers/notifications/deliver-notifications"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg)
			defer logger.Sync(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// backend is the persistence wiring chosen by store.driver.
type backend struct {
	store    store.Store
	catalog  store.PetCatalog
	contacts store.ContactDirectory
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("Using in-memory store; data is lost on restart", nil)
		mem := store.NewMemory()
		return &backend{store: mem, catalog: mem, contacts: mem, close: func() {}}, nil
	}

	pg, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	repo := store.NewPostgres(pg.DB)
	catalog := store.NewPostgresCatalog(repo)
	return &backend{
		store:    repo,
		catalog:  catalog,
		contacts: catalog,
		close:    func() { pg.Close() },
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.Info("Starting adoption server", map[string]interface{}{
		"version":     version,
		"environment": cfg.App.Environment,
	})

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	loc, err := time.LoadLocation(cfg.Scheduling.Timezone)
	if err != nil {
		return fmt.Errorf("scheduling.timezone: %w", err)
	}
	calc, err := availability.NewCalculator(availability.Options{
		Location:      loc,
		BusinessStart: cfg.Scheduling.BusinessStart,
		BusinessEnd:   cfg.Scheduling.BusinessEnd,
		SlotMinutes:   cfg.Scheduling.SlotMinutes,
	})
	if err != nil {
		return err
	}

	opts := adoption.Options{
		Store:         be.store,
		Catalog:       be.catalog,
		Calculator:    calc,
		Observability: obs,
		Logger:        log,
		ReminderLead:  config.GetDuration(cfg.Scheduling.ReminderLead),
	}
	if cfg.Database.Redis.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			// The cache is optional; reads fall back to the store.
			log.Warn("Redis unavailable at startup", map[string]interface{}{"error": err.Error()})
		}
		opts.Cache = cache.NewAvailabilityCache(rc.Client, config.GetDuration(cfg.Scheduling.AvailabilityCacheTTL))
	}

	svc, err := adoption.NewService(opts)
	if err != nil {
		return err
	}

	reminders, err := sir.NewHandler(sir.LoadConfig(cfg), svc, log)
	if err != nil {
		return fmt.Errorf("%s: %w", sir.TaskType, err)
	}
	delivery, err := newDeliveryHandler(ctx, cfg, be, log)
	if err != nil {
		return fmt.Errorf("%s: %w", dn.TaskType, err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: api.NewRouter(api.Deps{
			Service: svc,
			Auth:    auth.NewAuthenticator(cfg.Auth),
			Logger:  log,
		}),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
		defer cancel()
		log.Info("Shutting down HTTP server", nil)
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Camunda.Enabled {
		if err := startJobWorkers(gctx, g, cfg, log, map[string]camunda.JobHandler{
			sir.TaskType: reminders,
			dn.TaskType:  delivery,
		}); err != nil {
			return err
		}
	} else {
		g.Go(func() error {
			return runEvery(gctx, config.GetDuration(cfg.Scheduling.ReminderInterval), sir.TaskType, log,
				func(ctx context.Context) error {
					_, err := reminders.Execute(ctx, &sir.Input{})
					return err
				})
		})
		g.Go(func() error {
			return runEvery(gctx, config.GetDuration(cfg.Notifications.DeliveryInterval), dn.TaskType, log,
				func(ctx context.Context) error {
					_, err := delivery.Execute(ctx, &dn.Input{})
					return err
				})
		})
	}

	err = g.Wait()
	log.Info("Adoption server stopped", nil)
	return err
}

func newDeliveryHandler(ctx context.Context, cfg *config.Config, be *backend, log logger.Logger) (*dn.Handler, error) {
	dcfg := dn.LoadConfig(cfg)
	var (
		sesClient dn.SESService
		snsClient dn.SNSService
	)
	if dcfg.EmailEnabled || dcfg.SMSEnabled {
		clients, err := awsclients.NewClients(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return nil, err
		}
		sesClient, snsClient = clients.SES, clients.SNS
	}
	return dn.NewHandler(dcfg, be.store, be.contacts, sesClient, snsClient, log)
}

// startJobWorkers opens one Zeebe job worker per enabled task type and stops them when ctx ends.
func startJobWorkers(ctx context.Context, g *errgroup.Group, cfg *config.Config, log logger.Logger, handlers map[string]camunda.JobHandler) error {
	client, err := retry.Value(ctx, retry.StartupPolicy, func(ctx context.Context) (*camunda.Client, error) {
		c, err := camunda.NewClient(ctx, cfg.Camunda)
		if err != nil {
			log.Warn("Zeebe not ready, retrying", map[string]interface{}{"error": err.Error()})
		}
		return c, err
	})
	if err != nil {
		return fmt.Errorf("zeebe client failed after retries: %w", err)
	}
	log.Info("Zeebe client connected", map[string]interface{}{"broker": cfg.Camunda.BrokerAddress})

	var workers []*camunda.Worker
	for taskType, handler := range handlers {
		if !config.IsWorkerEnabled(cfg, taskType) {
			log.Info("Worker disabled", map[string]interface{}{"taskType": taskType})
			continue
		}
		wc := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(
			client.GetClient(), taskType, wc.MaxJobsActive, config.GetDuration(wc.Timeout), handler, log))
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, w := range workers {
			w.Stop()
		}
		return client.Close()
	})
	return nil
}

// runEvery calls fn immediately and then on every tick until ctx ends. Failures are logged and
// the loop keeps going.
func runEvery(ctx context.Context, interval time.Duration, name string, log logger.Logger, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Warn("Periodic task failed", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
