package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantlab/backtest-hub/src/dbutils"
	"github.com/quantlab/backtest-hub/src/engine"
	"github.com/quantlab/backtest-hub/src/eventpubsub"
	"github.com/quantlab/backtest-hub/src/handler"
	"github.com/quantlab/backtest-hub/src/mail"
	"github.com/quantlab/backtest-hub/src/services"
	"github.com/quantlab/backtest-hub/src/utils"
)

type ServerConfigYAML struct {
	Port       string `yaml:"port"`
	AppBaseURL string `yaml:"app_base_url"`
	Mail       struct {
		Host       string `yaml:"host"`
		Port       string `yaml:"port"`
		From       string `yaml:"from"`
		AdminEmail string `yaml:"admin_email"`
	} `yaml:"mail"`
}

func loadServerConfig(projectsDir string) (*ServerConfigYAML, error) {
	configPath := filepath.Join(projectsDir, "backtest-hub", "src", "server-config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}

	var config ServerConfigYAML
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	if config.Port == "" {
		config.Port = "8080"
	}

	return &config, nil
}

var runCmd = &cobra.Command{
	Use:   "go run src/cmd/server/main.go",
	Short: "Run the backtest hub API server",
	Run: func(cmd *cobra.Command, args []string) {
		goEnv, err := cmd.Flags().GetString("env")
		if err != nil {
			log.Fatalf("error getting env: %v", err)
		}

		if err := run(goEnv); err != nil {
			log.Fatalf("Error: %v", err)
		}
	},
}

func run(goEnv string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectsDir := os.Getenv("PROJECTS_DIR")
	if projectsDir == "" {
		return fmt.Errorf("missing PROJECTS_DIR environment variable")
	}

	if err := utils.InitEnvironmentVariables(projectsDir, goEnv); err != nil {
		return fmt.Errorf("failed to init environment variables: %w", err)
	}

	config, err := loadServerConfig(projectsDir)
	if err != nil {
		return err
	}

	postgresURL, err := utils.GetEnv("POSTGRES_URL")
	if err != nil {
		return err
	}

	db, err := dbutils.InitPostgresWithUrl(postgresURL)
	if err != nil {
		return fmt.Errorf("failed to init postgres: %w", err)
	}

	engineURL, err := utils.GetEnv("ENGINE_URL")
	if err != nil {
		return err
	}

	engineToken, err := utils.GetEnv("ENGINE_API_TOKEN")
	if err != nil {
		return err
	}

	eventpubsub.Init()

	store := services.NewDatabaseService(db)
	auth := services.NewAuthService(store)

	engineClient := engine.NewClient(engineURL, func() string { return engineToken })
	backtests := services.NewBacktestService(store, engineClient, engine.DefaultRetryPolicy, engine.NewScheduler())

	notifier := mail.NewNotifier(mail.Config{
		Host:       config.Mail.Host,
		Port:       config.Mail.Port,
		Username:   os.Getenv("SMTP_USERNAME"),
		Password:   os.Getenv("SMTP_PASSWORD"),
		From:       config.Mail.From,
		AdminEmail: config.Mail.AdminEmail,
		AppBaseURL: config.AppBaseURL,
	}, store)

	if err := notifier.RegisterSubscribers(); err != nil {
		return fmt.Errorf("failed to register mail subscribers: %w", err)
	}

	router := mux.NewRouter()
	handler.NewApiHandler(auth, backtests).SetupRouter(router)

	srv := &http.Server{
		Handler: router,
		Addr:    fmt.Sprintf(":%s", config.Port),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		log.Infof("listening on :%s", config.Port)
		if err := srv.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)

	log.Info("Main: init complete")

	// Block here until program is shut down
	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("failed to shut down server: %v", err)
	}

	backtests.StopAll()
	eventpubsub.WaitAsync()

	log.Info("Main: gracefully stopped!")

	return nil
}

func main() {
	runCmd.PersistentFlags().String("env", "development", "The environment to run in.")
	runCmd.Execute()
}
