package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/cmd/client/cmd/conflict"
	"reliefsync/cmd/client/cmd/entity"
	"reliefsync/cmd/client/cmd/queue"
	"reliefsync/cmd/client/cmd/sync"
	"reliefsync/internal/app/client"
	"reliefsync/internal/app/client/config"
	"reliefsync/internal/utils/logger"
)

var (
	cfgFile    string
	serverURL  string
	jsonOutput bool
	format     string
	offline    bool
	noColor    bool

	app *client.App
)

var rootCmd = &cobra.Command{
	Use:   "reliefsync",
	Short: "ReliefSync - офлайн-клиент синхронизации данных реагирования",
	Long: `ReliefSync записывает оценки, ответы и объекты локально и
синхронизирует их с сервером, когда появляется сеть.

Все изменения сначала попадают в локальную очередь, конфликты версий
разрешаются автоматически и сохраняются в журнале.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	closeApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}
	if jsonOutput {
		format = cli.FormatJSON
	}

	printer, err := cli.NewPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	cli.SetupColor(os.Stdout, noColor)

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	// журнал пишется в файл, stdout остается для вывода команд
	log := logger.NewFile(cfg.Env, cfg.LogFile)

	app, err = client.New(cfg, log, client.Options{Offline: offline})
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	cmd.SetContext(cli.WithEnv(cmd.Context(), &cli.Env{App: app, Printer: printer}))
	return nil
}

func closeApp() {
	if app == nil {
		return
	}
	if err := app.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка закрытия хранилища: %v\n", err)
	}
	app = nil
}

func init() {
	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес сервера ReliefSync")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", cli.FormatText, "формат вывода (text, table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "работать без обращений к серверу")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "отключить цветной вывод")

	rootCmd.AddCommand(entity.EntityCmd, queue.QueueCmd, sync.SyncCmd, conflict.ConflictCmd)
}
