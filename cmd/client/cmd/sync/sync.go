package sync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/internal/app/client"
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Синхронизация очереди локальных изменений с сервером.

Команда позволяет выполнить проход синхронизации, просмотреть состояние
и запустить фоновое наблюдение за сетью.`,
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Выполнить один проход синхронизации",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		env.Printer.Message("Начало синхронизации...")
		start := time.Now()

		result := env.App.SyncOnce(cmd.Context())
		if result == nil {
			return notSynced(env.App.Store().Snapshot())
		}

		duration := time.Since(start)
		return env.Printer.Print(result, cli.View{Text: func(w io.Writer) {
			printResult(w, result, duration)
		}})
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние сети, очереди и ошибок",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		state := env.App.Status(cmd.Context())
		return env.Printer.Print(state, cli.View{Text: func(w io.Writer) {
			printState(w, state)
		}})
	},
}

var noAuto bool

var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Синхронизировать при появлении сети до Ctrl+C",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if noAuto {
			// сеть отслеживается, но проходы запускаются только вручную
			env.App.Store().SetAutoSync(false)
		}

		env.Printer.Message("Наблюдение за сетью запущено, для выхода нажмите Ctrl+C")
		return env.App.Watch(ctx)
	},
}

func notSynced(state client.State) error {
	for _, e := range state.Errors {
		if !e.Dismissed {
			return fmt.Errorf("синхронизация не выполнена: %s", e.Message)
		}
	}
	return errors.New("синхронизация не выполнена")
}

func printResult(w io.Writer, r *client.BatchResult, duration time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, color.GreenString("✅ Синхронизация завершена!"))
	fmt.Fprintf(w, "Время выполнения: %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Применено на сервере: %d\n", len(r.Successful))

	if len(r.Conflicts) > 0 {
		fmt.Fprintf(w, "Конфликтов: %d\n", len(r.Conflicts))
		for _, c := range r.Conflicts {
			fmt.Fprintf(w, "  • %s %s: победила версия %s (версия сервера %d)\n", c.Type, c.EntityUUID, orDash(string(c.Winner)), c.Version)
		}
	}

	if len(r.Failed) > 0 {
		fmt.Fprintln(w, color.RedString("Ошибок: %d", len(r.Failed)))
		for i, f := range r.Failed {
			if i == 3 {
				fmt.Fprintf(w, "  ... и еще %d\n", len(r.Failed)-3)
				break
			}
			fmt.Fprintf(w, "  • %s %s: %s\n", f.Action, f.EntityUUID, f.Error)
		}
	}

	if len(r.Deferred) > 0 {
		fmt.Fprintf(w, "Отложено до следующего прохода: %d\n", len(r.Deferred))
	}
}

func printState(w io.Writer, s client.State) {
	st := s.Status
	fmt.Fprintln(w, "=== Статус синхронизации ===")
	fmt.Fprintf(w, "Сеть: %s (%s", cli.Online(st.IsOnline), st.ConnectionType)
	if st.EffectiveType != "" {
		fmt.Fprintf(w, ", %s", st.EffectiveType)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Автосинхронизация: %t\n", s.AutoSync)
	fmt.Fprintf(w, "Последняя попытка: %s\n", cli.FormatTime(st.LastSyncAttempt))
	fmt.Fprintf(w, "Последняя успешная: %s\n", cli.FormatTime(st.LastSuccessfulSync))

	m := s.Metrics
	fmt.Fprintf(w, "Очередь: всего %d, pending %d, retrying %d, failed %d, max_retries %d\n",
		m.Total, m.Pending, m.Retrying, m.Failed, m.MaxRetries)

	active := 0
	for _, e := range s.Errors {
		if e.Dismissed {
			continue
		}
		if active == 0 {
			fmt.Fprintln(w, "Ошибки:")
		}
		active++
		fmt.Fprintf(w, "  • [%s] %s %s\n", e.Type, cli.FormatTime(&e.Timestamp), e.Message)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	WatchCmd.Flags().BoolVar(&noAuto, "no-auto", false, "не запускать синхронизацию автоматически")
	SyncCmd.AddCommand(RunCmd, StatusCmd, WatchCmd)
}
