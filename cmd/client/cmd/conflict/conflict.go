package conflict

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	domain "reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
)

var (
	entityUUID string
	listLimit  int
	strategy   string
	dataFile   string
	days       int
)

// ConflictCmd - журнал конфликтов синхронизации
var ConflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Конфликты синхронизации",
	Long: `Просмотр журнала конфликтов и ручное разрешение.

Журнал хранит последние 100 конфликтов, новые первыми.`,
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Журнал конфликтов",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		records := env.App.Resolver().GetConflictHistory(entityUUID, listLimit)
		return env.Printer.Print(records, recordsView(records))
	},
}

var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Сводка по конфликтам",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		stats := env.App.Resolver().GetConflictStats()
		return env.Printer.Print(stats, cli.View{Text: func(w io.Writer) {
			fmt.Fprintf(w, "Всего: %d\n", stats.Total)
			fmt.Fprintf(w, "Не разрешено: %d\n", stats.Unresolved)
			fmt.Fprintf(w, "Разрешено автоматически: %d\n", stats.AutoResolved)
			fmt.Fprintf(w, "Разрешено вручную: %d\n", stats.ManuallyResolved)
			for _, typ := range payload.Types {
				fmt.Fprintf(w, "  %s: %d\n", typ.DisplayName(), stats.ByType[typ])
			}
			if len(stats.Recent) > 0 {
				fmt.Fprintln(w, "\nПоследние:")
				recordsView(stats.Recent).Text(w)
			}
		}})
	},
}

var ShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Подробности конфликта",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		rec := env.App.Resolver().GetConflict(args[0])
		if rec == nil {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, args[0])
		}
		return env.Printer.Print(rec, cli.View{Text: func(w io.Writer) {
			recordsView([]domain.Record{*rec}).Text(w)
			fmt.Fprintf(w, "   Причина: %s\n", rec.Metadata.ConflictReason)
			fmt.Fprintf(w, "   Локальные данные: %s\n", rec.LocalData)
			fmt.Fprintf(w, "   Серверные данные: %s\n", rec.ServerData)
			if rec.IsResolved {
				fmt.Fprintf(w, "   Итог (%s, %s): %s\n", rec.ResolutionStrategy, rec.ResolvedBy, rec.ResolvedData)
			}
		}})
	},
}

var ResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Разрешить конфликт",
	Long: `Разрешает неразрешенный конфликт выбранной стратегией.

Для стратегии manual итоговые данные передаются через --file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		st, err := domain.ParseStrategy(strategy)
		if err != nil {
			return err
		}

		var manual []byte
		if st == domain.StrategyManual {
			if manual, err = cli.ReadData(dataFile, cmd.InOrStdin()); err != nil {
				return err
			}
		}

		resolver := env.App.Resolver()
		rec := resolver.GetConflict(args[0])
		if rec == nil {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, args[0])
		}

		result := resolver.ResolveConflict(cmd.Context(), rec, st, manual)
		if !result.Success {
			return errors.New("конфликт не разрешен: " + result.Error)
		}
		return env.Printer.Print(result, cli.View{Text: func(w io.Writer) {
			fmt.Fprintf(w, "✅ Конфликт %s разрешен (%s), победила версия %s\n", args[0], result.Strategy, result.Winner)
		}})
	},
}

var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Удалить старые записи журнала",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		n := env.App.Resolver().ClearOldConflicts(cmd.Context(), days)
		return env.Printer.Print(map[string]int{"removed": n}, cli.View{Text: func(w io.Writer) {
			fmt.Fprintf(w, "Удалено записей: %d\n", n)
		}})
	},
}

func recordsView(records []domain.Record) cli.View {
	return cli.View{
		Text: func(w io.Writer) {
			if len(records) == 0 {
				fmt.Fprintln(w, "Конфликтов нет")
				return
			}
			for i, r := range records {
				fmt.Fprintf(w, "%d. %s [%s] %s %s\n", i+1, r.ConflictID, cli.Status(resolution(r)), r.EntityType, r.EntityUUID)
				fmt.Fprintf(w, "   Версии: локальная %d, серверная %d | Стратегия: %s | Создан: %s\n",
					r.LocalVersion, r.ServerVersion, r.ResolutionStrategy, cli.FormatTime(&r.CreatedAt))
			}
		},
		Table: func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ID\tСтатус\tВид\tСущность\tЛокальная\tСерверная\tСтратегия\tСоздан\t")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t\n",
					r.ConflictID, resolution(r), r.EntityType, r.EntityUUID,
					r.LocalVersion, r.ServerVersion, r.ResolutionStrategy, cli.FormatTime(&r.CreatedAt))
			}
		},
	}
}

func resolution(r domain.Record) string {
	if r.IsResolved {
		return "resolved"
	}
	return "unresolved"
}

func init() {
	ListCmd.Flags().StringVarP(&entityUUID, "entity", "e", "", "только конфликты указанной сущности")
	ListCmd.Flags().IntVar(&listLimit, "limit", 0, "ограничение количества записей (0 - все)")

	ResolveCmd.Flags().StringVarP(&strategy, "strategy", "s", string(domain.StrategyManual), "стратегия (last_write_wins, manual, merge)")
	ResolveCmd.Flags().StringVarP(&dataFile, "file", "f", "", "JSON-файл с итоговыми данными для manual (\"-\" для stdin)")

	PruneCmd.Flags().IntVar(&days, "days", domain.DefaultRetentionDays, "удалить записи старше указанного числа дней")

	ConflictCmd.AddCommand(ListCmd, StatsCmd, ShowCmd, ResolveCmd, PruneCmd)
}
