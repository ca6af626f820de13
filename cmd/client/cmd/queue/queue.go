package queue

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/internal/domain/payload"
	domain "reliefsync/internal/domain/queue"
)

var (
	listType   string
	listStatus string
	sortBy     string
	order      string
	limit      int
	offset     int
)

// QueueCmd - управление очередью синхронизации
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь синхронизации",
	Long: `Просмотр и обслуживание очереди локальных изменений.

Статус элемента вычисляется при каждом чтении: pending, retrying, failed, max_retries.`,
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Элементы очереди",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		filter := domain.Filter{
			Type:   payload.Type(listType),
			Status: domain.Status(listStatus),
			SortBy: domain.SortField(sortBy),
			Order:  domain.SortOrder(order),
			Offset: offset,
			Limit:  limit,
		}
		if filter.Type != "" {
			if err := filter.Type.Validate(); err != nil {
				return err
			}
		}

		items := env.App.Queue().GetItems(cmd.Context(), filter)
		return env.Printer.Print(items, entriesView(items))
	},
}

var MetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Сводка по очереди",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		m := env.App.Queue().GetMetrics(cmd.Context())
		return env.Printer.Print(m, cli.View{Text: func(w io.Writer) {
			fmt.Fprintln(w, "📊 Очередь:")
			fmt.Fprintf(w, "  Всего: %d\n", m.Total)
			fmt.Fprintf(w, "  %s: %d\n", cli.Status(string(domain.StatusPending)), m.Pending)
			fmt.Fprintf(w, "  %s: %d\n", cli.Status(string(domain.StatusRetrying)), m.Retrying)
			fmt.Fprintf(w, "  %s: %d\n", cli.Status(string(domain.StatusFailed)), m.Failed)
			fmt.Fprintf(w, "  %s: %d\n", cli.Status(string(domain.StatusMaxRetries)), m.MaxRetries)
			fmt.Fprintf(w, "  Среднее число попыток: %.2f\n", m.AvgRetryAttempts)
			fmt.Fprintf(w, "  Самый старый pending: %s\n", cli.FormatTime(m.OldestPending))
			for _, typ := range payload.Types {
				fmt.Fprintf(w, "  %s: %d\n", typ.DisplayName(), m.ByType[typ])
			}
			for _, a := range payload.Actions {
				fmt.Fprintf(w, "  %s: %d\n", a, m.ByAction[a])
			}
		}})
	},
}

var RetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Вернуть исчерпавшие попытки элементы в очередь",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		return count(env.Printer, "reset", env.App.Store().RetryFailedItems(cmd.Context()))
	},
}

var ClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Удалить элементы, исчерпавшие попытки",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		return count(env.Printer, "removed", env.App.Store().ClearFailedItems(cmd.Context()))
	},
}

var ClearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Удалить элементы уже синхронизированных сущностей",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		return count(env.Printer, "removed", env.App.Queue().ClearCompletedItems(cmd.Context()))
	},
}

var PrioritizeCmd = &cobra.Command{
	Use:   "prioritize <uuid> <priority>",
	Short: "Изменить приоритет элемента",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("некорректный приоритет: %w", err)
		}

		if !env.App.Queue().PrioritizeItem(cmd.Context(), args[0], p) {
			return fmt.Errorf("элемент %s не найден", args[0])
		}
		return count(env.Printer, "updated", 1)
	},
}

var ReprioritizeCmd = &cobra.Command{
	Use:   "reprioritize <type> <priority>",
	Short: "Изменить приоритет всех элементов вида",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		typ := payload.Type(args[0])
		if err := typ.Validate(); err != nil {
			return err
		}
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("некорректный приоритет: %w", err)
		}
		return count(env.Printer, "updated", env.App.Queue().ReprioritizeType(cmd.Context(), typ, p))
	},
}

func count(p *cli.Printer, key string, n int) error {
	return p.Print(map[string]int{key: n}, cli.View{Text: func(w io.Writer) {
		fmt.Fprintf(w, "Элементов: %d (%s)\n", n, key)
	}})
}

func entriesView(items []domain.Entry) cli.View {
	return cli.View{
		Text: func(w io.Writer) {
			if len(items) == 0 {
				fmt.Fprintln(w, "Очередь пуста")
				return
			}
			fmt.Fprintf(w, "Найдено элементов: %d\n\n", len(items))
			for i, it := range items {
				fmt.Fprintf(w, "%d. [%s] %s %s %s\n", i+1, cli.Status(string(it.Status)), it.Action, it.Type, it.EntityUUID)
				fmt.Fprintf(w, "   UUID: %s | Приоритет: %d | Попыток: %d | Повтор: %s\n",
					it.UUID, it.Priority, it.Attempts, cli.FormatTime(it.NextRetry))
				if it.Error != "" {
					fmt.Fprintf(w, "   Ошибка: %s\n", it.Error)
				}
			}
		},
		Table: func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "UUID\tСтатус\tДействие\tВид\tСущность\tПриоритет\tПопыток\tОшибка\t")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t\n",
					it.UUID, it.Status, it.Action, it.Type, it.EntityUUID, it.Priority, it.Attempts, cli.Truncate(it.Error, 40))
			}
		},
	}
}

func init() {
	ListCmd.Flags().StringVarP(&listType, "type", "t", "", "фильтр по виду сущности")
	ListCmd.Flags().StringVarP(&listStatus, "status", "s", "", "фильтр по статусу (pending, retrying, failed, max_retries)")
	ListCmd.Flags().StringVar(&sortBy, "sort", string(domain.SortByPriority), "поле сортировки (priority, timestamp, attempts)")
	ListCmd.Flags().StringVar(&order, "order", string(domain.OrderDesc), "направление сортировки (asc, desc)")
	ListCmd.Flags().IntVar(&limit, "limit", 50, "ограничение количества элементов")
	ListCmd.Flags().IntVar(&offset, "offset", 0, "смещение для пагинации")

	QueueCmd.AddCommand(ListCmd, MetricsCmd, RetryCmd, ClearFailedCmd, ClearCompletedCmd, PrioritizeCmd, ReprioritizeCmd)
}
