package entity

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/internal/app/client"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

var (
	entityType string
	dataFile   string
	priority   int
)

// EntityCmd - родительская команда для локальных изменений
var EntityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Локальные изменения оценок, ответов и объектов",
	Long: `Создание, обновление и удаление локальных копий сущностей.

Каждое изменение сохраняется локально и ставится в очередь синхронизации.
Данные передаются в формате JSON через --file (или "-" для stdin).`,
}

func parseType() (payload.Type, error) {
	typ := payload.Type(entityType)
	if err := typ.Validate(); err != nil {
		return "", err
	}
	return typ, nil
}

func queued(p *cli.Printer, action payload.Action, typ payload.Type, uuid, queueID string) error {
	out := map[string]string{
		"action":    string(action),
		"type":      string(typ),
		"queueUuid": queueID,
	}
	if uuid != "" {
		out["entityUuid"] = uuid
	}
	return p.Print(out, cli.View{Text: func(w io.Writer) {
		fmt.Fprintf(w, "✅ %s (%s) поставлено в очередь: %s\n", typ.DisplayName(), action, queueID)
	}})
}

func snapshotView(snaps []*client.Snapshot) cli.View {
	return cli.View{
		Text: func(w io.Writer) {
			if len(snaps) == 0 {
				fmt.Fprintln(w, "Записи не найдены")
				return
			}
			for i, s := range snaps {
				fmt.Fprintf(w, "%d. %s [%s] v%d\n", i+1, s.UUID, cli.Status(string(s.Status)), s.Version)
				if s.Deleted {
					fmt.Fprintln(w, "   Удалена локально")
				}
				fmt.Fprintf(w, "   Изменено: %s | Server ID: %s\n", cli.FormatTime(&s.LastModified), orDash(s.ServerID))
			}
		},
		Table: func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "UUID\tВерсия\tСтатус\tServer ID\tУдалена\tИзменено\t")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\t%s\t\n",
					s.UUID, s.Version, s.Status, orDash(s.ServerID), s.Deleted, cli.FormatTime(&s.LastModified))
			}
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	EntityCmd.PersistentFlags().StringVarP(&entityType, "type", "t", string(payload.TypeEntity), "вид сущности (assessment, response, entity)")

	for _, c := range []*cobra.Command{AddCmd, UpdateCmd, DeleteCmd} {
		c.Flags().IntVarP(&priority, "priority", "p", queue.DefaultPriority, "приоритет синхронизации")
	}
	for _, c := range []*cobra.Command{AddCmd, UpdateCmd} {
		c.Flags().StringVarP(&dataFile, "file", "f", "", "JSON-файл с данными (\"-\" для stdin)")
	}

	EntityCmd.AddCommand(AddCmd, UpdateCmd, DeleteCmd, ListCmd, ShowCmd)
}
