package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Форматы вывода
const (
	FormatText  = "text"
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

var Formats = []string{FormatText, FormatTable, FormatJSON, FormatYAML}

const timeLayout = "2006-01-02 15:04:05"

// View описывает человекочитаемое представление значения.
// Если одного из представлений нет, используется другое.
type View struct {
	Text  func(w io.Writer)
	Table func(w *tabwriter.Writer)
}

// Printer выводит результаты команд в выбранном формате
type Printer struct {
	out    io.Writer
	format string
}

func NewPrinter(out io.Writer, format string) (*Printer, error) {
	for _, f := range Formats {
		if f == format {
			return &Printer{out: out, format: format}, nil
		}
	}
	return nil, fmt.Errorf("неизвестный формат вывода: %s", format)
}

func (p *Printer) Out() io.Writer { return p.out }

// Structured сообщает, что вывод предназначен для машин
func (p *Printer) Structured() bool {
	return p.format == FormatJSON || p.format == FormatYAML
}

func (p *Printer) Print(v any, view View) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		return p.printYAML(v)
	case FormatTable:
		if view.Table != nil {
			w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
			view.Table(w)
			return w.Flush()
		}
	}

	if view.Text != nil {
		view.Text(p.out)
		return nil
	}
	if view.Table != nil {
		w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
		view.Table(w)
		return w.Flush()
	}
	_, err := fmt.Fprintln(p.out, v)
	return err
}

// Message печатает строку только в человекочитаемых форматах
func (p *Printer) Message(format string, args ...any) {
	if p.Structured() {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// printYAML проводит значение через JSON, чтобы ключи и сырые данные
// совпадали с JSON-выводом
func (p *Printer) printYAML(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// SetupColor выключает цвета, если вывод не терминал
func SetupColor(f *os.File, disabled bool) {
	color.NoColor = disabled || !term.IsTerminal(int(f.Fd()))
}

// Status раскрашивает статус элемента очереди, снимка или конфликта
func Status(s string) string {
	switch s {
	case "synced", "success", "resolved":
		return color.GreenString(s)
	case "pending":
		return color.YellowString(s)
	case "retrying":
		return color.CyanString(s)
	case "failed", "unresolved":
		return color.RedString(s)
	case "max_retries":
		return color.New(color.FgRed, color.Bold).Sprint(s)
	default:
		return s
	}
}

func Online(online bool) string {
	if online {
		return color.GreenString("online")
	}
	return color.RedString("offline")
}

func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func Truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
