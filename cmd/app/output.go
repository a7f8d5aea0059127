package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// printNodeTree prints one line per node, children indented under their
// parent. Collapsed children show only their uuid.
func printNodeTree(n *domain.Node) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NODE\tUUID\tVERSION\tUPDATED_AT")
	writeNode(w, n, "", "")
	_ = w.Flush()
}

func writeNode(w *tabwriter.Writer, n *domain.Node, indent, slot string) {
	label := n.Name
	if label == "" {
		label = "(hidden)"
	}
	if slot != "" {
		label = slot + ": " + label
	}
	if n.Type != "" {
		label += " [" + string(n.Type) + "]"
	}
	version := n.ID
	if version == "" {
		version = "draft"
	}
	_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", indent, label, n.UUID, version, formatTime(n.UpdatedAt))
	for _, c := range n.Fields {
		writeNode(w, c, indent+"  ", "field")
	}
	for _, c := range n.Related {
		writeNode(w, c, indent+"  ", "related")
	}
	for _, c := range n.Subscribed {
		writeNode(w, c, indent+"  ", "subscribed")
	}
}

func printMembers(items []domain.GroupMember) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{string(item.Kind), item.UUID})
	}
	printTable([]string{"KIND", "UUID"}, rows)
}

func printAuditLogs(items []domain.AuditLog) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		at := item.CreatedAt
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			item.TargetKind,
			item.TargetUUID,
			item.Actor,
			item.Metadata,
			formatTime(&at),
		})
	}
	printTable([]string{"ID", "ACTION", "KIND", "TARGET", "ACTOR", "METADATA", "AT"}, rows)
}
