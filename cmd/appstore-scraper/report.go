package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-appstore/models"
	"github.com/aluiziolira/go-scrape-appstore/parser"
	"github.com/aluiziolira/go-scrape-appstore/pipeline"
)

var reportCmd = &cobra.Command{
	Use:   "report FILE",
	Short: "Prints a CSV written by scrape as a table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := pipeline.ReadCSV(args[0])
		if err != nil {
			return err
		}
		renderReport(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func renderReport(out io.Writer, records []models.GameRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(out)

	header := make(table.Row, 0, len(models.CSVHeader))
	for _, column := range models.CSVHeader {
		header = append(header, column)
	}
	t.AppendHeader(header)

	free := 0
	for i := range records {
		row := make(table.Row, 0, len(models.CSVHeader))
		for _, value := range records[i].Row() {
			row = append(row, value)
		}
		t.AppendRow(row)
		if parser.IsFreeToPlay(&records[i]) {
			free++
		}
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("Games: %d", len(records)),
		fmt.Sprintf("Free: %d", free),
		fmt.Sprintf("Paid: %d", len(records)-free),
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
