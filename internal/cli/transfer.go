package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/restclient"
)

func (a *App) activityCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity [kind id]",
		Short: "Show the recent activity feed, or the log of one entity",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts no arguments or <kind> <id>, received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entries []domain.ActivityEntry
				err     error
			)
			if len(args) == 2 {
				kind, id, perr := parseKindAndID(args[0], args[1])
				if perr != nil {
					return perr
				}
				entries, err = a.client.Resource(kind).Activities(cmd.Context(), id)
			} else {
				entries, err = a.client.RecentActivity(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []domain.ActivityEntry{}
			}
			return render(cmd.OutOrStdout(), a.format, entries, activityTable(entries))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of feed entries")
	return cmd
}

func activityTable(entries []domain.ActivityEntry) tableData {
	data := tableData{Headers: []string{"When", "Kind", "ID", "Name", "Action", "Actor", "Changes"}}
	for _, e := range entries {
		data.Rows = append(data.Rows, []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Kind.Singular(),
			strconv.FormatInt(e.EntityID, 10),
			e.EntityName,
			string(e.Action),
			e.Actor,
			strings.Join(domain.SummarizeChanges(e.Changes), "; "),
		})
	}
	return data
}

func (a *App) exportCommand() *cobra.Command {
	var (
		format   string
		file     string
		search   string
		ordering string
		filters  map[string]string
	)
	cmd := &cobra.Command{
		Use:   "export <kind>",
		Short: "Download a kind as CSV, XLSX or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			exportFormat, err := domain.ParseExportFormat(format)
			if err != nil {
				return err
			}
			data, _, err := a.client.Resource(kind).Export(cmd.Context(), exportFormat, restclient.ListParams{
				Search:   search,
				Ordering: ordering,
				Filters:  filters,
			})
			if err != nil {
				return err
			}
			if file == "" || file == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(file, data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			a.logger.Info().Str("file", file).Int("bytes", len(data)).Msg("export saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv, xlsx, json")
	cmd.Flags().StringVarP(&file, "file", "f", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&search, "search", "", "text search")
	cmd.Flags().StringVar(&ordering, "ordering", "", "sort field, prefix with - for descending")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "exact field filters")
	return cmd
}

func (a *App) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <kind> <file>",
		Short: "Bulk create entities from a CSV, XLSX or JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := a.client.Resource(kind).BulkCreateFile(cmd.Context(), filepath.Base(args[1]), f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if err := render(w, a.format, result, bulkTable(result)); err != nil {
				return err
			}
			if a.format == FormatTable {
				fmt.Fprintf(w, "Created %d, failed %d\n", result.Created, result.Failed)
			}
			return nil
		},
	}
}

func bulkTable(result domain.BulkCreateResult) tableData {
	data := tableData{Headers: []string{"Row", "Field", "Message"}}
	for _, e := range result.Errors {
		data.Rows = append(data.Rows, []string{strconv.Itoa(e.Row), e.Field, e.Message})
	}
	return data
}
