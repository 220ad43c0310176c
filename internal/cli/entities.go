package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/restclient"
	"github.com/rpattn/fieldsync/internal/store"
)

// listColumns caps how many schema fields the list table shows.
const listColumns = 4

func (a *App) listCommand() *cobra.Command {
	var (
		page     int
		pageSize int
		search   string
		ordering string
		active   string
		filters  map[string]string
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List one page of clients, projects or architects",
		Args:  cobra.ExactArgs(1),
		Example: `  panel list clients
  panel list projects --filter status=in_progress --ordering -updated_at
  panel list architects --search smith -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			params := restclient.ListParams{
				Page:     page,
				PageSize: pageSize,
				Search:   search,
				Ordering: ordering,
				Filters:  filters,
			}
			if params.PageSize == 0 {
				params.PageSize = a.cfg.Client.PageSize
			}
			if active != "" {
				b, err := strconv.ParseBool(active)
				if err != nil {
					return err
				}
				params.IsActive = &b
			}

			entities := store.New(a.client.Resource(kind), a.logger)
			result, err := entities.Fetch(cmd.Context(), params)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, result, pageTable(kind, result))
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "rows per page (default client.page_size)")
	cmd.Flags().StringVar(&search, "search", "", "text search")
	cmd.Flags().StringVar(&ordering, "ordering", "", "sort field, prefix with - for descending")
	cmd.Flags().StringVar(&active, "active", "", "filter on is_active (true or false)")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "exact field filters, e.g. status=in_progress")
	return cmd
}

func (a *App) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show every field of one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseKindAndID(args[0], args[1])
			if err != nil {
				return err
			}
			entity, err := store.New(a.client.Resource(kind), a.logger).GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, entity, fieldTable(kind, entity.Representation()))
		},
	}
}

func pageTable(kind domain.Kind, page domain.Page) tableData {
	schema, _ := domain.SchemaFor(kind)
	fields := schema.FieldNames()
	if len(fields) > listColumns {
		fields = fields[:listColumns]
	}
	data := tableData{Headers: append(append([]string{domain.KeyID}, fields...), domain.KeyUpdatedAt)}
	for _, entity := range page.Results {
		row := []string{strconv.FormatInt(entity.ID, 10)}
		for _, field := range fields {
			row = append(row, domain.FormatValue(entity.Fields[field]))
		}
		row = append(row, entity.UpdatedAt.UTC().Format(time.RFC3339))
		data.Rows = append(data.Rows, row)
	}
	return data
}

// fieldTable prints one row per field of a flat representation: the id,
// the schema fields in declaration order and then the bookkeeping keys.
func fieldTable(kind domain.Kind, values map[string]any) tableData {
	schema, _ := domain.SchemaFor(kind)
	keys := append([]string{domain.KeyID}, schema.FieldNames()...)
	keys = append(keys, domain.KeyVersion, domain.KeyCreatedAt, domain.KeyUpdatedAt)

	data := tableData{Headers: []string{"Field", "Value"}}
	for _, key := range keys {
		label := key
		if def, ok := schema.Field(key); ok {
			label = def.DisplayLabel()
		}
		data.Rows = append(data.Rows, []string{label, displayValue(values[key])})
	}
	return data
}

func displayValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return domain.FormatValue(v)
	}
}
