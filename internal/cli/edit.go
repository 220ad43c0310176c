package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/reconcile"
	"github.com/rpattn/fieldsync/internal/store"
)

// editResult is what edit prints in structured formats.
type editResult struct {
	Kind    domain.Kind      `json:"kind"`
	ID      int64            `json:"id"`
	Field   string           `json:"field"`
	Value   any              `json:"value"`
	Outcome string           `json:"outcome"`
	Status  reconcile.Status `json:"status"`
	Entity  map[string]any   `json:"entity"`
}

func (a *App) editCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "edit <kind> <id> <field> <value>",
		Short: "Edit one field inline and save it",
		Long: `edit selects the entity, opens the field, replaces its draft with value
and saves it. The new value is shown immediately and confirmed or rolled back
when the server answers. Multi choice values are comma separated; "null"
clears a field.`,
		Args: cobra.ExactArgs(4),
		Example: `  panel edit clients 1 name "Acme Corp"
  panel edit projects 4 project_type M,E,P
  panel edit architects 2 phone "" --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseKindAndID(args[0], args[1])
			if err != nil {
				return err
			}
			field := args[2]
			value, err := parseFieldValue(kind, field, args[3])
			if err != nil {
				return err
			}
			return a.runEdit(cmd, kind, id, field, value, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the save status clears before exiting")
	return cmd
}

func (a *App) runEdit(cmd *cobra.Command, kind domain.Kind, id int64, field string, value any, wait bool) error {
	ctx := cmd.Context()
	entities := store.New(a.client.Resource(kind), a.logger)
	entity, err := entities.GetByID(ctx, id)
	if err != nil {
		return err
	}

	engine := reconcile.New[int64](entities.UpdateField,
		reconcile.WithStatusDelay(a.cfg.Client.StatusDelay),
		reconcile.WithSaveTimeout(a.cfg.Client.Timeout),
		reconcile.WithLogger(a.logger),
	)
	defer engine.Close()

	engine.Select(reconcile.Snapshot[int64]{ID: id, Fields: entity.Representation()})
	if err := engine.Edit(field); err != nil {
		return err
	}
	if err := engine.Change(field, value); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if a.format == FormatTable {
		var announce sync.Once
		unsubscribe := engine.Subscribe(func(s reconcile.State[int64]) {
			if s.IsSaving(field) {
				announce.Do(func() { fmt.Fprintf(w, "Saving %s...\n", field) })
			}
		})
		defer unsubscribe()
	}
	result, err := engine.Save(ctx, field)
	if err != nil {
		return err
	}

	state := engine.State()
	out := editResult{
		Kind:    kind,
		ID:      id,
		Field:   field,
		Value:   value,
		Outcome: "saved",
		Status:  state.Status,
		Entity:  state.Entity,
	}
	if result.Err != nil {
		out.Outcome = result.Err.Kind.String()
	}

	if err := render(w, a.format, out, fieldTable(kind, state.Entity)); err != nil {
		return err
	}
	if a.format == FormatTable {
		fmt.Fprintf(w, "Status: %s\n", state.Status.Message)
	}

	if wait && state.Status.Shown {
		if err := waitForStatusClear(ctx, engine); err != nil {
			return err
		}
		if a.format == FormatTable {
			fmt.Fprintln(w, "Status cleared")
		}
	}

	if result.Err != nil {
		return result.Err
	}
	return nil
}

// waitForStatusClear blocks until the engine hides its status.
func waitForStatusClear(ctx context.Context, engine *reconcile.Engine[int64]) error {
	cleared := make(chan struct{})
	var once sync.Once
	unsubscribe := engine.Subscribe(func(s reconcile.State[int64]) {
		if !s.Status.Shown {
			once.Do(func() { close(cleared) })
		}
	})
	defer unsubscribe()

	if !engine.State().Status.Shown {
		return nil
	}
	select {
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
