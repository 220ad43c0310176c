// Package cli implements the panel command: a terminal front end to the
// REST backend that edits fields through the reconciliation engine.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rpattn/fieldsync/internal/config"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/restclient"
)

// App holds the state shared by all panel commands.
type App struct {
	version string
	out     io.Writer

	configPath string
	baseURL    string
	user       string
	output     string

	cfg    config.Config
	format Format
	logger *zerolog.Logger
	client *restclient.Client
}

// New creates the panel application writing results to out.
func New(version string, out io.Writer) *App {
	if out == nil {
		out = os.Stdout
	}
	return &App{version: version, out: out}
}

// Execute runs the command line in args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "panel",
		Short:   "Browse and edit clients, projects and architects",
		Version: a.version,
		Long: `panel talks to the fieldsync REST API. It lists and shows entities and
edits single fields the way the dashboard's detail panels do: the change is
applied optimistically, sent as a PATCH and rolled back if the server
rejects it.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "directory containing config.yaml")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "API base URL (overrides client.base_url)")
	root.PersistentFlags().StringVar(&a.user, "user", "", "actor recorded in activity logs (overrides client.user)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", "output format: table, json, yaml")

	root.AddCommand(
		a.listCommand(),
		a.showCommand(),
		a.editCommand(),
		a.activityCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.serveCommand(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Client.BaseURL = a.baseURL
	}
	if a.user != "" {
		cfg.Client.User = a.user
	}
	format, err := ParseFormat(a.output)
	if err != nil {
		return err
	}

	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	a.cfg = cfg
	a.format = detectFormat(format, cmd.OutOrStdout())
	a.logger = logging.Default()
	a.client = restclient.New(cfg.Client.BaseURL,
		restclient.WithTimeout(cfg.Client.Timeout),
		restclient.WithToken(cfg.Client.Token),
		restclient.WithUser(cfg.Client.User),
		restclient.WithLogger(a.logger),
	)
	return nil
}

func parseKindAndID(kindArg, idArg string) (domain.Kind, int64, error) {
	kind, err := domain.ParseKind(kindArg)
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid id %q", idArg)
	}
	return kind, id, nil
}
