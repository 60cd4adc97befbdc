// Package app provides application bootstrapping with Cobra, Viper, and Pflag.
//
// This package provides a unified way to:
//   - Define a root command and subcommands sharing one options tree
//   - Load configuration from .env, config files, environment variables and
//     flags using Viper
//   - Complete and validate options before any run function executes
//
// Usage:
//
//	app := app.NewApp(
//	    app.WithName("finrag"),
//	    app.WithDescription("FinTech RAG service"),
//	    app.WithOptions(opts),
//	    app.WithRunFunc(run),
//	    app.WithCommands(indexCmd),
//	)
//	app.Run()
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/kart-io/logger"
	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliapp "github.com/kart-io/finrag/pkg/app"
	"github.com/kart-io/finrag/pkg/app/cliflag"
)

// App is the main application structure.
type App struct {
	name        string
	shortDesc   string
	description string
	options     cliapp.CliOptions
	runFunc     RunFunc
	commands    []*Command
	cmd         *cobra.Command
	args        cobra.PositionalArgs
	viper       *viper.Viper
	dotEnvFiles []string
	silence     bool
	noVersion   bool
	noConfig    bool
	watchConfig bool
}

// RunFunc is the application's run function.
type RunFunc func() error

// Command is a subcommand that shares the application options.
type Command struct {
	Use   string
	Short string
	Long  string
	Args  cobra.PositionalArgs
	Run   func(args []string) error
}

// Option configures an App.
type Option func(*App)

// WithName sets the application name. It is also the config file name and
// the environment variable prefix.
func WithName(name string) Option {
	return func(a *App) {
		a.name = name
	}
}

// WithShortDescription sets the short description.
func WithShortDescription(desc string) Option {
	return func(a *App) {
		a.shortDesc = desc
	}
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions sets the CLI options.
func WithOptions(opts cliapp.CliOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the run function of the root command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithCommands adds subcommands.
func WithCommands(cmds ...*Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithArgs sets the positional args validation of the root command.
func WithArgs(args cobra.PositionalArgs) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithDotEnv sets the .env files loaded before configuration. Missing files
// are ignored. Defaults to ".env".
func WithDotEnv(files ...string) Option {
	return func(a *App) {
		a.dotEnvFiles = files
	}
}

// WithWatchConfig logs changes of the loaded config file. Changes are not
// applied to a running process.
func WithWatchConfig() Option {
	return func(a *App) {
		a.watchConfig = true
	}
}

// WithSilence disables usage and error printing.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithNoVersion disables version flag.
func WithNoVersion() Option {
	return func(a *App) {
		a.noVersion = true
	}
}

// WithNoConfig disables config file loading.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// NewApp creates a new application instance.
func NewApp(opts ...Option) *App {
	a := &App{
		name:        filepath.Base(os.Args[0]),
		viper:       viper.New(),
		dotEnvFiles: []string{".env"},
	}

	for _, opt := range opts {
		opt(a)
	}

	a.buildCommand()
	return a
}

// buildCommand creates the cobra command tree.
func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:   a.name,
		Short: a.shortDesc,
		Long:  a.description,
		Args:  a.args,
		// Always silence usage on errors - users can use --help to see usage
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.prepare(cmd); err != nil {
				return err
			}
			if a.runFunc != nil {
				return a.runFunc()
			}
			return nil
		},
	}

	if a.silence {
		cmd.SilenceErrors = true
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	a.addGlobalFlags(cmd)

	// Option flags are persistent so every subcommand accepts them.
	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
		fss.AddTo(cmd.PersistentFlags())
		a.setUsage(cmd, fss)
	}

	for _, sub := range a.commands {
		cmd.AddCommand(a.buildSubCommand(sub))
	}

	a.cmd = cmd
}

func (a *App) buildSubCommand(sub *Command) *cobra.Command {
	return &cobra.Command{
		Use:          sub.Use,
		Short:        sub.Short,
		Long:         sub.Long,
		Args:         sub.Args,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.prepare(cmd); err != nil {
				return err
			}
			return sub.Run(args)
		},
	}
}

// setUsage prints option flags grouped by section.
func (a *App) setUsage(cmd *cobra.Command, fss cliflag.NamedFlagSets) {
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		out := c.OutOrStderr()
		fmt.Fprintf(out, "Usage:\n  %s\n", c.UseLine())
		if c.HasAvailableSubCommands() {
			fmt.Fprintf(out, "\nAvailable Commands:\n")
			for _, sub := range c.Commands() {
				if sub.IsAvailableCommand() {
					fmt.Fprintf(out, "  %-12s %s\n", sub.Name(), sub.Short)
				}
			}
		}
		fmt.Fprintf(out, "\nGlobal flags:\n\n%s", c.InheritedFlags().FlagUsages()+c.LocalNonPersistentFlags().FlagUsages())
		cliflag.PrintSections(out, fss, 0)
		return nil
	})
}

// addGlobalFlags adds global flags to the command.
func (a *App) addGlobalFlags(cmd *cobra.Command) {
	if !a.noConfig {
		cmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	}

	if !a.noVersion {
		version.AddFlags(cmd.PersistentFlags())
	}

	cmd.PersistentFlags().BoolP("help", "h", false, "Help for "+a.name)
}

// prepare loads configuration, then completes and validates the options.
func (a *App) prepare(cmd *cobra.Command) error {
	// Handle version flag - this will print and exit if --version is set
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}

	if err := a.loadDotEnv(); err != nil {
		return err
	}

	if !a.noConfig {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// loadDotEnv loads .env files without overriding variables already set.
func (a *App) loadDotEnv() error {
	for _, f := range a.dotEnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// loadConfig loads configuration from file, environment, and flags.
// Precedence: changed flag > environment > config file > flag default.
func (a *App) loadConfig(cmd *cobra.Command) error {
	v := a.viper

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), "."+a.name))
		v.AddConfigPath("/etc/" + a.name)
	}

	configLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		configLoaded = false
	}

	expandEnvVars(v)

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(a.name, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if a.options != nil {
		if err := v.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if configLoaded && a.watchConfig {
		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Warnw("Config file changed, restart to apply",
				"file", e.Name,
				"op", e.Op.String(),
			)
		})
		v.WatchConfig()
	}

	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR} and $VAR style environment variables in config values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		expanded := envPattern.ReplaceAllStringFunc(strVal, func(match string) string {
			varName := strings.TrimPrefix(match, "$")
			varName = strings.TrimSuffix(strings.TrimPrefix(varName, "{"), "}")
			if envVal := os.Getenv(varName); envVal != "" {
				return envVal
			}
			return match // 保留原样，如果环境变量不存在
		})
		if expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

// Run executes the application.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command returns the cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper returns the configuration instance of the application.
func (a *App) Viper() *viper.Viper {
	return a.viper
}
