package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/igolaizola/musigen/pkg/cmd/batch"
	"github.com/igolaizola/musigen/pkg/cmd/export"
	"github.com/igolaizola/musigen/pkg/cmd/generate"
	"github.com/igolaizola/musigen/pkg/cmd/migrate"
	"github.com/igolaizola/musigen/pkg/cmd/setting"
	"github.com/igolaizola/musigen/pkg/cmd/web"
	"github.com/igolaizola/musigen/pkg/replicate"
	"github.com/igolaizola/musigen/pkg/service"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/zap"
)

const envPrefix = "MUSIGEN"

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("musigen", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "musigen [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newServeCommand(),
			newGenerateCommand(),
			newBatchCommand(),
			newExportCommand(),
			newMigrateCommand(),
			newSettingCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "musigen version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix(envPrefix),
	}
}

// newLogger builds the process logger. Debug mode switches to the human
// readable development config.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// withLogger sets a logger on *p before running fn.
func withLogger(debug bool, p **zap.Logger, fn func() error) error {
	logger, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("cli: couldn't create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	*p = logger
	return fn()
}

func dbFlags(fs *flag.FlagSet, dbType, dbConn *string) {
	fs.StringVar(dbType, "db-type", "", "db type (sqlite, mysql, postgres), empty disables the track archive")
	fs.StringVar(dbConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
}

// serviceFlags registers the flags shared by every command that generates
// tracks.
func serviceFlags(fs *flag.FlagSet, cfg *service.Config) {
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	dbFlags(fs, &cfg.DBType, &cfg.DBConn)
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type (local, s3), empty disables the audio mirror")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region[@endpoint] for s3")
	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:5000", "public url prefix for files in a local file store")

	fs.StringVar(&cfg.ScratchDir, "scratch-dir", "tmp", "folder for uploaded reference audio")
	fs.IntVar(&cfg.Concurrency, "concurrency", 4, "maximum number of concurrent generations (0 means no limit)")
	fs.DurationVar(&cfg.GenerationTimeout, "generation-timeout", 0, "timeout for each generation request (0 means no timeout)")
	fs.DurationVar(&cfg.PollWait, "poll-wait", 2*time.Second, "wait time between prediction polls")

	fs.StringVar(&cfg.Model, "model", replicate.DefaultModel, "replicate model (owner/name or owner/name:version)")
	fs.StringVar(&cfg.ReplicateURL, "replicate-url", "", "replicate api base url")
	fs.StringVar(&cfg.ReplicateToken, "replicate-token", "", "replicate api token")

	fs.StringVar(&cfg.Translator, "translator", "papago", "translation provider (papago, openai, none)")
	fs.StringVar(&cfg.PapagoID, "papago-id", "", "papago client id")
	fs.StringVar(&cfg.PapagoSecret, "papago-secret", "", "papago client secret")
	fs.StringVar(&cfg.PapagoURL, "papago-url", "", "papago translation endpoint")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "openai api key")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "", "openai model used for translation")
	fs.StringVar(&cfg.OpenAIURL, "openai-url", "", "openai api base url")
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &web.Config{}
	serviceFlags(fs, &cfg.Service)

	fs.StringVar(&cfg.Addr, "addr", ":5000", "address to listen on")
	fsMapVar(fs, &cfg.Volumes, "volumes", nil, "volumes to mount (semicolon separated) Example: ./static:/static;./media:/media")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "start the music generation http service",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Service.Debug, &cfg.Service.Logger, func() error {
				return web.Serve(ctx, cfg)
			})
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}
	serviceFlags(fs, &cfg.Service)

	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.StringVar(&cfg.Description, "description", "", "description of the track, translated before generation")
	fs.StringVar(&cfg.Genres, "genres", "", "genres (comma separated)")
	fs.StringVar(&cfg.Moods, "moods", "", "moods (comma separated)")
	fs.IntVar(&cfg.Duration, "duration", 10, "duration in seconds")
	fs.StringVar(&cfg.InputAudio, "input-audio", "", "reference audio file (optional)")
	fs.StringVar(&cfg.Output, "output", "", "output file or folder (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate a single track and wait for it",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Service.Debug, &cfg.Service.Logger, func() error {
				t, err := generate.Run(ctx, cfg)
				if err != nil {
					return err
				}
				fmt.Println(t.AudioURL)
				return nil
			})
		},
	}
}

func newBatchCommand() *ffcli.Command {
	cmd := "batch"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &batch.Config{}
	serviceFlags(fs, &cfg.Service)

	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.StringVar(&cfg.Input, "input", "", "csv or json with prompts (fields: description,genres,moods,duration,audio; lists separated by |)")
	fs.StringVar(&cfg.Results, "results", "results.csv", "csv file to write results to")
	fs.StringVar(&cfg.Output, "output", "", "folder to download tracks to (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate tracks for every prompt in a file",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Service.Debug, &cfg.Service.Logger, func() error {
				_, err := batch.Run(ctx, cfg)
				return err
			})
		},
	}
}

func newExportCommand() *ffcli.Command {
	cmd := "export"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &export.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	dbFlags(fs, &cfg.DBType, &cfg.DBConn)
	fs.StringVar(&cfg.Type, "type", "", "only export tracks of this type")
	fs.StringVar(&cfg.Output, "output", "tracks.csv", "output csv file")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "export archived tracks to csv",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Debug, &cfg.Logger, func() error {
				_, err := export.Run(ctx, cfg)
				return err
			})
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	dbFlags(fs, &cfg.DBType, &cfg.DBConn)

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "create or update the database tables",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Debug, &cfg.Logger, func() error {
				return migrate.Run(ctx, cfg)
			})
		},
	}
}

func newSettingCommand() *ffcli.Command {
	cmd := "setting"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &setting.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	dbFlags(fs, &cfg.DBType, &cfg.DBConn)
	fs.StringVar(&cfg.Service, "service", "", "replicate, papago or openai")
	fs.StringVar(&cfg.Account, "account", "", "account name (optional)")
	fs.StringVar(&cfg.Value, "value", "", "value to set")
	fs.StringVar(&cfg.Type, "type", "token", "value type (token, id, secret)")
	fs.BoolVar(&cfg.List, "list", false, "list stored settings")
	fs.BoolVar(&cfg.Delete, "delete", false, "delete the setting")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musigen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "manage stored service credentials",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return withLogger(cfg.Debug, &cfg.Logger, func() error {
				return setting.Run(ctx, cfg)
			})
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
