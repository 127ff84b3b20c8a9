package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/envi"

	"github.com/stevegt/chatbook/client"
	conf "github.com/stevegt/chatbook/config"
	"github.com/stevegt/chatbook/core"
	"github.com/stevegt/chatbook/prompt"
	"github.com/stevegt/chatbook/store"
	"github.com/stevegt/chatbook/web"
)

type cmdChat struct {
	File    string `arg:"" optional:"" help:"Transcript file; loaded at start and saved after every turn."`
	Session string `short:"s" help:"Resume a stored session by id."`
	Backup  bool   `short:"b" help:"Keep a timestamped copy of the transcript file on every save."`
}

type cmdAsk struct {
	Question []string `arg:"" optional:"" help:"Question to ask; '-' or nothing reads stdin."`
	Session  string   `short:"s" help:"Continue a stored session by id."`
}

type cmdRender struct {
	Utterance []string `arg:"" optional:"" help:"Next user utterance; '-' or nothing reads stdin."`
	File      string   `short:"f" help:"Transcript file holding the prior history."`
}

type cmdTc struct{}

type cmdModels struct{}

type cmdSessionsLs struct{}

type cmdSessionsRm struct {
	Ids []string `arg:"" help:"Session ids to remove."`
}

type cmdSessions struct {
	Ls cmdSessionsLs `cmd:"" help:"List stored sessions, newest first."`
	Rm cmdSessionsRm `cmd:"" help:"Remove stored sessions."`
}

type cmdServe struct {
	Listen string `short:"l" default:"${listen}" help:"Address to listen on."`
}

type cmdVersion struct{}

// CLI is the kong command line.  Flag defaults come from the config
// file and CHATBOOK_* variables.
type CLI struct {
	Model         string        `short:"m" default:"${model}" help:"Model to use; see the models command."`
	Mode          string        `enum:"prompt,messages,session" default:"${mode}" help:"How turns are sent: one rendered prompt, a message list, or a provider chat session."`
	MaxChars      int           `default:"${maxchars}" help:"Prompt budget in characters for prompt mode; 0 means no limit."`
	Policy        string        `enum:"tail,keep-system,none" default:"${policy}" help:"Prompt truncation policy."`
	TrimUtterance bool          `default:"${trim}" help:"Trim whitespace from the new utterance like history turns."`
	SysmsgFile    string        `default:"${sysmsgfile}" help:"File holding the system instruction; the built-in one is used if empty."`
	Store         string        `enum:"memory,bbolt,sqlite" default:"${store}" help:"Session store backend."`
	StorePath     string        `default:"${storepath}" help:"Session store file for bbolt and sqlite."`
	Timeout       time.Duration `default:"${timeout}" help:"Per-turn timeout; 0 means none."`
	BaseURL       string        `default:"${baseurl}" help:"Override the provider API base URL."`
	Verbose       bool          `short:"v" help:"Show debug information on stderr."`

	Chat     cmdChat     `cmd:"" help:"Chat interactively; /new starts over, /quit exits."`
	Ask      cmdAsk      `cmd:"" help:"Ask one question and print the answer."`
	Render   cmdRender   `cmd:"" help:"Print the prompt that would be sent for an utterance."`
	Tc       cmdTc       `cmd:"" help:"Calculate the token count of stdin."`
	Models   cmdModels   `cmd:"" help:"List all available models."`
	Sessions cmdSessions `cmd:"" help:"Manage stored sessions."`
	Serve    cmdServe    `cmd:"" help:"Serve the chat widget over http."`
	Version  cmdVersion  `cmd:"" help:"Show version of chatbook."`
}

// CliConfig contains the configuration for chatbook's cli
type CliConfig struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCliConfig returns a new Config struct with default values populated
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "chatbook",
		Description: "A chat assistant for teachers and students of Informatics.",
		Version:     core.Version,
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
//
// We use this function instead of kong.Parse() so that we can pass in
// the arguments to parse.  This allows us to more easily test the
// cli subcommands.
func Cli(args []string, config *CliConfig) (rc int, err error) {
	defer Return(&err)

	// capture goadapt stdio
	SetStdio(
		config.Stdin,
		config.Stdout,
		config.Stderr,
	)
	defer SetStdio(nil, nil, nil)

	settings, err := conf.Load(envi.String("CHATBOOK_CONFIG", ""))
	Ck(err)

	var cli CLI
	options := []kong.Option{
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"version":    config.Version,
			"model":      settings.Model,
			"mode":       settings.Mode,
			"maxchars":   strconv.Itoa(settings.MaxChars),
			"policy":     settings.Policy,
			"trim":       strconv.FormatBool(settings.TrimUtterance),
			"sysmsgfile": settings.SysmsgFile,
			"store":      settings.Store,
			"storepath":  settings.StorePath,
			"timeout":    settings.Timeout.String(),
			"baseurl":    settings.BaseURL,
			"listen":     settings.Listen,
		},
	}

	var parser *kong.Kong
	parser, err = kong.New(&cli, options...)
	Ck(err)
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	if err != nil {
		// only reached when Exit doesn't exit, e.g. in tests
		return 1, nil
	}

	if cli.Verbose {
		os.Setenv("DEBUG", "1")
	}

	cmd := ctx.Command()
	Debug("cmd: %s", cmd)
	if settings.ConfigFile != "" {
		Debug("config file: %s", settings.ConfigFile)
	}

	words := strings.Fields(cmd)
	switch words[0] {
	case "version":
		Pf("chatbook version %s\n", config.Version)
		Pf("session store schema %s\n", store.SchemaVersion)
		return
	case "models":
		models := core.NewModels()
		// mark the selected model
		_, _ = models.FindModel(cli.Model)
		for _, model := range models.ListModels() {
			Pl(model)
		}
		return
	case "tc":
		// get content from stdin and emit token count on stdout
		var in string
		in, err = readAll(config.Stdin)
		Ck(err)
		var count int
		count, err = prompt.TokenCount(strings.TrimSpace(in))
		Ck(err)
		Pf("%d\n", count)
		return
	case "render":
		err = render(&cli, config)
		Ck(err)
		return
	case "sessions":
		rc, err = sessions(&cli, words, config)
		return
	}

	// everything below talks to a model
	bot, st, err := newChatbot(&cli, settings)
	if errors.Is(err, client.ErrMissingCredential) {
		Fpf(config.Stderr, "Error: %v\n", err)
		return 1, nil
	}
	Ck(err)
	defer st.Close()

	switch words[0] {
	case "ask":
		err = ask(bot, &cli, config)
		Ck(err)
	case "chat":
		err = chat(bot, &cli, config)
		Ck(err)
	case "serve":
		logger := zerolog.New(config.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
		if cli.Verbose {
			logger = logger.Level(zerolog.DebugLevel)
		}
		sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		srv := web.NewServer(bot, logger, cli.Timeout)
		err = srv.ListenAndServe(sctx, cli.Serve.Listen)
		Ck(err)
	default:
		Fpf(config.Stderr, "Error: unrecognized command: %s\n", cmd)
		rc = 1
	}
	return
}

// newChatbot builds the client, store, and chatbot the flags ask
// for.  A missing API key comes back unwrapped so the caller can
// report it.
func newChatbot(cli *CLI, settings *conf.Settings) (bot *core.Chatbot, st store.Store, err error) {
	models := core.NewModels()
	m, err := models.FindModel(cli.Model)
	if err != nil {
		return
	}
	c, err := core.NewClient(context.Background(), m, settings.APIKey(m.Provider), cli.BaseURL)
	if err != nil {
		return
	}
	sysmsg, err := core.LoadSysmsg(cli.SysmsgFile)
	if err != nil {
		return
	}
	st, err = store.Open(cli.Store, cli.StorePath)
	if err != nil {
		return
	}
	bot, err = core.NewChatbot(c, core.Options{
		Sysmsg:        sysmsg,
		Mode:          core.Mode(cli.Mode),
		MaxChars:      cli.MaxChars,
		Policy:        prompt.Policy(cli.Policy),
		TrimUtterance: cli.TrimUtterance,
		Provider:      m.Provider,
		Store:         st,
	})
	if err != nil {
		st.Close()
		st = nil
		return
	}
	Debug("model %s via %s, mode %s, store %s", m.Name, m.Provider, cli.Mode, cli.Store)
	return
}

// turnContext applies --timeout to one turn.
func turnContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func readAll(r io.Reader) (string, error) {
	buf, err := io.ReadAll(r)
	return string(buf), err
}

// argsOrStdin joins args, or reads stdin if args is empty or "-".
func argsOrStdin(args []string, stdin io.Reader) (txt string, err error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		txt, err = readAll(stdin)
		return strings.TrimSpace(txt), err
	}
	return strings.Join(args, " "), nil
}
