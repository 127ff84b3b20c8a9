package cli

import (
	"bufio"
	"errors"
	"strings"

	"github.com/fatih/color"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/chatbook/client"
	"github.com/stevegt/chatbook/core"
	"github.com/stevegt/chatbook/prompt"
	"github.com/stevegt/chatbook/store"
)

// turn asks one question, printing the reply as it streams in.  A
// fallback reply is printed like any other; the underlying error goes
// to stderr.  So does a failed store write, since the reply was
// still shown.
func turn(bot *core.Chatbot, sess *core.Session, cli *CLI, config *CliConfig, utterance string) (err error) {
	ctx, cancel := turnContext(cli.Timeout)
	defer cancel()
	_, err = bot.AskStream(ctx, sess, utterance, func(frag string) {
		Fpf(config.Stdout, "%s", frag)
	})
	Fpf(config.Stdout, "\n")
	var apiErr *client.ApiError
	if errors.As(err, &apiErr) {
		color.New(color.FgRed).Fprintf(config.Stderr, "error: %v\n", apiErr)
		err = nil
	}
	if errors.Is(err, core.ErrNotSaved) {
		color.New(color.FgYellow).Fprintf(config.Stderr, "warning: %v\n", err)
		err = nil
	}
	return
}

func ask(bot *core.Chatbot, cli *CLI, config *CliConfig) (err error) {
	defer Return(&err)
	question, err := argsOrStdin(cli.Ask.Question, config.Stdin)
	Ck(err)
	Assert(question != "", "ask needs a question")
	sess, err := bot.Session(cli.Ask.Session)
	Ck(err)
	err = turn(bot, sess, cli, config, question)
	Ck(err)
	if cli.Store != store.Memory {
		// so the conversation can be continued with --session
		Fpf(config.Stderr, "session %s\n", sess.ID)
	}
	return
}

// chat runs the interactive loop.  With a transcript file the
// conversation is loaded from it at start and written back after
// every turn.
func chat(bot *core.Chatbot, cli *CLI, config *CliConfig) (err error) {
	defer Return(&err)

	var tr *core.Transcript
	var sess *core.Session
	if cli.Chat.File != "" {
		var turns []client.ChatMsg
		tr, turns, err = core.OpenTranscript(cli.Chat.File)
		Ck(err)
		defer tr.Close()
		tr.Backup = cli.Chat.Backup
		tr.Model = cli.Model
		// the header remembers the store id so reruns continue the
		// same stored session
		sess, err = bot.Resume(tr.Session, turns)
		Ck(err)
		tr.Session = sess.ID
	} else {
		sess, err = bot.Session(cli.Chat.Session)
		Ck(err)
	}
	save := func() error {
		if tr == nil {
			return nil
		}
		return tr.Save(sess.History())
	}

	promptColor := color.New(color.FgGreen, color.Bold)
	hintColor := color.New(color.FgCyan)
	greet := func() {
		hintColor.Fprintln(config.Stdout, core.Welcome)
		for _, s := range core.Suggestions {
			hintColor.Fprintf(config.Stdout, "  - %s\n", s)
		}
	}
	if sess.Len() == 0 {
		greet()
	} else {
		Fpf(config.Stdout, "%d earlier turns loaded\n", sess.Len())
	}

	in := bufio.NewScanner(config.Stdin)
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		promptColor.Fprint(config.Stdout, "> ")
		if !in.Scan() {
			break
		}
		line := in.Text()
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/new":
			err = bot.Reset(sess)
			Ck(err)
			err = save()
			Ck(err)
			greet()
			continue
		}
		err = turn(bot, sess, cli, config, line)
		Ck(err)
		err = save()
		Ck(err)
	}
	err = in.Err()
	Ck(err)
	return
}

// render prints the prompt the next turn would send.  No model is
// contacted.
func render(cli *CLI, config *CliConfig) (err error) {
	defer Return(&err)
	var history []client.ChatMsg
	if cli.Render.File != "" {
		var tr *core.Transcript
		tr, history, err = core.OpenTranscript(cli.Render.File)
		Ck(err)
		tr.Close()
	}
	utterance, err := argsOrStdin(cli.Render.Utterance, config.Stdin)
	Ck(err)
	sysmsg, err := core.LoadSysmsg(cli.SysmsgFile)
	Ck(err)
	r := &prompt.Renderer{
		Sysmsg:        sysmsg,
		MaxChars:      cli.MaxChars,
		Policy:        prompt.Policy(cli.Policy),
		TrimUtterance: cli.TrimUtterance,
	}
	Pl(r.Render(history, utterance))
	return
}

func sessions(cli *CLI, words []string, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	if cli.Store == store.Memory {
		Fpf(config.Stderr, "Error: the memory store keeps nothing between runs; use --store bbolt or sqlite\n")
		return 1, nil
	}
	st, err := store.Open(cli.Store, cli.StorePath)
	Ck(err)
	defer st.Close()
	switch words[1] {
	case "ls":
		var recs []*store.Record
		recs, err = st.List()
		Ck(err)
		for _, rec := range recs {
			first := ""
			if len(rec.Turns) > 0 {
				first = strings.Join(strings.Fields(rec.Turns[0].Content), " ")
				if prompt.Len(first) > 40 {
					first = string([]rune(first)[:40]) + "..."
				}
			}
			Pf("%s  %s  %3d turns  %s\n", rec.ID, rec.Updated.Local().Format("2006-01-02 15:04"), len(rec.Turns), first)
		}
	case "rm":
		for _, id := range cli.Sessions.Rm.Ids {
			err = st.Delete(id)
			Ck(err)
			Debug("removed session %s", id)
		}
	}
	return
}
