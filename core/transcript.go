package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	. "github.com/stevegt/goadapt"

	"github.com/stevegt/chatbook/client"
)

// Transcript is a chat saved as a plain text file.  The first line of
// the file is a json header holding the Transcript struct.  The rest
// of the file is the conversation in the following format:
//
// <ROLE>:\n<message>\n\n
//
// ...where <ROLE> is either "USER" or "ASSISTANT", and <message> is
// the text of the turn.  The last turn in the file is the most recent.
// A message line that would read as a role line, or that starts with
// a backslash, is written with a leading backslash.
//
// An open Transcript holds an exclusive lock on <path>.lock until
// Close.
type Transcript struct {
	Version string
	Model   string `json:",omitempty"`
	// Session is the store id the conversation is kept under, so
	// reopening the file continues the same stored session.
	Session string `json:",omitempty"`
	Created time.Time
	// Backup keeps the previous file as <name>.<timestamp>.<ext> on
	// every save.
	Backup bool `json:"-"`

	path string
	lock *flock.Flock
}

// OpenTranscript locks and loads the transcript at path.  A missing
// file yields an empty transcript that is created on the first Save.
func OpenTranscript(path string) (t *Transcript, turns []client.ChatMsg, err error) {
	var lock *flock.Flock
	// runs after Return has turned any panic into err
	defer func() {
		if err != nil && lock != nil {
			lock.Unlock()
			t = nil
		}
	}()
	defer Return(&err)
	Assert(path != "", "transcript path is required")
	lock = flock.New(path + ".lock")
	locked, err := lock.TryLock()
	Ck(err)
	if !locked {
		lock = nil
		err = fmt.Errorf("transcript %s is in use by another process", path)
		return
	}
	t = &Transcript{path: path, lock: lock}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		Debug("new transcript %s", path)
		t.Version = Version
		t.Created = time.Now().UTC()
		return t, nil, nil
	}
	Ck(err)
	header, body, _ := strings.Cut(string(buf), "\n")
	err = json.Unmarshal([]byte(header), t)
	Ck(err, "%s: bad header line", path)
	turns = ParseTranscript(body)
	Debug("loaded %d turns from %s", len(turns), path)
	return
}

// Path returns the transcript's file name.
func (t *Transcript) Path() string {
	return t.path
}

// Save replaces the file with turns.  The new content is written to a
// temp file next to the transcript and renamed into place.
func (t *Transcript) Save(turns []client.ChatMsg) (err error) {
	defer Return(&err)
	Assert(t.lock != nil, "transcript %s is closed", t.path)
	t.Version = Version
	buf, err := json.Marshal(t)
	Ck(err)
	dir := filepath.Dir(t.path)
	fh, err := os.CreateTemp(dir, ".chatbook-*")
	Ck(err)
	defer os.Remove(fh.Name())
	_, err = fh.Write(append(buf, '\n'))
	Ck(err)
	_, err = fh.WriteString(FormatTranscript(turns))
	Ck(err)
	err = fh.Close()
	Ck(err)

	if t.Backup {
		_, err = os.Stat(t.path)
		if err == nil {
			backup := backupName(t.path, time.Now())
			err = os.Rename(t.path, backup)
			Ck(err)
			Debug("backed up %s to %s", t.path, backup)
		}
		err = nil
	}
	err = os.Rename(fh.Name(), t.path)
	Ck(err)
	Debug("transcript saved to %s", t.path)
	return
}

// Close releases the lock.
func (t *Transcript) Close() (err error) {
	if t.lock == nil {
		return
	}
	err = t.lock.Unlock()
	t.lock = nil
	return
}

// backupName inserts a timestamp before the file extension.
func backupName(path string, now time.Time) string {
	ts := now.Format("20060102-150405")
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + ts + ext
}

// FormatTranscript returns turns in transcript text format.  Empty
// turns are skipped.
func FormatTranscript(turns []client.ChatMsg) (txt string) {
	var sb strings.Builder
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		lines := strings.Split(turn.Content, "\n")
		for i, line := range lines {
			if roleLine.MatchString(line) || strings.HasPrefix(line, `\`) {
				lines[i] = `\` + line
			}
		}
		sb.WriteString(Spf("%s:\n%s\n\n", strings.ToUpper(fixRole(turn.Role)), strings.Join(lines, "\n")))
	}
	return sb.String()
}

var roleLine = regexp.MustCompile(`^(USER|ASSISTANT|MODEL|AI):(.*)$`)

// ParseTranscript parses transcript text.  Text before the first role
// line is credited to the user.  One leading backslash is removed from
// every other line.
func ParseTranscript(txt string) (turns []client.ChatMsg) {
	var turn *client.ChatMsg
	var lines []string
	flush := func() {
		if turn == nil {
			return
		}
		turn.Content = strings.TrimRight(strings.Join(lines, "\n"), "\n")
		turns = append(turns, *turn)
	}
	for _, line := range strings.Split(txt, "\n") {
		m := roleLine.FindStringSubmatch(line)
		if len(m) > 0 {
			flush()
			turn = &client.ChatMsg{Role: fixRole(m[1])}
			lines = nil
			if first := strings.TrimSpace(m[2]); first != "" {
				lines = append(lines, first)
			}
			continue
		}
		if turn == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			// preamble
			turn = &client.ChatMsg{Role: client.RoleUser}
		}
		lines = append(lines, strings.TrimPrefix(line, `\`))
	}
	flush()
	return
}

// fixRole maps the role names found in files and provider replies to
// ours.
func fixRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case client.RoleUser:
		return client.RoleUser
	default:
		return client.RoleAssistant
	}
}
