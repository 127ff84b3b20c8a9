package core

import (
	_ "embed"
	"os"
	"strings"

	. "github.com/stevegt/goadapt"
)

// Sysmsg is the default system instruction: the "Chatbook" informatics
// study advisor persona.
//
//go:embed sysmsg/chatbook.md
var Sysmsg string

// Welcome is shown above the suggestions when a conversation is empty.
var Welcome = "Xin chào! Thầy/em cần hỗ trợ gì về môn Tin học (Chương trình 2018)?"

// Suggestions are canned first questions offered on an empty
// conversation.
var Suggestions = []string{
	"Giải thích về 'biến' trong lập trình?",
	"Sự khác nhau giữa RAM và ROM?",
	"Trình bày về an toàn thông tin?",
	"Các bước chèn ảnh vào word",
}

// LoadSysmsg returns the contents of path, or the embedded default if
// path is empty.
func LoadSysmsg(path string) (sysmsg string, err error) {
	defer Return(&err)
	if path == "" {
		return Sysmsg, nil
	}
	buf, err := os.ReadFile(path)
	Ck(err)
	sysmsg = strings.TrimSpace(string(buf))
	Assert(sysmsg != "", "system message file %s is empty", path)
	return
}
