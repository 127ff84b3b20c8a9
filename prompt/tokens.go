package prompt

import (
	"sync"

	. "github.com/stevegt/goadapt"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecErr  error
	codecOnce sync.Once
)

// InitTokenizer loads the cl100k_base encoding.  It is safe to call
// more than once.
func InitTokenizer() (err error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codecErr
}

// TokenCount returns the number of tokens in text.  Counts are an
// estimate for non-OpenAI models, which use their own tokenizers.
func TokenCount(text string) (count int, err error) {
	defer Return(&err)
	err = InitTokenizer()
	Ck(err)
	ids, _, err := codec.Encode(text)
	Ck(err)
	count = len(ids)
	return
}
