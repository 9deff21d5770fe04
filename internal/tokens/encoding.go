package tokens

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Encoding counts the tokens of a text.
type Encoding interface {
	Count(text string) (int, error)
}

// EncodingLoader loads an encoding by name, e.g. "cl100k_base".
type EncodingLoader func(name string) (Encoding, error)

// modern chat families share the o200k vocabulary.
var o200kFamilies = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o200k"}

// EncodingName returns the encoding used for a model family.
func EncodingName(family string) string {
	f := strings.ToLower(family)
	for _, marker := range o200kFamilies {
		if strings.Contains(f, marker) {
			return string(tokenizer.O200kBase)
		}
	}
	return string(tokenizer.Cl100kBase)
}

// TiktokenLoader loads encodings from the ranks embedded in
// tiktoken-go/tokenizer. It never touches the network.
func TiktokenLoader(name string) (Encoding, error) {
	codec, err := tokenizer.Get(tokenizer.Encoding(name))
	if err != nil {
		return nil, err
	}
	return codec, nil
}
