package harness

import (
	"strings"

	"github.com/armon/go-radix"
)

// ToneLabel is the coarse tone assigned to an incoming question.
type ToneLabel string

const (
	ToneNeutral ToneLabel = "neutral"
	ToneSarcasm ToneLabel = "sarcasm"
	ToneInsult  ToneLabel = "insult"
)

// ToneClassifier flags sarcastic or insulting questions by keyword containment.
// It is immutable after construction and safe for concurrent use.
type ToneClassifier struct {
	sarcasm *radix.Tree
	insult  *radix.Tree
}

// NewToneClassifier builds a classifier from the two keyword sets. Keywords are lower-cased;
// empty keywords are ignored.
func NewToneClassifier(sarcasmKeywords, insultKeywords []string) *ToneClassifier {
	return &ToneClassifier{
		sarcasm: keywordTree(sarcasmKeywords),
		insult:  keywordTree(insultKeywords),
	}
}

func keywordTree(keywords []string) *radix.Tree {
	tree := radix.New()
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		tree.Insert(kw, struct{}{})
	}
	return tree
}

// Classify returns the tone of text. Sarcasm wins over insult when both match.
func (c *ToneClassifier) Classify(text string) ToneLabel {
	lowered := strings.ToLower(text)

	if containsAny(c.sarcasm, lowered) {
		return ToneSarcasm
	}
	if containsAny(c.insult, lowered) {
		return ToneInsult
	}
	return ToneNeutral
}

// containsAny reports whether some keyword in tree occurs as a substring of s. Any match
// is a prefix of the suffix starting at its offset, so one LongestPrefix probe per byte
// offset covers every keyword.
func containsAny(tree *radix.Tree, s string) bool {
	if tree.Len() == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if _, _, ok := tree.LongestPrefix(s[i:]); ok {
			return true
		}
	}
	return false
}
