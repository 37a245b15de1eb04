package crisis

import "regexp"

// Reasons reported in Result.Reason.
const (
	ReasonLexical  = "User is expressing suicidal thoughts or self-harm intent"
	ReasonSemantic = "User content indicates severe distress or crisis intent"
)

// lexicalPatterns are matched against the lowercased input, first match wins.
var lexicalPatterns = []string{
	`kill myself`,
	`suicid`,
	`end my life`,
	`want to die`,
	`hurt myself`,
	`slit my wrist`,
	`overdose`,
	`no reason to live`,
	`better off dead`,
}

var lexicalRegexps = compilePatterns(lexicalPatterns)

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DefaultReferencePhrases is the semantic reference set. Changing it, including
// its order, invalidates any cached embeddings.
var DefaultReferencePhrases = []string{
	"I don't want to live anymore",
	"The pain is too much to bear, I want out",
	"I'm planning to end it all",
	"Goodbye everyone, I'm done",
	"There is no hope for me",
	"I am going to jump off a bridge",
	"I have a gun and I'm going to use it",
}
