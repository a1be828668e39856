package quiz

import (
	"strings"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
)

// fallbackPattern maps a known code idiom to one canned quiz.
type fallbackPattern struct {
	match    func(code string) bool
	question string
	options  [3]string
	correct  int // Index into options of the correct answer.
}

var fallbackPatterns = []fallbackPattern{
	{
		match: func(code string) bool {
			return strings.Contains(code, "await ") || strings.Contains(code, "async ")
		},
		question: "Why does this code use async/await instead of plain sequential calls?",
		options: [3]string{
			"So the program can wait for slow operations without blocking everything else",
			"Because async functions always run faster than synchronous ones",
			"Because the language requires every function to be declared async",
		},
		correct: 0,
	},
	{
		match: func(code string) bool {
			return strings.Contains(code, "useEffect(") && strings.Contains(code, "[]")
		},
		question: "Why does the effect hook receive an empty dependency array?",
		options: [3]string{
			"So the effect runs only once when the component first mounts",
			"To prevent the component from ever re-rendering",
			"Because effects without dependencies are removed by the compiler",
		},
		correct: 0,
	},
	{
		match: func(code string) bool {
			return strings.Contains(code, "try") && strings.Contains(code, "catch")
		},
		question: "Why is part of this code wrapped in a try/catch block?",
		options: [3]string{
			"So a failure there can be handled instead of crashing the whole program",
			"To make the wrapped code run in a separate thread",
			"Because the wrapped calls cannot return values otherwise",
		},
		correct: 0,
	},
	{
		match: func(code string) bool {
			return strings.Contains(code, "useState(")
		},
		question: "Why is a state hook used here instead of a plain local variable?",
		options: [3]string{
			"Because changing hook state triggers a re-render while a local variable resets on each render",
			"Because plain variables cannot hold numbers or strings",
			"Because hooks make the variable visible to every other component",
		},
		correct: 0,
	},
}

// fallbackCandidates emits one canned quiz per idiom matched in the source
// text. Used when AI generation fails or returns nothing usable; the output
// goes through the same answer redistribution as generated quizzes.
func fallbackCandidates(code string) []candidate {
	var out []candidate
	for _, p := range fallbackPatterns {
		if !p.match(code) {
			continue
		}
		c := candidate{Question: p.question, CorrectLabel: optionLabels[p.correct]}
		for i, text := range p.options {
			c.Options = append(c.Options, models.QuizOption{Label: optionLabels[i], Text: text})
		}
		out = append(out, c)
	}
	return out
}
