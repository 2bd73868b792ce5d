package game

import (
	_ "embed"
	"math/rand/v2"
	"strings"
)

//go:embed words.txt
var wordsFile string

var fallbackPrompts = loadWords(wordsFile)

func loadWords(data string) []string {
	var words []string
	for _, line := range strings.Split(data, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			words = append(words, line)
		}
	}
	return words
}

// FallbackPrompt 随机返回一个备用提示词，用于提示词阶段超时
func FallbackPrompt() string {
	return fallbackPrompts[rand.IntN(len(fallbackPrompts))]
}
