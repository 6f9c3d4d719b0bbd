package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitInput(t *testing.T) {
	tests := []struct {
		line     string
		question string
		urls     []string
	}{
		{"What moved oil prices today?", "What moved oil prices today?", nil},
		{
			"Why did shares fall? https://a.example/story",
			"Why did shares fall?",
			[]string{"https://a.example/story"},
		},
		{
			"https://a.example/1, https://b.example/2 compare the two, briefly",
			"compare the two, briefly",
			[]string{"https://a.example/1", "https://b.example/2"},
		},
		{"https://a.example/1,https://b.example/2", "", []string{"https://a.example/1", "https://b.example/2"}},
	}

	for _, tt := range tests {
		question, urls := splitInput(tt.line)
		assert.Equal(t, tt.question, question)
		assert.Equal(t, tt.urls, urls)
	}
}

func TestSplitURLs(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitURLs(" https://a.example, ,https://b.example "))
	assert.Nil(t, splitURLs(""))
}
