package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/newsqa/internal/models"
	"github.com/xhad/newsqa/internal/types"
	"github.com/xhad/newsqa/pkg/llm"
	"github.com/xhad/newsqa/pkg/retriever"
	"github.com/xhad/newsqa/pkg/store"
	"github.com/xhad/newsqa/server"
)

var urlRegex = regexp.MustCompile(`https?://[^\s,]+`)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("urls"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// progressProvider advances bar after every fetch, successful or not.
type progressProvider struct {
	next types.TextProvider
	bar  *progressbar.ProgressBar
}

func (p *progressProvider) Fetch(ctx context.Context, url string) (models.Document, error) {
	doc, err := p.next.Fetch(ctx, url)
	_ = p.bar.Add(1)
	return doc, err
}

func (a *app) ingest(ctx context.Context, urls []string, replace bool) error {
	color.Blue("\nIngesting %d article(s)\n", len(urls))

	bar := getProgressBar(len(urls), "Fetching and embedding")
	r := retriever.New(retriever.RetrieverConfig{}, &progressProvider{next: a.scraper, bar: bar},
		a.chunker, a.embedder, a.store, a.logger.Named("retriever"))

	count, err := r.Ingest(ctx, urls, replace)
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to ingest: %w", err)
	}

	if a.store.Mode() == store.ModeEphemeral {
		color.Yellow("\n! Store is ephemeral; %d chunks will not be kept\n", count)
		return nil
	}
	color.Green("\n✓ Stored %d chunks\n", count)
	return nil
}

func (a *app) chat(ctx context.Context) error {
	// Interactive chat loop with colored output
	color.Cyan("\nAsk about the news (include article URLs to scope the answer, type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	ephemeral := a.store.Mode() == store.ModeEphemeral

	for ctx.Err() == nil {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question, urls := splitInput(scanner.Text())
		if strings.EqualFold(question, "exit") {
			break
		}

		// A line with only URLs ingests them
		if question == "" && len(urls) > 0 {
			if err := a.ingest(ctx, urls, false); err != nil {
				color.Red("%v\n", err)
			}
			continue
		}

		req := server.AskRequest{Question: question, URLs: urls}
		if err := req.Validate(ephemeral); err != nil {
			color.Red("%v\n", err)
			continue
		}

		searchSpinner := getSpinner(" Retrieving context...")
		contexts, err := a.retriever.SelectContext(ctx, req.Question, req.URLs)
		_ = searchSpinner.Finish()
		fmt.Print("\r")
		if err != nil {
			color.Red("Error retrieving context: %v\n", err)
			continue
		}

		if a.config.UI.Streaming {
			responseSpinner := getSpinner(" Thinking...")
			firstChunk := true

			_, err = a.chatEngine.AnswerStream(ctx, req.Question, contexts, func(chunk string) error {
				// Clear spinner on first chunk
				if firstChunk {
					_ = responseSpinner.Finish()
					firstChunk = false
					fmt.Print("\r")
					assistantPrompt("Assistant: ")
				}
				fmt.Print(chunk)
				return nil
			})
			if firstChunk {
				_ = responseSpinner.Finish()
			}
			fmt.Print("\n")
		} else {
			responseSpinner := getSpinner(" Generating response...")
			var answer string
			answer, err = a.chatEngine.Answer(ctx, req.Question, contexts)
			_ = responseSpinner.Finish()
			if err == nil {
				assistantPrompt("\nAssistant: %s\n", answer)
			}
		}
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		printSources(llm.SourceURLs(contexts))
	}

	return nil
}

func printSources(sources []string) {
	if len(sources) == 0 {
		color.Yellow("(no stored context; ingest articles with -urls or paste URLs)")
		return
	}
	color.White("\nSources:")
	for _, s := range sources {
		color.Blue("  - %s", s)
	}
}

// splitInput separates the URLs in a chat line from the question text.
func splitInput(line string) (string, []string) {
	urls := urlRegex.FindAllString(line, -1)
	question := strings.Join(strings.Fields(urlRegex.ReplaceAllString(line, " ")), " ")
	return strings.Trim(question, " ,"), urls
}

// splitURLs parses the -urls flag value.
func splitURLs(s string) []string {
	var urls []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
