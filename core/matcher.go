package core

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultMatchChunkSize = 256

var tickerPattern = regexp.MustCompile(`\b[A-Z]{3,5}\b`)

// ExtractTickers returns the distinct word-bounded runs of 3 to 5 letters in
// the uppercased title and body, sorted.
func ExtractTickers(title string, body string) []string {
	text := strings.ToUpper(title + " " + body)
	found := tickerPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return []string{}
	}
	return normalizeSet(found, strings.TrimSpace)
}

type matchInput struct {
	spaceID string
	title   string
	body    string
	tickers map[string]struct{}
}

func newMatchInput(event Event) matchInput {
	tickers := ExtractTickers(event.Title, event.Body)
	set := make(map[string]struct{}, len(tickers))
	for _, ticker := range tickers {
		set[ticker] = struct{}{}
	}
	return matchInput{
		spaceID: strings.TrimSpace(event.SpaceID),
		title:   strings.ToLower(event.Title),
		body:    strings.ToLower(event.Body),
		tickers: set,
	}
}

func (in matchInput) matches(sub Subscription) bool {
	if strings.TrimSpace(sub.UserID) == "" || sub.IsEmpty() {
		return false
	}
	for _, project := range sub.Projects {
		if strings.TrimSpace(project) == in.spaceID && in.spaceID != "" {
			return true
		}
	}
	for _, keyword := range sub.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(in.title, keyword) || strings.Contains(in.body, keyword) {
			return true
		}
	}
	if !sub.Tickers || len(in.tickers) == 0 {
		return false
	}
	if len(sub.Symbols) == 0 {
		return true
	}
	for _, symbol := range sub.Symbols {
		if _, ok := in.tickers[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
			return true
		}
	}
	return false
}

// Match returns the sorted set of user ids whose subscription matches the
// event. It has no side effects.
func Match(event Event, subs []Subscription) []string {
	in := newMatchInput(event)
	set := map[string]struct{}{}
	for _, sub := range subs {
		if in.matches(sub) {
			set[strings.TrimSpace(sub.UserID)] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Matches reports whether a single subscription matches the event.
func Matches(event Event, sub Subscription) bool {
	return newMatchInput(event).matches(sub)
}

// Matcher evaluates a subscription sequence in parallel chunks and merges
// the partial results by set-union.
type Matcher struct {
	Workers   int
	ChunkSize int
}

func (m Matcher) MatchAll(ctx context.Context, event Event, subs iter.Seq2[Subscription, error]) ([]string, error) {
	if subs == nil {
		return []string{}, nil
	}
	workers := m.Workers
	if workers <= 0 {
		workers = 1
	}
	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultMatchChunkSize
	}

	in := newMatchInput(event)
	var (
		mu     sync.Mutex
		merged = map[string]struct{}{}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	evaluate := func(chunk []Subscription) {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			local := make([]string, 0, len(chunk))
			for _, sub := range chunk {
				if in.matches(sub) {
					local = append(local, strings.TrimSpace(sub.UserID))
				}
			}
			if len(local) == 0 {
				return nil
			}
			mu.Lock()
			for _, userID := range local {
				merged[userID] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}

	var iterErr error
	chunk := make([]Subscription, 0, chunkSize)
	for sub, err := range subs {
		if err != nil {
			iterErr = fmt.Errorf("core: list subscriptions: %w", err)
			break
		}
		if ctxErr := groupCtx.Err(); ctxErr != nil {
			break
		}
		chunk = append(chunk, sub)
		if len(chunk) == chunkSize {
			evaluate(chunk)
			chunk = make([]Subscription, 0, chunkSize)
		}
	}
	if iterErr == nil && len(chunk) > 0 {
		evaluate(chunk)
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sortedKeys(merged), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
