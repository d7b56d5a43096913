package runner

import (
	"context"
	"strings"
	"sync"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/extract"
)

// crawlState is the shared frontier of one job run. The page budget
// counts previously visited pages, so a resumed job never exceeds its
// original maxPages.
type crawlState struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frontier  []string
	seenURLs  map[string]struct{}
	seenItems map[string]struct{}
	pages     int
	inflight  int
	budget    int
	stopped   interruption
}

func newCrawlState(maxPages int, visited map[string]struct{}, urls []string) *crawlState {
	s := &crawlState{
		seenURLs:  make(map[string]struct{}, len(visited)+len(urls)),
		seenItems: make(map[string]struct{}),
		pages:     len(visited),
		budget:    maxPages,
	}
	s.cond = sync.NewCond(&s.mu)
	for u := range visited {
		s.seenURLs[u] = struct{}{}
	}
	for _, u := range urls {
		s.push(u)
	}
	return s
}

// push adds a URL to the frontier if it has not been seen. Caller may
// hold the lock or not; push takes it.
func (s *crawlState) push(rawURL string) {
	canonical, err := crawler.CanonicalURL(rawURL)
	if err != nil {
		return
	}
	key := strings.ToLower(canonical)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seenURLs[key]; seen {
		return
	}
	s.seenURLs[key] = struct{}{}
	s.frontier = append(s.frontier, canonical)
	s.cond.Broadcast()
}

// enqueue feeds a discovered link back into the frontier.
func (s *crawlState) enqueue(rawURL string) {
	s.push(rawURL)
}

// requeue puts an interrupted URL back so a later run retries it.
func (s *crawlState) requeue(rawURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontier = append(s.frontier, rawURL)
	s.cond.Broadcast()
}

// next blocks until a URL is available within budget, the run is
// stopped, or the frontier is exhausted with no fetches in flight.
func (s *crawlState) next(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped != interruptNone || ctx.Err() != nil {
			return "", false
		}
		if s.budget > 0 && s.pages+s.inflight >= s.budget {
			return "", false
		}
		if len(s.frontier) > 0 {
			u := s.frontier[0]
			s.frontier = s.frontier[1:]
			s.pages++
			s.inflight++
			return u, true
		}
		if s.inflight == 0 {
			return "", false
		}
		s.cond.Wait()
	}
}

// done marks one fetch finished and wakes waiters.
func (s *crawlState) done() {
	s.mu.Lock()
	s.inflight--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// wake broadcasts without changing state, so workers re-check their
// context.
func (s *crawlState) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// stop aborts the run with the given reason; the first reason wins.
func (s *crawlState) stop(reason interruption) {
	s.mu.Lock()
	if s.stopped == interruptNone {
		s.stopped = reason
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *crawlState) interruption() interruption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// claimProducts filters out candidates whose identity was already
// claimed on an earlier page of this run. First occurrence wins.
func (s *crawlState) claimProducts(products []crawler.ExtractedProduct) []crawler.ExtractedProduct {
	if len(products) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.ExtractedProduct, 0, len(products))
	for _, p := range products {
		key := extract.Key(p)
		if key != "" {
			if _, dup := s.seenItems[key]; dup {
				continue
			}
			s.seenItems[key] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}
